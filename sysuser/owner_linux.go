package sysuser

import (
	"os"
	"syscall"
)

func ownedBy(info os.FileInfo, uid, gid int) bool {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return false
	}
	return int(st.Uid) == uid && int(st.Gid) == gid
}
