// Package systemd renders the process-manager unit for the Whisker Auth
// backend and drives the host's service supervisor over D-Bus.
package systemd

import (
	"bytes"
	"fmt"
	"text/template"
)

// EtcSystemdDir is where generated units are installed.
const EtcSystemdDir = "/etc/systemd/system"

// UnitConfig describes the backend service unit. User must be the account
// that owns the deployed application tree.
type UnitConfig struct {
	Name            string
	Description     string
	User            string
	Group           string
	WorkingDir      string
	EnvironmentFile string
	ExecStart       string
}

var unitTemplate = template.Must(template.New("unit").Parse(`[Unit]
Description={{ .Description }}
After=network.target postgresql.service
Wants=postgresql.service

[Service]
Type=notify
User={{ .User }}
Group={{ .Group }}
WorkingDirectory={{ .WorkingDir }}
EnvironmentFile={{ .EnvironmentFile }}
ExecStart={{ .ExecStart }}
Restart=on-failure
RestartSec=5
NoNewPrivileges=true
PrivateTmp=true
ProtectSystem=full
ProtectHome=true

[Install]
WantedBy=multi-user.target
`))

// UnitFileName returns the on-disk file name for a unit.
func (c UnitConfig) UnitFileName() string {
	return c.Name + ".service"
}

// RenderUnit produces the unit file contents.
func RenderUnit(cfg UnitConfig) ([]byte, error) {
	if cfg.Name == "" || cfg.User == "" || cfg.ExecStart == "" {
		return nil, fmt.Errorf("unit config missing name, user or ExecStart")
	}
	if cfg.Group == "" {
		cfg.Group = cfg.User
	}

	var buf bytes.Buffer
	if err := unitTemplate.Execute(&buf, cfg); err != nil {
		return nil, fmt.Errorf("could not render unit template: %w", err)
	}
	return buf.Bytes(), nil
}

// GunicornExec builds the ExecStart line for the backend: the application
// factory is loaded by gunicorn, bound to the loopback-only port the reverse
// proxy forwards to.
func GunicornExec(appDir string, port, workers int) string {
	return fmt.Sprintf("%s/venv/bin/gunicorn --workers %d --bind 127.0.0.1:%d 'app:create_app()'",
		appDir, workers, port)
}
