// Package backup owns the maintenance artifacts of the deployment: the log
// rotation policy, the scheduled database backup job, and the backup
// execution itself.
package backup

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/whiskerauth/provisioner/hostcmd"
)

// Config describes the backup and log rotation targets.
type Config struct {
	// Database is the PostgreSQL database to dump.
	Database string

	// BackupDir receives timestamped dumps.
	BackupDir string

	// Keep is how many dumps to retain locally.
	Keep int

	// LogDir is the application log directory the rotation policy covers.
	LogDir string

	// ServiceUser owns the rotated logs.
	ServiceUser string

	// Uploader pushes dumps offsite when configured; nil disables upload.
	Uploader *S3Uploader
}

// RenderLogrotate produces the /etc/logrotate.d policy for the application
// logs.
func RenderLogrotate(cfg Config) []byte {
	content := fmt.Sprintf(`%s/*.log {
    weekly
    rotate 12
    compress
    delaycompress
    missingok
    notifempty
    create 0640 %s %s
}
`, cfg.LogDir, cfg.ServiceUser, cfg.ServiceUser)
	return []byte(content)
}

// RenderCron produces the /etc/cron.d entry that runs the nightly backup
// through this tool's backup subcommand.
func RenderCron(cfg Config, executable string) []byte {
	content := fmt.Sprintf(`# Nightly Whisker Auth database backup.
17 3 * * * root %s backup --db-name %s --backup-dir %s >> %s/backup.log 2>&1
`, executable, cfg.Database, cfg.BackupDir, cfg.LogDir)
	return []byte(content)
}

// MaintenanceStep installs the log rotation policy and the cron job.
type MaintenanceStep struct {
	log        *slog.Logger
	cfg        Config
	executable string

	// Overridable in tests.
	logrotateDir string
	cronDir      string
}

// NewMaintenanceStep creates the log rotation and backup scheduling step.
// executable is the absolute path of the provisioning binary the cron entry
// invokes.
func NewMaintenanceStep(log *slog.Logger, cfg Config, executable string) *MaintenanceStep {
	return &MaintenanceStep{
		log:          log,
		cfg:          cfg,
		executable:   executable,
		logrotateDir: "/etc/logrotate.d",
		cronDir:      "/etc/cron.d",
	}
}

func (s *MaintenanceStep) Name() string { return "log rotation and backup schedule" }

func (s *MaintenanceStep) Check(ctx context.Context) (bool, error) {
	logrotateOK, err := fileMatches(s.logrotatePath(), RenderLogrotate(s.cfg))
	if err != nil {
		return false, err
	}
	cronOK, err := fileMatches(s.cronPath(), RenderCron(s.cfg, s.executable))
	if err != nil {
		return false, err
	}
	return logrotateOK && cronOK, nil
}

func (s *MaintenanceStep) Apply(ctx context.Context) error {
	if err := os.MkdirAll(s.cfg.LogDir, 0o755); err != nil {
		return fmt.Errorf("could not create log directory: %w", err)
	}
	if err := os.MkdirAll(s.cfg.BackupDir, 0o750); err != nil {
		return fmt.Errorf("could not create backup directory: %w", err)
	}

	if err := os.WriteFile(s.logrotatePath(), RenderLogrotate(s.cfg), 0o644); err != nil {
		return fmt.Errorf("could not write logrotate policy: %w", err)
	}
	if err := os.WriteFile(s.cronPath(), RenderCron(s.cfg, s.executable), 0o644); err != nil {
		return fmt.Errorf("could not write cron entry: %w", err)
	}

	s.log.Info("Installed maintenance artifacts",
		"logrotate", s.logrotatePath(), "cron", s.cronPath())
	return nil
}

func (s *MaintenanceStep) logrotatePath() string {
	return filepath.Join(s.logrotateDir, "whisker-auth")
}

func (s *MaintenanceStep) cronPath() string {
	return filepath.Join(s.cronDir, "whisker-auth-backup")
}

func fileMatches(path string, want []byte) (bool, error) {
	got, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return bytes.Equal(got, want), nil
}

// Run performs one backup: dump the database, gzip it into the backup
// directory, prune old dumps, and upload offsite when configured.
func Run(ctx context.Context, runner hostcmd.Runner, log *slog.Logger, cfg Config) (string, error) {
	dump, err := runner.Output(ctx, "sudo", "-u", "postgres", "pg_dump", "--no-owner", cfg.Database)
	if err != nil {
		return "", fmt.Errorf("pg_dump failed: %w", err)
	}

	if err := os.MkdirAll(cfg.BackupDir, 0o750); err != nil {
		return "", fmt.Errorf("could not create backup directory: %w", err)
	}

	name := fmt.Sprintf("%s-%s.sql.gz", cfg.Database, time.Now().UTC().Format("20060102T150405"))
	path := filepath.Join(cfg.BackupDir, name)

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(dump); err != nil {
		return "", err
	}
	if err := gz.Close(); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o640); err != nil {
		return "", fmt.Errorf("could not write backup: %w", err)
	}
	log.Info("Database dumped", "path", path, "bytes", buf.Len())

	if err := prune(cfg.BackupDir, cfg.Database, cfg.Keep, log); err != nil {
		return "", err
	}

	if cfg.Uploader != nil {
		if err := cfg.Uploader.Upload(ctx, name, buf.Bytes()); err != nil {
			return "", fmt.Errorf("offsite upload failed: %w", err)
		}
	}

	return path, nil
}

// prune removes the oldest dumps beyond the retention count. Dump names
// embed a sortable UTC timestamp.
func prune(dir, database string, keep int, log *slog.Logger) error {
	if keep <= 0 {
		return nil
	}

	matches, err := filepath.Glob(filepath.Join(dir, database+"-*.sql.gz"))
	if err != nil {
		return err
	}
	if len(matches) <= keep {
		return nil
	}

	sort.Strings(matches)
	for _, old := range matches[:len(matches)-keep] {
		if err := os.Remove(old); err != nil {
			return fmt.Errorf("could not prune %s: %w", old, err)
		}
		log.Debug("Pruned old backup", "path", old)
	}
	return nil
}
