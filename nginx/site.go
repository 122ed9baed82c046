// Package nginx renders and deploys the reverse-proxy site that fronts the
// Whisker Auth backend.
package nginx

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"text/template"

	"github.com/whiskerauth/provisioner/hostcmd"
)

const (
	sitesAvailableDir = "/etc/nginx/sites-available"
	sitesEnabledDir   = "/etc/nginx/sites-enabled"
)

// SiteConfig describes the site to render. BackendPort must be the same
// port the process-manager unit binds the backend to; callers derive both
// from one value so the proxy target and the listener match by construction.
type SiteConfig struct {
	SiteName    string
	ServerName  string
	APIPrefix   string
	BackendPort int
	StaticDir   string
}

var siteTemplate = template.Must(template.New("site").Parse(`server {
    listen 80;
    server_name {{ .ServerName }};

    location {{ .APIPrefix }} {
        proxy_pass http://127.0.0.1:{{ .BackendPort }};
        proxy_set_header Host $host;
        proxy_set_header X-Real-IP $remote_addr;
        proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;
        proxy_set_header X-Forwarded-Proto $scheme;
    }

    location /static/ {
        alias {{ .StaticDir }}/;
        expires 30d;
        add_header Cache-Control "public, immutable";
        access_log off;
    }
}
`))

// Render produces the site file contents.
func Render(cfg SiteConfig) ([]byte, error) {
	if cfg.APIPrefix == "" || cfg.BackendPort == 0 {
		return nil, fmt.Errorf("site config missing API prefix or backend port")
	}

	var buf bytes.Buffer
	if err := siteTemplate.Execute(&buf, cfg); err != nil {
		return nil, fmt.Errorf("could not render site template: %w", err)
	}
	return buf.Bytes(), nil
}

// Step deploys the rendered site, enables it, removes the distribution
// default site, and validates the configuration before nginx reloads it.
type Step struct {
	runner hostcmd.Runner
	log    *slog.Logger
	cfg    SiteConfig

	// Overridable in tests.
	availableDir string
	enabledDir   string

	reload func(context.Context) error
}

// ReloadWith registers a callback invoked after a successful Apply so the
// running nginx picks up the deployed site.
func (s *Step) ReloadWith(fn func(context.Context) error) {
	s.reload = fn
}

// NewStep creates the reverse-proxy convergence step.
func NewStep(runner hostcmd.Runner, log *slog.Logger, cfg SiteConfig) *Step {
	return &Step{
		runner:       runner,
		log:          log,
		cfg:          cfg,
		availableDir: sitesAvailableDir,
		enabledDir:   sitesEnabledDir,
	}
}

func (s *Step) Name() string { return "reverse proxy site" }

// Check is satisfied when the deployed site file matches the rendered
// configuration and the site is enabled.
func (s *Step) Check(ctx context.Context) (bool, error) {
	want, err := Render(s.cfg)
	if err != nil {
		return false, err
	}

	got, err := os.ReadFile(s.sitePath())
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if !bytes.Equal(want, got) {
		return false, nil
	}

	if _, err := os.Lstat(s.enabledPath()); err != nil {
		return false, nil
	}
	return true, nil
}

// Apply writes the site file, links it into sites-enabled, drops the default
// site and validates the result with nginx -t.
func (s *Step) Apply(ctx context.Context) error {
	content, err := Render(s.cfg)
	if err != nil {
		return err
	}

	if err := os.WriteFile(s.sitePath(), content, 0o644); err != nil {
		return fmt.Errorf("could not write site file: %w", err)
	}

	if err := s.enableSite(); err != nil {
		return err
	}

	// The distribution default site shadows ours on the same listen port.
	defaultSite := filepath.Join(s.enabledDir, "default")
	if err := os.Remove(defaultSite); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("could not remove default site: %w", err)
	}

	if err := s.runner.Run(ctx, "nginx", "-t"); err != nil {
		return fmt.Errorf("nginx rejected generated configuration: %w", err)
	}

	if s.reload != nil {
		if err := s.reload(ctx); err != nil {
			return fmt.Errorf("could not reload reverse proxy: %w", err)
		}
	}

	s.log.Info("Deployed reverse proxy site", "site", s.cfg.SiteName, "server_name", s.cfg.ServerName)
	return nil
}

func (s *Step) enableSite() error {
	link := s.enabledPath()
	if target, err := os.Readlink(link); err == nil && target == s.sitePath() {
		return nil
	}
	if err := os.Remove(link); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("could not replace site link: %w", err)
	}
	if err := os.Symlink(s.sitePath(), link); err != nil {
		return fmt.Errorf("could not enable site: %w", err)
	}
	return nil
}

func (s *Step) sitePath() string {
	return filepath.Join(s.availableDir, s.cfg.SiteName)
}

func (s *Step) enabledPath() string {
	return filepath.Join(s.enabledDir, s.cfg.SiteName)
}
