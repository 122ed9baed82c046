package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"
	"github.com/whiskerauth/provisioner/appdeploy"
	"github.com/whiskerauth/provisioner/backup"
	"github.com/whiskerauth/provisioner/cmd/flags"
	"github.com/whiskerauth/provisioner/database"
	"github.com/whiskerauth/provisioner/firewall"
	"github.com/whiskerauth/provisioner/hostcmd"
	"github.com/whiskerauth/provisioner/nginx"
	"github.com/whiskerauth/provisioner/packages"
	"github.com/whiskerauth/provisioner/provision"
	"github.com/whiskerauth/provisioner/secrets"
	"github.com/whiskerauth/provisioner/systemd"
	"github.com/whiskerauth/provisioner/sysuser"
)

var serviceLogFlag = flags.LogServiceFlagFn("whisker-provision")

var (
	domainFlag = &cli.StringFlag{
		Name:  "domain",
		Value: "_",
		Usage: "server name the reverse proxy answers for",
	}
	sourceDirFlag = &cli.StringFlag{
		Name:  "source-dir",
		Usage: "directory holding the application release to deploy",
	}
	appDirFlag = &cli.StringFlag{
		Name:  "app-dir",
		Value: "/opt/whisker-auth",
		Usage: "deployment target directory",
	}
	serviceUserFlag = &cli.StringFlag{
		Name:  "service-user",
		Value: "whisker",
		Usage: "system account the backend runs as",
	}
	backendPortFlag = &cli.IntFlag{
		Name:  "backend-port",
		Value: 5000,
		Usage: "loopback port the backend binds to",
	}
	workersFlag = &cli.IntFlag{
		Name:  "workers",
		Value: 3,
		Usage: "gunicorn worker count",
	}
	dbNameFlag = &cli.StringFlag{
		Name:  "db-name",
		Value: "whisker_auth",
		Usage: "PostgreSQL database name",
	}
	dbUserFlag = &cli.StringFlag{
		Name:  "db-user",
		Value: "whisker",
		Usage: "PostgreSQL role the backend connects as",
	}
	stateDirFlag = &cli.StringFlag{
		Name:  "state-dir",
		Value: "/var/lib/whisker-auth",
		Usage: "directory for provisioner state (lock, deploy hash, secrets)",
	}
	secretStoreFlag = &cli.StringFlag{
		Name:  "secret-store",
		Usage: "secret store URI (file:///path or vault://host:port/mount/path), defaults to a file under the state dir",
	}
	logDirFlag = &cli.StringFlag{
		Name:  "log-dir",
		Value: "/var/log/whisker-auth",
		Usage: "application log directory",
	}
	backupDirFlag = &cli.StringFlag{
		Name:  "backup-dir",
		Value: "/var/backups/whisker-auth",
		Usage: "directory for database dumps",
	}
	backupKeepFlag = &cli.IntFlag{
		Name:  "backup-keep",
		Value: 14,
		Usage: "number of local dumps to retain",
	}
	s3BucketFlag = &cli.StringFlag{
		Name:  "s3-bucket",
		Usage: "if set, uploads dumps to this S3 bucket",
	}
	s3PrefixFlag = &cli.StringFlag{
		Name:  "s3-prefix",
		Value: "whisker-auth",
		Usage: "key prefix for uploaded dumps",
	}
	s3RegionFlag = &cli.StringFlag{
		Name:  "s3-region",
		Value: "us-east-1",
		Usage: "S3 region",
	}
	s3EndpointFlag = &cli.StringFlag{
		Name:  "s3-endpoint",
		Usage: "custom S3 endpoint for S3-compatible stores",
	}
	s3AccessKeyFlag = &cli.StringFlag{
		Name:    "s3-access-key",
		Usage:   "S3 access key, empty uses the ambient credential chain",
		EnvVars: []string{"S3_ACCESS_KEY"},
	}
	s3SecretKeyFlag = &cli.StringFlag{
		Name:    "s3-secret-key",
		Usage:   "S3 secret key",
		EnvVars: []string{"S3_SECRET_KEY"},
	}
	dryRunFlag = &cli.BoolFlag{
		Name:  "dry-run",
		Usage: "report what would change without touching the host",
	}
	healthWaitFlag = &cli.DurationFlag{
		Name:  "health-wait",
		Value: 30 * time.Second,
		Usage: "how long to wait for the backend to answer after start",
	}
)

func newApp() *cli.App {
	// The backup subcommand carries its own copies of the shared flags: the
	// cron.d entry invokes `whisker-provision backup --db-name ...`, and
	// flags placed after the command name resolve against the command's own
	// flag set, not the app's.
	backupFlags := append([]cli.Flag{
		dbNameFlag, backupDirFlag, backupKeepFlag, logDirFlag, serviceUserFlag,
		s3BucketFlag, s3PrefixFlag, s3RegionFlag, s3EndpointFlag, s3AccessKeyFlag, s3SecretKeyFlag,
		serviceLogFlag,
	}, flags.CommonFlags...)

	return &cli.App{
		Name:  "whisker-provision",
		Usage: "Converge a host into a Whisker Auth deployment",
		Flags: append([]cli.Flag{
			domainFlag, sourceDirFlag, appDirFlag, serviceUserFlag,
			backendPortFlag, workersFlag, dbNameFlag, dbUserFlag,
			stateDirFlag, secretStoreFlag, logDirFlag,
			backupDirFlag, backupKeepFlag,
			s3BucketFlag, s3PrefixFlag, s3RegionFlag, s3EndpointFlag, s3AccessKeyFlag, s3SecretKeyFlag,
			dryRunFlag, healthWaitFlag, serviceLogFlag,
		}, flags.CommonFlags...),
		Action: runProvision,
		Commands: []*cli.Command{
			{
				Name:   "backup",
				Usage:  "Dump the database, prune old dumps, optionally upload offsite",
				Flags:  backupFlags,
				Action: runBackup,
			},
		},
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runProvision(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)
	ctx := cCtx.Context

	dryRun := cCtx.Bool(dryRunFlag.Name)
	stateDir := cCtx.String(stateDirFlag.Name)
	appDir := cCtx.String(appDirFlag.Name)
	serviceUser := cCtx.String(serviceUserFlag.Name)
	backendPort := cCtx.Int(backendPortFlag.Name)
	dbName := cCtx.String(dbNameFlag.Name)
	dbUser := cCtx.String(dbUserFlag.Name)
	sourceDir := cCtx.String(sourceDirFlag.Name)
	if sourceDir == "" {
		return errors.New("--source-dir is required")
	}

	if !dryRun {
		if err := provision.RequireRoot(); err != nil {
			logger.Error("Refusing to run", "err", err)
			return err
		}
		if err := os.MkdirAll(stateDir, 0o750); err != nil {
			return fmt.Errorf("could not create state dir: %w", err)
		}
		lock, err := provision.AcquireHostLock(stateDir)
		if err != nil {
			logger.Error("Another provisioning run is in progress", "err", err)
			return err
		}
		defer lock.Release()
	}

	runner := hostcmd.NewRunner(logger)
	manager := systemd.NewManager(logger, runner)

	bundle, secretLocation, err := ensureSecrets(ctx, cCtx, logger, stateDir, dryRun)
	if err != nil {
		logger.Error("Could not prepare secret bundle", "err", err)
		return err
	}

	account := sysuser.Account{Name: serviceUser, HomeDir: appDir}
	userStep := sysuser.NewStep(runner, logger, account)

	deployCfg := appdeploy.Config{
		SourceDir:   sourceDir,
		AppDir:      appDir,
		ServiceUser: serviceUser,
		StateDir:    stateDir,
	}

	envCfg := secrets.EnvFileConfig{
		Path:   filepath.Join(appDir, ".env"),
		DBUser: dbUser,
		DBName: dbName,
		DBHost: "127.0.0.1",
		DBPort: 5432,
	}

	unitCfg, siteCfg := backendConfigs(appDir, serviceUser, cCtx.String(domainFlag.Name),
		envCfg.Path, backendPort, cCtx.Int(workersFlag.Name))

	backupCfg, err := backupConfig(cCtx, logger)
	if err != nil {
		return err
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("could not resolve own executable path: %w", err)
	}

	siteStep := nginx.NewStep(runner, logger, siteCfg)
	siteStep.ReloadWith(func(ctx context.Context) error {
		return manager.Reload(ctx, "nginx.service")
	})

	deployStep := appdeploy.NewDeployStep(logger, deployCfg)
	deployStep.ChownWith(userStep.ChownTree)

	steps := []provision.Step{
		packages.NewAptStep(runner, logger, packages.Defaults),
		userStep,
		deployStep,
		appdeploy.NewVenvStep(runner, logger, deployCfg),
		provision.NewStep("backend environment file",
			func(ctx context.Context) (bool, error) {
				got, err := os.ReadFile(envCfg.Path)
				if err != nil {
					if os.IsNotExist(err) {
						return false, nil
					}
					return false, err
				}
				return string(got) == string(secrets.RenderEnvFile(envCfg, bundle)), nil
			},
			func(ctx context.Context) error {
				if err := secrets.WriteEnvFile(envCfg, bundle); err != nil {
					return err
				}
				return userStep.ChownTree(appDir)
			},
		),
		database.NewPostgresStep(runner, logger, database.PostgresConfig{Role: dbUser, Database: dbName}, bundle.DBPassword),
		appdeploy.NewInitSchemaStep(runner, logger, deployCfg),
		systemd.NewStep(manager, logger, unitCfg),
		siteStep,
		firewall.NewStep(runner, logger),
		backup.NewMaintenanceStep(logger, backupCfg, exe),
	}

	summary := provision.NewRunner(logger, steps, dryRun).Run(ctx)
	printSummary(summary)
	if summary.Failed() {
		return summary.Err
	}
	if dryRun {
		return nil
	}

	return verifyDeployment(ctx, cCtx, logger, manager, backendPort, secretLocation)
}

// backendConfigs derives the unit and the proxy site from one backend port
// and one service account, so the gunicorn bind address, the proxy_pass
// target and the tree owner match by construction.
func backendConfigs(appDir, serviceUser, domain, envPath string, port, workers int) (systemd.UnitConfig, nginx.SiteConfig) {
	unitCfg := systemd.UnitConfig{
		Name:            "whisker-auth",
		Description:     "Whisker Auth TXA backend",
		User:            serviceUser,
		WorkingDir:      appDir,
		EnvironmentFile: envPath,
		ExecStart:       systemd.GunicornExec(appDir, port, workers),
	}

	siteCfg := nginx.SiteConfig{
		SiteName:    "whisker-auth",
		ServerName:  domain,
		APIPrefix:   "/api",
		BackendPort: port,
		StaticDir:   filepath.Join(appDir, "static"),
	}
	return unitCfg, siteCfg
}

// ensureSecrets loads or creates the secret bundle. Dry runs never persist:
// a missing bundle is substituted with a throwaway one so templating can be
// previewed.
func ensureSecrets(ctx context.Context, cCtx *cli.Context, logger *slog.Logger, stateDir string, dryRun bool) (*secrets.Bundle, string, error) {
	storeURI := cCtx.String(secretStoreFlag.Name)
	if storeURI == "" {
		storeURI = "file://" + filepath.Join(stateDir, "secrets.json")
	}

	store, err := secrets.StoreFor(storeURI, logger)
	if err != nil {
		return nil, "", err
	}

	if dryRun {
		bundle, err := store.Load(ctx)
		if errors.Is(err, secrets.ErrBundleNotFound) {
			logger.Info("Dry run: no persisted secrets, using a throwaway bundle")
			bundle, err = secrets.GenerateBundle()
		}
		return bundle, store.Location(), err
	}

	bundle, created, err := secrets.Ensure(ctx, store, logger)
	if err != nil {
		return nil, "", err
	}
	if created {
		logger.Info("Generated new secret bundle", "store", store.Location())
	}
	return bundle, store.Location(), nil
}

func backupConfig(cCtx *cli.Context, logger *slog.Logger) (backup.Config, error) {
	cfg := backup.Config{
		Database:    cCtx.String(dbNameFlag.Name),
		BackupDir:   cCtx.String(backupDirFlag.Name),
		Keep:        cCtx.Int(backupKeepFlag.Name),
		LogDir:      cCtx.String(logDirFlag.Name),
		ServiceUser: cCtx.String(serviceUserFlag.Name),
	}

	if bucket := cCtx.String(s3BucketFlag.Name); bucket != "" {
		uploader, err := backup.NewS3Uploader(
			bucket,
			cCtx.String(s3PrefixFlag.Name),
			cCtx.String(s3RegionFlag.Name),
			cCtx.String(s3EndpointFlag.Name),
			cCtx.String(s3AccessKeyFlag.Name),
			cCtx.String(s3SecretKeyFlag.Name),
			logger,
		)
		if err != nil {
			return backup.Config{}, fmt.Errorf("could not configure S3 upload: %w", err)
		}
		cfg.Uploader = uploader
	}
	return cfg, nil
}

// verifyDeployment confirms the services came up and the backend answers
// over the reverse-proxied path before declaring success.
func verifyDeployment(ctx context.Context, cCtx *cli.Context, logger *slog.Logger, manager *systemd.Manager, backendPort int, secretLocation string) error {
	var failed bool
	for _, unit := range []string{"whisker-auth.service", "nginx.service"} {
		state, err := manager.ActiveState(ctx, unit)
		if err != nil {
			logger.Error("Could not query unit state", "unit", unit, "err", err)
			failed = true
			continue
		}
		if state != "active" {
			logger.Error("Unit is not active", "unit", unit, "state", state)
			fmt.Fprintln(os.Stderr, manager.JournalTail(ctx, unit, 30))
			failed = true
		}
	}
	if failed {
		return errors.New("deployment verification failed: services not active")
	}

	healthURL := fmt.Sprintf("http://127.0.0.1:%d/api/health", backendPort)
	if err := provision.ProbeHTTP(ctx, healthURL, cCtx.Duration(healthWaitFlag.Name)); err != nil {
		// The proxy and unit are up; an unready app is a warning, not a
		// provisioning failure.
		logger.Warn("Backend health endpoint not confirmed", "url", healthURL, "err", err)
	}

	domain := cCtx.String(domainFlag.Name)
	if domain == "_" {
		domain = "<server address>"
	}
	fmt.Printf("\nWhisker Auth is deployed.\n")
	fmt.Printf("  API:        http://%s/api\n", domain)
	fmt.Printf("  Secrets:    %s\n", secretLocation)
	fmt.Printf("  Service:    systemctl status whisker-auth\n")
	fmt.Printf("  Logs:       journalctl -u whisker-auth -f\n")
	fmt.Printf("  First run:  seed the instance data with whisker-dbsetup\n")
	return nil
}

func printSummary(summary *provision.Summary) {
	fmt.Printf("\nProvisioning summary (%s):\n", summary.Elapsed.Round(time.Millisecond))
	for i, step := range summary.Steps {
		line := fmt.Sprintf("  %2d. %-32s %s", i+1, step.Name, step.Status)
		if step.Err != nil {
			line += fmt.Sprintf(" (%v)", step.Err)
		}
		fmt.Println(line)
	}
}

func runBackup(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	cfg, err := backupConfig(cCtx, logger)
	if err != nil {
		return err
	}

	runner := hostcmd.NewRunner(logger)
	path, err := backup.Run(cCtx.Context, runner, logger, cfg)
	if err != nil {
		logger.Error("Backup failed", "err", err)
		return err
	}
	logger.Info("Backup complete", "path", path)
	return nil
}
