package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"
	"github.com/whiskerauth/provisioner/cmd/flags"
	"github.com/whiskerauth/provisioner/database"
)

var serviceLogFlag = flags.LogServiceFlagFn("whisker-dbsetup")

var (
	dbPathFlag = &cli.StringFlag{
		Name:  "db-path",
		Value: "instance/txa_auth.db",
		Usage: "path of the SQLite instance database",
	}
	adminUserFlag = &cli.StringFlag{
		Name:  "admin-username",
		Value: "admin",
		Usage: "administrator account username",
	}
	adminPasswordFlag = &cli.StringFlag{
		Name:    "admin-password",
		Value:   "TXA2024!@#",
		Usage:   "administrator account password",
		EnvVars: []string{"TXA_ADMIN_PASSWORD"},
	}
	adminEmailFlag = &cli.StringFlag{
		Name:  "admin-email",
		Value: "admin@whiskerauth.local",
		Usage: "administrator account email",
	}
)

func main() {
	app := &cli.App{
		Name:  "whisker-dbsetup",
		Usage: "Create and seed the Whisker Auth instance database",
		Flags: append([]cli.Flag{
			dbPathFlag, adminUserFlag, adminPasswordFlag, adminEmailFlag, serviceLogFlag,
		}, flags.CommonFlags...),
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)

			result, err := database.Setup(cCtx.Context, database.SetupOptions{
				Path:          cCtx.String(dbPathFlag.Name),
				AdminUsername: cCtx.String(adminUserFlag.Name),
				AdminPassword: cCtx.String(adminPasswordFlag.Name),
				AdminEmail:    cCtx.String(adminEmailFlag.Name),
			})
			if err != nil {
				logger.Error("Database setup failed", "err", err)
				return err
			}

			fmt.Println("Database setup complete.")
			fmt.Printf("  Database:        %s\n", result.Path)
			fmt.Printf("  Admin username:  %s\n", result.AdminUsername)
			fmt.Printf("  Admin password:  %s\n", result.AdminPassword)
			if result.SampleLicense != "" {
				fmt.Printf("  Sample license:  %s (%s)\n", result.SampleLicense, result.SampleType)
			}
			fmt.Println("\nChange the admin password after first login.")
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
