package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"
	"github.com/whiskerauth/provisioner/secrets"
)

var countFlag = &cli.IntFlag{
	Name:  "count",
	Value: 1,
	Usage: "number of license keys to generate",
}

func main() {
	app := &cli.App{
		Name:  "whisker-licensegen",
		Usage: "Generate Whisker Auth license keys",
		Flags: []cli.Flag{countFlag},
		Action: func(cCtx *cli.Context) error {
			for i := 0; i < cCtx.Int(countFlag.Name); i++ {
				key, err := secrets.NewLicenseKey()
				if err != nil {
					return err
				}
				fmt.Println(key)
			}
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
