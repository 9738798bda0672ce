// Command refreshd runs the scheduled refresh engine for dashboards and
// saved queries.
package main

import (
	"context"
	"os"

	cli "github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:                  "refreshd",
		Usage:                 "Refresh dashboards and saved queries on a schedule",
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			RunCommand(),
			SeedCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
