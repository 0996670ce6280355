package cmd

import (
	"github.com/urfave/cli/v2"
)

// NewRootApp creates the root CLI application
func NewRootApp() *cli.App {
	return &cli.App{
		Name:  "defense-probe",
		Usage: "Probes how well a target's defenses block attack traffic (run, serve, consume, operator or token).",
		Commands: []*cli.Command{
			NewRunCommand(),
			NewServeCommand(),
			NewConsumeCommand(),
			NewOperatorCommand(),
			NewTokenCommand(),
		},
	}
}
