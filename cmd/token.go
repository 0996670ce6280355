package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/pace-noge/defense-probe/internal/infrastructure/auth"
	runnerConfig "github.com/pace-noge/defense-probe/internal/runner/config"
)

// NewTokenCommand creates the token command
func NewTokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Issues an API token for an operator",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "operator",
				Usage:    "Operator name recorded in the token",
				Required: true,
			},
			&cli.DurationFlag{
				Name:  "ttl",
				Value: auth.DefaultTokenTTL,
				Usage: "Token lifetime",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := runnerConfig.LoadEngineConfig()
			if err != nil {
				return fmt.Errorf("failed to load engine config: %w", err)
			}
			auth.SetJWTSecret(cfg.JWTSecretKey)
			token, err := auth.GenerateJWT(c.String("operator"), c.Duration("ttl"))
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
}
