package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/term"

	"github.com/pace-noge/defense-probe/internal/infrastructure/database"
	operatorUsecase "github.com/pace-noge/defense-probe/internal/operator/usecase"
	runnerConfig "github.com/pace-noge/defense-probe/internal/runner/config"
)

// NewOperatorCommand creates the operator management CLI command
func NewOperatorCommand() *cli.Command {
	usernameFlag := &cli.StringFlag{
		Name:     "username",
		Aliases:  []string{"u"},
		Usage:    "Operator username",
		Required: true,
	}
	passwordFlag := &cli.StringFlag{
		Name:  "password",
		Usage: "Password (if not provided, will prompt)",
	}
	return &cli.Command{
		Name:  "operator",
		Usage: "Operator account management commands",
		Subcommands: []*cli.Command{
			{
				Name:   "create",
				Usage:  "Create an operator account",
				Flags:  []cli.Flag{usernameFlag, passwordFlag},
				Action: withOperators(createOperator),
			},
			{
				Name:   "reset-password",
				Usage:  "Reset an operator's password",
				Flags:  []cli.Flag{usernameFlag, passwordFlag},
				Action: withOperators(resetOperatorPassword),
			},
			{
				Name:   "disable",
				Usage:  "Disable an operator account",
				Flags:  []cli.Flag{usernameFlag},
				Action: withOperators(setOperatorActive(false)),
			},
			{
				Name:   "enable",
				Usage:  "Enable an operator account",
				Flags:  []cli.Flag{usernameFlag},
				Action: withOperators(setOperatorActive(true)),
			},
			{
				Name:   "list",
				Usage:  "List operator accounts",
				Action: withOperators(listOperators),
			},
		},
	}
}

type operatorAction func(c *cli.Context, uc *operatorUsecase.OperatorUsecase) error

// withOperators opens the configured database for the duration of one action.
func withOperators(action operatorAction) cli.ActionFunc {
	return func(c *cli.Context) error {
		cfg, err := runnerConfig.LoadEngineConfig()
		if err != nil {
			return fmt.Errorf("failed to load engine config: %w", err)
		}
		if cfg.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for operator management")
		}

		store, err := database.NewSQLStore(cfg.DatabaseDriver, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer store.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := store.InitSchema(ctx); err != nil {
			return fmt.Errorf("failed to initialize database schema: %w", err)
		}
		return action(c, operatorUsecase.NewOperatorUsecase(store, 0))
	}
}

// readPassword uses --password or prompts without echo.
func readPassword(c *cli.Context) (string, error) {
	if password := c.String("password"); password != "" {
		return password, nil
	}
	fmt.Print("Enter password: ")
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println() // Print newline after password input
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(passwordBytes), nil
}

func createOperator(c *cli.Context, uc *operatorUsecase.OperatorUsecase) error {
	password, err := readPassword(c)
	if err != nil {
		return err
	}
	if _, err := uc.CreateOperator(c.Context, c.String("username"), password); err != nil {
		return fmt.Errorf("failed to create operator: %w", err)
	}
	log.Printf("Operator %s created successfully", c.String("username"))
	return nil
}

func resetOperatorPassword(c *cli.Context, uc *operatorUsecase.OperatorUsecase) error {
	password, err := readPassword(c)
	if err != nil {
		return err
	}
	if err := uc.ResetPassword(c.Context, c.String("username"), password); err != nil {
		return fmt.Errorf("failed to reset password: %w", err)
	}
	log.Printf("Password for %s reset successfully", c.String("username"))
	return nil
}

func setOperatorActive(active bool) operatorAction {
	return func(c *cli.Context, uc *operatorUsecase.OperatorUsecase) error {
		if err := uc.SetActive(c.Context, c.String("username"), active); err != nil {
			return fmt.Errorf("failed to update operator: %w", err)
		}
		log.Printf("Operator %s active=%t", c.String("username"), active)
		return nil
	}
}

func listOperators(c *cli.Context, uc *operatorUsecase.OperatorUsecase) error {
	ops, err := uc.ListOperators(c.Context)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "USERNAME\tACTIVE\tCREATED\tLAST LOGIN")
	for _, op := range ops {
		last := "-"
		if op.LastLoginAt != nil {
			last = op.LastLoginAt.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%t\t%s\t%s\n", op.Username, op.IsActive, op.CreatedAt.Format(time.RFC3339), last)
	}
	return tw.Flush()
}
