package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"
	"text/tabwriter"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/pace-noge/defense-probe/internal/domain"
	"github.com/pace-noge/defense-probe/internal/export"
	"github.com/pace-noge/defense-probe/internal/infrastructure/runrepo"
	runnerConfig "github.com/pace-noge/defense-probe/internal/runner/config"
	runnerUsecase "github.com/pace-noge/defense-probe/internal/runner/usecase"
)

// NewRunCommand creates the run command
func NewRunCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Runs a test plan against one or more domains and prints the results",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "plan",
				Aliases:  []string{"p"},
				Usage:    "Path to the plan file (JSON or YAML)",
				Required: true,
				EnvVars:  []string{"PLAN_FILE"},
			},
			&cli.StringSliceFlag{
				Name:    "domain",
				Aliases: []string{"d"},
				Usage:   "Target domain; repeat to fan the plan out (overrides plan targets)",
				EnvVars: []string{"DOMAINS"},
			},
			&cli.StringFlag{
				Name:  "mapping",
				Usage: "Path to a YAML/JSON file mapping test indexes to domain lists",
			},
			&cli.BoolFlag{
				Name:    "strict",
				Usage:   "Reject tests whose kind disagrees with their parameters",
				EnvVars: []string{"STRICT_DISPATCH"},
			},
			&cli.IntFlag{
				Name:    "concurrency",
				Aliases: []string{"c"},
				Usage:   "Engine-wide cap on in-flight requests",
				EnvVars: []string{"MAX_CONCURRENCY"},
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Write the full run as JSON to this file ('-' for stdout)",
			},
			&cli.BoolFlag{
				Name:  "logs",
				Usage: "Print the per-domain logs after the summary",
			},
		},
		Action: runPlan,
	}
}

func runPlan(c *cli.Context) error {
	cfg, err := runnerConfig.LoadEngineConfig()
	if err != nil {
		return fmt.Errorf("failed to load engine config: %w", err)
	}
	if c.IsSet("strict") {
		cfg.StrictDispatch = c.Bool("strict")
	}
	if c.IsSet("concurrency") && c.Int("concurrency") > 0 {
		cfg.MaxConcurrency = c.Int("concurrency")
	}

	plan, err := export.LoadPlan(c.String("plan"))
	if err != nil {
		return err
	}
	var mapping map[int][]string
	if file := c.String("mapping"); file != "" {
		if mapping, err = loadMapping(file); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stack, err := buildEngineStack(ctx, cfg)
	if err != nil {
		return err
	}
	defer stack.Close()
	stack.options.Runs = runrepo.NewInMemoryRunRepository()

	uc := runnerUsecase.NewRunnerUsecase(stack.dispatcher, stack.options)
	log.Printf("Running plan %q (%d tests)", plan.Name, len(plan.Tests))
	run, execErr := uc.Execute(ctx, plan, c.StringSlice("domain"), mapping)
	uc.Close()
	if run == nil {
		return execErr
	}

	printSummary(os.Stdout, run)
	if c.Bool("logs") {
		printDomainLogs(os.Stdout, run)
	}
	if out := c.String("output"); out != "" {
		if err := writeRun(out, run); err != nil {
			return err
		}
	}
	if errors.Is(execErr, runnerUsecase.ErrNoRunnableTests) {
		return execErr
	}
	if execErr != nil {
		log.Printf("Run %s finished with error: %v", run.ID, execErr)
	}
	return nil
}

// printDomainLogs writes every domain log, including plan-embedded targets,
// in domain order.
func printDomainLogs(w io.Writer, run *domain.Run) {
	domains := make([]string, 0, len(run.DomainLogs))
	for d := range run.DomainLogs {
		domains = append(domains, d)
	}
	sort.Strings(domains)
	for _, d := range domains {
		fmt.Fprint(w, run.DomainLogs[d])
	}
}

// loadMapping reads test index -> domains. Keys may be quoted, so JSON
// files parse too.
func loadMapping(file string) (map[int][]string, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read mapping file: %w", err)
	}
	var raw map[string][]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse mapping file: %w", err)
	}
	mapping := make(map[int][]string, len(raw))
	for k, v := range raw {
		idx, err := strconv.Atoi(k)
		if err != nil || idx < 0 {
			return nil, fmt.Errorf("mapping key %q is not a test index", k)
		}
		mapping[idx] = v
	}
	return mapping, nil
}

func printSummary(w io.Writer, run *domain.Run) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DOMAIN\tTEST\tSTATUS\tVERDICT\tCODE\tDURATION\tCREDITS")
	blocked, bypassed, failed := 0, 0, 0
	for _, r := range run.Results {
		verdict := string(r.ResultDetails.Verdict)
		switch {
		case r.ResultDetails.Error != "":
			failed++
			verdict = "error: " + r.ResultDetails.Error
		case r.Status == domain.StatusSuccess:
			bypassed++
		default:
			blocked++
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%dms\t%d\n",
			r.Domain, r.TestName, r.Status, verdict, r.ResultDetails.StatusCode, r.Duration, r.CreditsUsed)
	}
	tw.Flush()
	for _, e := range run.Errors {
		fmt.Fprintf(w, "error: %s\n", e)
	}
	fmt.Fprintf(w, "Run %s (%s): %s, %d results, %d blocked, %d bypassed, %d errored, %d run errors\n",
		run.PlanName, run.ID, run.Status, len(run.Results), blocked, bypassed, failed, len(run.Errors))
}

func writeRun(path string, run *domain.Run) error {
	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}
	if path == "-" {
		_, err = os.Stdout.Write(append(data, '\n'))
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write run output: %w", err)
	}
	log.Printf("Run written to %s", path)
	return nil
}
