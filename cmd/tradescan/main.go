package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/kitealert7-source/tradescan/internal/logger"
	"github.com/kitealert7-source/tradescan/internal/orchestrator"
	"github.com/kitealert7-source/tradescan/internal/strategy"
	"github.com/kitealert7-source/tradescan/pkg/errors"
)

// Decision tokens printed as the last line of every governed command.
const (
	decisionAllow    = "ALLOW_EXECUTION"
	decisionBlock    = "BLOCK_EXECUTION"
	decisionHardStop = "HARD_STOP"
)

var configFlag = &cli.StringFlag{
	Name:    "config",
	Aliases: []string{"c"},
	Usage:   "Path to the pipeline config file",
	Value:   "tradescan.yaml",
}

// buildPipeline loads the config and wires a pipeline with every implemented
// strategy descriptor registered.
func buildPipeline(cmd *cli.Command) (*orchestrator.Pipeline, orchestrator.Layout, error) {
	cfg, err := orchestrator.LoadConfig(cmd.String("config"))
	if err != nil {
		return nil, orchestrator.Layout{}, err
	}

	logInstance, err := logger.NewLogger()
	if err != nil {
		return nil, orchestrator.Layout{}, fmt.Errorf("failed to create logger: %w", err)
	}

	layout := orchestrator.Layout{Root: cfg.Root}

	registry := strategy.NewRegistry()
	if err := registerStrategies(layout, registry); err != nil {
		return nil, orchestrator.Layout{}, err
	}

	return orchestrator.NewPipeline(layout, registry, cfg.Engine, logInstance), layout, nil
}

// registerStrategies loads every implemented descriptor from the strategies
// tree and binds it to its implementation. Hollow stubs stay unregistered so
// provisioning can flag them.
func registerStrategies(layout orchestrator.Layout, registry strategy.Registry) error {
	entries, err := os.ReadDir(layout.StrategiesDir())
	if os.IsNotExist(err) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to scan strategies dir: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		raw, err := os.ReadFile(filepath.Join(layout.StrategiesDir(), entry.Name(), "strategy.yaml"))
		if err != nil {
			continue
		}

		desc, err := strategy.UnmarshalSnapshot(raw)
		if err != nil || !desc.Filled {
			continue
		}

		impl := strategy.NewATRChannelBreakout(desc.StrategyTimeframe, desc.BoundSignature)
		impl.StrategyName = desc.StrategyName
		impl.IndicatorPaths = desc.IndicatorPaths

		if err := registry.Register(impl); err != nil {
			return err
		}
	}

	return nil
}

// decide maps an error to the decision token and explanation line.
func decide(err error) (string, string) {
	switch {
	case err == nil:
		return decisionAllow, "all governance gates passed"
	case errors.HasKind(err, errors.KindArtifactTampering),
		errors.HasKind(err, errors.KindManifestMismatch),
		errors.HasKind(err, errors.KindSnapshotDrift),
		errors.HasKind(err, errors.KindStateCorruption):
		return decisionHardStop, err.Error()
	default:
		return decisionBlock, err.Error()
	}
}

// report prints the decision token plus explanation and converts any failure
// into a non-zero exit.
func report(err error) error {
	token, detail := decide(err)
	fmt.Printf("%s: %s\n", token, detail)

	if err != nil {
		return cli.Exit("", 1)
	}

	return nil
}

// activeDirectives lists every directive id in the active folder.
func activeDirectives(layout orchestrator.Layout) ([]string, error) {
	entries, err := os.ReadDir(layout.DirectivesDir())
	if err != nil {
		return nil, fmt.Errorf("failed to list directives: %w", err)
	}

	ids := make([]string, 0, len(entries))

	for _, entry := range entries {
		name := entry.Name()
		ext := filepath.Ext(name)

		if entry.IsDir() || (ext != ".yaml" && ext != ".txt") {
			continue
		}

		ids = append(ids, strings.TrimSuffix(name, ext))
	}

	sort.Strings(ids)

	return ids, nil
}

func runAction(ctx context.Context, cmd *cli.Command) error {
	pipeline, layout, err := buildPipeline(cmd)
	if err != nil {
		return report(err)
	}

	var ids []string

	if cmd.Bool("all") {
		ids, err = activeDirectives(layout)
		if err != nil {
			return report(err)
		}
	} else {
		if cmd.Args().Len() != 1 {
			return cli.Exit("usage: tradescan run <directive-id> or tradescan run --all", 1)
		}

		ids = []string{cmd.Args().First()}
	}

	for _, id := range ids {
		if err := pipeline.Run(id, cmd.Bool("force")); err != nil {
			return report(err)
		}
	}

	return report(nil)
}

func stage1Action(ctx context.Context, cmd *cli.Command) error {
	pipeline, _, err := buildPipeline(cmd)
	if err != nil {
		return report(err)
	}

	return report(pipeline.Stage1(cmd.String("directive"), cmd.String("symbol"), cmd.String("run-id")))
}

func preflightAction(ctx context.Context, cmd *cli.Command) error {
	pipeline, _, err := buildPipeline(cmd)
	if err != nil {
		return report(err)
	}

	if cmd.Args().Len() != 1 {
		return cli.Exit("usage: tradescan preflight <directive-id>", 1)
	}

	return report(pipeline.Preflight(cmd.Args().First()))
}

func resetAction(ctx context.Context, cmd *cli.Command) error {
	pipeline, _, err := buildPipeline(cmd)
	if err != nil {
		return report(err)
	}

	if cmd.Args().Len() != 1 {
		return cli.Exit("usage: tradescan reset <directive-id> --reason <text>", 1)
	}

	return report(pipeline.Reset(cmd.Args().First(), cmd.String("reason"), cmd.Bool("to-stage4")))
}

func schemaAction(ctx context.Context, cmd *cli.Command) error {
	schemaJSON, err := orchestrator.EmptyConfig().GenerateSchemaJSON()
	if err != nil {
		return fmt.Errorf("failed to generate schema: %w", err)
	}

	output := cmd.String("output")
	if output == "" {
		fmt.Println(schemaJSON)

		return nil
	}

	if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if err := os.WriteFile(output, []byte(schemaJSON), 0644); err != nil {
		return fmt.Errorf("failed to write schema: %w", err)
	}

	log.Printf("Schema successfully generated at %s", output)

	return nil
}

func main() {
	cmd := &cli.Command{
		Name:  "tradescan",
		Usage: "Deterministic governance-gated backtest pipeline",
		Commands: []*cli.Command{
			{
				Name:      "run",
				Usage:     "Run the full stage sequence for a directive",
				ArgsUsage: "[directive-id]",
				Flags: []cli.Flag{
					configFlag,
					&cli.BoolFlag{
						Name:  "all",
						Usage: "Run every directive in the active folder",
					},
					&cli.BoolFlag{
						Name:  "force",
						Usage: "Re-run a completed directive",
					},
				},
				Action: runAction,
			},
			{
				Name:  "stage1",
				Usage: "Execute stage 1 for a single symbol run",
				Flags: []cli.Flag{
					configFlag,
					&cli.StringFlag{
						Name:     "directive",
						Usage:    "Directive id",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "symbol",
						Usage:    "Symbol within the directive scope",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "run-id",
						Usage:    "Expected run id, refused on mismatch",
						Required: true,
					},
				},
				Action: stage1Action,
			},
			{
				Name:      "preflight",
				Usage:     "Validate a directive without mutating any state",
				ArgsUsage: "<directive-id>",
				Flags:     []cli.Flag{configFlag},
				Action:    preflightAction,
			},
			{
				Name:      "reset",
				Usage:     "Reset a directive's governance state with an audited reason",
				ArgsUsage: "<directive-id>",
				Flags: []cli.Flag{
					configFlag,
					&cli.StringFlag{
						Name:     "reason",
						Usage:    "Reason recorded in the audit log",
						Required: true,
					},
					&cli.BoolFlag{
						Name:  "to-stage4",
						Usage: "Keep completed run states and redo portfolio assembly only",
					},
				},
				Action: resetAction,
			},
			{
				Name:  "schema",
				Usage: "Generate the JSON schema for the pipeline config",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Write the schema to this path instead of stdout",
					},
				},
				Action: schemaAction,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		if exitErr, ok := err.(cli.ExitCoder); ok {
			os.Exit(exitErr.ExitCode())
		}

		log.Fatal(err)
	}
}
