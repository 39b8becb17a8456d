package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/BaSui01/webpilot/internal/metrics"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🌱 seed 命令
// =============================================================================

// scenarioFile 是 seed 文件格式：
//
//	scenarios:
//	  - goal: "log in to the admin console"
//	    steps:
//	      - "type 4 admin"
//	      - "click 7"
type scenarioFile struct {
	Scenarios []seedScenario `yaml:"scenarios"`
}

type seedScenario struct {
	Goal  string   `yaml:"goal"`
	Steps []string `yaml:"steps"`
}

func newSeedCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <scenarios.yaml>",
		Short: "Import successful scenarios into experience memory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd.Context(), flags, args[0], cmd.OutOrStdout())
		},
	}
}

func runSeed(ctx context.Context, flags *globalFlags, path string, out io.Writer) error {
	_, cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	if cfg.Memory.PersistPath == "" {
		return fmt.Errorf("memory.persist_path must be set, seeding an in-memory base has no effect")
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	scenarios, err := parseScenarios(f)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	cfg.Log.OutputPaths = []string{"stderr"}
	logger, _ := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	a := &app{cfg: cfg, logger: logger, collector: metrics.NewCollector("webpilot", logger)}
	exp, err := a.openExperience()
	if err != nil {
		return err
	}

	for i, s := range scenarios {
		id, err := exp.AddScenario(ctx, s.Goal, s.Steps)
		if err != nil {
			return fmt.Errorf("scenario %d (%q): %w", i+1, s.Goal, err)
		}
		logger.Debug("scenario added", zap.String("id", id), zap.Int("steps", len(s.Steps)))
	}
	fmt.Fprintf(out, "seeded %d scenarios into %s\n", len(scenarios), cfg.Memory.PersistPath)
	return nil
}

// parseScenarios 解析并校验 seed 文件
func parseScenarios(r io.Reader) ([]seedScenario, error) {
	var file scenarioFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("no scenarios")
		}
		return nil, fmt.Errorf("parse scenarios: %w", err)
	}
	if len(file.Scenarios) == 0 {
		return nil, fmt.Errorf("no scenarios")
	}

	out := make([]seedScenario, 0, len(file.Scenarios))
	for i, s := range file.Scenarios {
		s.Goal = strings.TrimSpace(s.Goal)
		if s.Goal == "" {
			return nil, fmt.Errorf("scenario %d: goal is required", i+1)
		}
		steps := make([]string, 0, len(s.Steps))
		for _, step := range s.Steps {
			if step = strings.TrimSpace(step); step != "" {
				steps = append(steps, step)
			}
		}
		if len(steps) == 0 {
			return nil, fmt.Errorf("scenario %d: at least one step is required", i+1)
		}
		s.Steps = steps
		out = append(out, s)
	}
	return out, nil
}
