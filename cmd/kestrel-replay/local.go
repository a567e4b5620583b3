package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/config"
	"github.com/opensource-finance/kestrel/internal/detect"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/model"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
)

func localCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "local",
		Short: "Replay in-process against the configured rule store and model",
		Long: `Builds the detector in-process from a Kestrel config file and runs
every chunk through DetectBatch. Verdicts are not persisted unless --persist
is given.`,
		RunE: runLocal,
	}

	cmd.Flags().String("config", "", "Kestrel config file (default $"+config.EnvConfigPath+")")
	cmd.Flags().Bool("persist", false, "store transactions and verdicts in the repository")

	_ = viper.BindPFlag("local.config", cmd.Flags().Lookup("config"))
	_ = viper.BindPFlag("local.persist", cmd.Flags().Lookup("persist"))

	return cmd
}

func runLocal(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load(viper.GetString("local.config"))
	if err != nil {
		return err
	}

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("failed to open rule store: %w", err)
	}
	defer repo.Close()

	rc := cache.NewRuleCache(cache.NewLRUCache(16))
	engine := rules.NewEngine(repo, rc, cfg.Detection.RuleCacheTTL())
	if cfg.Detection.SeedDefaultRules {
		if _, err := rules.SeedDefaults(ctx, rules.NewManager(repo, rc, engine)); err != nil {
			return err
		}
	}

	scorer, err := model.NewScorer(cfg.Model)
	if err != nil {
		return err
	}

	orchestrator := detect.New(engine, scorer, detect.OptionsFromConfig(cfg.Detection))
	if viper.GetBool("local.persist") {
		orchestrator.WithSink(detect.NewStoreSink(repo, nil))
	}

	fmt.Printf("Replaying locally (rules from %s, model available: %v)\n", cfg.Repository.Driver, scorer.Available())
	report, err := replay(ctx, func(ctx context.Context, txs []domain.Transaction) (map[string]domain.VerdictResponse, error) {
		verdicts := orchestrator.DetectBatch(ctx, txs)
		out := make(map[string]domain.VerdictResponse, len(verdicts))
		for id, v := range verdicts {
			out[id] = v.Response()
		}
		return out, nil
	})
	if report != nil {
		report.print(os.Stdout)
	}
	return err
}
