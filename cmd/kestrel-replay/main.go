// Command kestrel-replay replays a labelled transaction CSV through the
// fraud detector and reports precision, recall and F1.
//
// Usage:
//
//	kestrel-replay local  --csv data.csv [--config kestrel.yaml]
//	kestrel-replay remote --csv data.csv --url http://localhost:8080
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// detectFunc decides a chunk of transactions, keyed by transaction ID.
type detectFunc func(ctx context.Context, txs []domain.Transaction) (map[string]domain.VerdictResponse, error)

var rootCmd = &cobra.Command{
	Use:   "kestrel-replay",
	Short: "Replay labelled transactions through Kestrel",
	Long: `kestrel-replay reads a CSV of transactions with a ground-truth fraud
label, sends them through the detector in batches and prints a confusion
matrix with precision, recall and F1.

Columns use the transaction wire names (transaction_id, transaction_amount,
transaction_date, ...) plus a label column: is_fraud, is_fraud_reported,
isfraud or label.`,
	SilenceUsage:      true,
	PersistentPreRunE: initConfig,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("csv", "", "labelled CSV file (required)")
	flags.Int("limit", 0, "maximum transactions to replay (0 = all)")
	flags.Int("chunk", 500, "transactions per batch")
	flags.String("log-level", "warn", "log level (debug, info, warn, error)")

	_ = viper.BindPFlag("replay.csv", flags.Lookup("csv"))
	_ = viper.BindPFlag("replay.limit", flags.Lookup("limit"))
	_ = viper.BindPFlag("replay.chunk", flags.Lookup("chunk"))
	_ = viper.BindPFlag("logging.level", flags.Lookup("log-level"))

	rootCmd.AddCommand(localCmd())
	rootCmd.AddCommand(remoteCmd())
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initConfig(_ *cobra.Command, _ []string) error {
	viper.SetEnvPrefix("KESTREL_REPLAY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("logging.level"))); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	return nil
}

// replay loads the dataset and feeds it through detect chunk by chunk.
func replay(ctx context.Context, detect detectFunc) (*Report, error) {
	path := viper.GetString("replay.csv")
	if path == "" {
		return nil, fmt.Errorf("--csv is required")
	}

	samples, skipped, err := ReadSamplesFile(path, viper.GetInt("replay.limit"))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	fmt.Printf("Loaded %d transactions from %s (%d skipped)\n", len(samples), path, skipped)

	report, err := run(ctx, samples, viper.GetInt("replay.chunk"), detect)
	if report != nil {
		report.Skipped = skipped
	}
	return report, err
}

// run scores samples in chunks. A chunk that fails outright counts every
// sample in it as an error.
func run(ctx context.Context, samples []Sample, chunk int, detect detectFunc) (*Report, error) {
	if chunk <= 0 {
		chunk = 500
	}

	report := &Report{BySource: make(map[string]int64)}
	start := time.Now()
	defer func() { report.Duration = time.Since(start) }()

	for lo := 0; lo < len(samples); lo += chunk {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		hi := min(lo+chunk, len(samples))

		txs := make([]domain.Transaction, hi-lo)
		for i, s := range samples[lo:hi] {
			txs[i] = s.Tx
		}

		verdicts, err := detect(ctx, txs)
		if err != nil {
			slog.Error("batch failed", "offset", lo, "size", len(txs), "error", err)
			report.Matrix.Errors += int64(len(txs))
			continue
		}

		for _, s := range samples[lo:hi] {
			v, ok := verdicts[s.Tx.ID]
			if !ok {
				report.Matrix.Errors++
				continue
			}
			source := v.Source
			if source == "" {
				source = "none"
			}
			report.BySource[source]++
			if source == string(domain.SourceError) {
				report.Matrix.Errors++
			}
			report.Matrix.Add(v.IsFraud, s.Fraud)
		}
		slog.Debug("chunk replayed", "done", hi, "total", len(samples))
	}
	return report, nil
}
