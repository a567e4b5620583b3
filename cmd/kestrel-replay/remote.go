package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/domain"
)

func remoteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Replay against a running Kestrel server",
		RunE:  runRemote,
	}

	cmd.Flags().String("url", "http://localhost:8080", "Kestrel base URL")
	cmd.Flags().Duration("timeout", 60*time.Second, "per-batch HTTP timeout")

	_ = viper.BindPFlag("remote.url", cmd.Flags().Lookup("url"))
	_ = viper.BindPFlag("remote.timeout", cmd.Flags().Lookup("timeout"))

	return cmd
}

func runRemote(cmd *cobra.Command, _ []string) error {
	client := &Client{
		BaseURL: strings.TrimRight(viper.GetString("remote.url"), "/"),
		HTTP:    &http.Client{Timeout: viper.GetDuration("remote.timeout")},
	}

	if err := client.Health(cmd.Context()); err != nil {
		return fmt.Errorf("kestrel not reachable at %s: %w", client.BaseURL, err)
	}
	fmt.Printf("Replaying against %s\n", client.BaseURL)

	report, err := replay(cmd.Context(), client.DetectBatch)
	if report != nil {
		report.print(os.Stdout)
	}
	return err
}

// Client talks to the Kestrel HTTP API.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// Health checks GET /health.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// DetectBatch posts txs to /detect/batch.
func (c *Client) DetectBatch(ctx context.Context, txs []domain.Transaction) (map[string]domain.VerdictResponse, error) {
	body, err := json.Marshal(api.BatchRequest{Transactions: txs})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/detect/batch", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var result api.BatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode batch response: %w", err)
	}
	return result.Results, nil
}
