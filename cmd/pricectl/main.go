package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"itemprice/internal/client"
)

var (
	serverURL string
	apiKey    string
	timeout   time.Duration
)

func main() {
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:           "pricectl",
		Short:         "Operate the item price aggregation service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&serverURL, "server", envOr("PRICING_SERVER", "http://localhost:8080"), "pricing service base URL")
	root.PersistentFlags().StringVar(&apiKey, "key", os.Getenv("PRICING_API_KEY"), "shared secret for batch endpoints")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Minute, "request timeout")

	root.AddCommand(runCmd(), queueCmd(), resetCmd(), historyCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func newClient() *client.Client {
	return client.New(serverURL, apiKey, timeout)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runCmd() *cobra.Command {
	var req client.BatchRequest
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Trigger one batch run",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := newClient().RunBatch(req)
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}
	cmd.Flags().IntVar(&req.Limit, "limit", 0, "report budget (default 1000, max 10000)")
	cmd.Flags().IntVar(&req.GroupByLimit, "group-limit", 0, "groups fetched per call (default 1000)")
	cmd.Flags().IntVar(&req.Page, "page", 0, "page through eligible groups")
	return cmd
}

func queueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "Show the eligible backlog",
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := newClient().QueueDepth()
			if err != nil {
				return err
			}
			return printJSON(q)
		},
	}
}

func resetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Clear processing markers so every group can be retried",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := newClient().ResetHistory()
			if err != nil {
				return err
			}
			fmt.Printf("deleted %d markers\n", n)
			return nil
		},
	}
}

func historyCmd() *cobra.Command {
	var itemID int64
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the trusted price history of an item",
		RunE: func(cmd *cobra.Command, args []string) error {
			points, err := newClient().PriceHistory(itemID)
			if err != nil {
				return err
			}
			return printJSON(points)
		},
	}
	cmd.Flags().Int64Var(&itemID, "item", 0, "external item id")
	_ = cmd.MarkFlagRequired("item")
	return cmd
}
