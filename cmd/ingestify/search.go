package main

import (
	"context"
	"fmt"
	"time"

	"github.com/graftio/ingestify/pkg/rpc"
	"github.com/spf13/cobra"
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Run a vector similarity search against an index",
	Long: `Search embeds the given query text with the index's own extractor
and prints the scored, text-enriched hits (content id, score, labels, and
the extracted text pulled from blob storage).`,
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().String("addr", "127.0.0.1:8080", "Coordinator RPC address")
	searchCmd.Flags().String("namespace", "", "Namespace (required)")
	searchCmd.Flags().String("index", "", "Index name (required)")
	searchCmd.Flags().Int("k", 10, "Number of results to return")
	searchCmd.Flags().String("query", "", "Query text (required)")
	_ = searchCmd.MarkFlagRequired("namespace")
	_ = searchCmd.MarkFlagRequired("index")
	_ = searchCmd.MarkFlagRequired("query")
}

func runSearch(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	namespace, _ := cmd.Flags().GetString("namespace")
	index, _ := cmd.Flags().GetString("index")
	k, _ := cmd.Flags().GetInt("k")
	queryText, _ := cmd.Flags().GetString("query")

	client, err := rpc.NewClient(addr)
	if err != nil {
		return fmt.Errorf("failed to connect to coordinator: %w", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	hits, err := client.Search(ctx, rpc.SearchRequest{
		Namespace: namespace,
		IndexName: index,
		QueryText: queryText,
		K:         k,
	})
	if err != nil {
		return err
	}

	if len(hits) == 0 {
		fmt.Println("no results")
		return nil
	}
	for i, hit := range hits {
		fmt.Printf("%d. content=%s score=%.4f labels=%v\n   %s\n", i+1, hit.ContentID, hit.Score, hit.Labels, truncate(hit.Text, 200))
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
