package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/semidx/internal/memory"
	"github.com/fyrsmithlabs/semidx/internal/search"
	"github.com/fyrsmithlabs/semidx/internal/vectorstore"
)

var (
	searchTopK     int
	searchType     string
	searchMinScore float32
	searchExplain  bool
	similarTopK    int
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the index by natural-language query",
	Long: `Embed the query and return the closest records by cosine similarity.

Examples:
  # Basic search
  semidx search "login button not clickable"

  # Restrict to failures with a score floor
  semidx search "timeout waiting for element" --type failure --min-score 0.5`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

var similarCmd = &cobra.Command{
	Use:   "similar <record-id>",
	Short: "Find records similar to an existing record",
	Long: `Return the records closest to the given record's stored embedding.
The record itself is excluded from the results.

Examples:
  semidx similar test-login-001
  semidx similar test-login-001 --top-k 5`,
	Args: cobra.ExactArgs(1),
	RunE: runSimilar,
}

func init() {
	searchCmd.Flags().IntVar(&searchTopK, "top-k", 0, "maximum results (0 uses the configured default)")
	searchCmd.Flags().StringVar(&searchType, "type", "", "restrict to a record type")
	searchCmd.Flags().Float32Var(&searchMinScore, "min-score", 0, "minimum similarity score")
	searchCmd.Flags().BoolVar(&searchExplain, "explain", false, "print a match explanation per result")
	similarCmd.Flags().IntVar(&similarTopK, "top-k", 0, "maximum results (0 uses the configured default)")
}

func runSearch(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	var filter *vectorstore.Filter
	if searchType != "" {
		filter = &vectorstore.Filter{Types: []memory.RecordType{memory.RecordType(searchType)}}
	}

	results, err := a.engine.Search(cmd.Context(), args[0], filter, searchTopK, searchMinScore)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	printResults(results)
	if searchExplain {
		for _, r := range results {
			fmt.Printf("\n%s\n", search.Explain(args[0], r))
		}
	}
	return nil
}

func runSimilar(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	results, err := a.engine.FindSimilar(cmd.Context(), args[0], nil, similarTopK)
	if err != nil {
		return fmt.Errorf("find similar failed: %w", err)
	}

	printResults(results)
	return nil
}

func printResults(results []memory.SearchResult) {
	if len(results) == 0 {
		fmt.Println("No results")
		return
	}
	for _, r := range results {
		fmt.Printf("%2d. [%.4f] %s (%s)\n", r.Rank, r.Score, r.Record.ID, r.Record.Type)
		fmt.Printf("    %s\n", truncate(r.Record.Text, 120))
	}
}

// truncate shortens s to at most max runes, ellipsis included.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}
