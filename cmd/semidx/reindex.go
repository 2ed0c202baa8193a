package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/semidx/internal/memory"
)

var (
	checkText    string
	driftText    string
	reindexDrain bool
	markStale    bool
	clearStale   bool
)

var checkCmd = &cobra.Command{
	Use:   "check <record-id>",
	Short: "Check whether a record's embedding is stale",
	Long: `Run the staleness checks against a stored record and report the first
matching reason. Pass --text to also compare against current content.

Examples:
  semidx check test-login-001
  semidx check test-login-001 --text "$(cat login_test.txt)"
  semidx check test-login-001 --mark
  semidx check test-login-001 --clear`,
	Args: cobra.ExactArgs(1),
	RunE: runCheck,
}

var driftCmd = &cobra.Command{
	Use:   "drift <record-id>",
	Short: "Check a record's embedding for semantic drift",
	Long: `Embed the record's current content and compare it against the stored
embedding. A record whose similarity falls below the drift threshold is
queued for re-embedding. Without --text the record's stored text is
re-embedded, which measures model drift rather than content drift.

Examples:
  semidx drift test-login-001 --text "$(cat login_test.txt)"
  semidx drift test-login-001`,
	Args: cobra.ExactArgs(1),
	RunE: runDrift,
}

var reindexCmd = &cobra.Command{
	Use:   "reindex [record-id...]",
	Short: "Queue stale records and optionally drain the queue",
	Long: `Check the given records for staleness and queue the stale ones for
re-embedding. With --drain, process the queue until empty.

Examples:
  # Queue stale records
  semidx reindex test-login-001 test-cart-002

  # Queue and immediately re-embed
  semidx reindex --drain test-login-001 test-cart-002`,
	RunE: runReindex,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show index status",
	RunE:  runStatus,
}

func init() {
	checkCmd.Flags().StringVar(&checkText, "text", "", "current content to compare against the stored fingerprint")
	checkCmd.Flags().BoolVar(&markStale, "mark", false, "mark the record manually stale")
	checkCmd.Flags().BoolVar(&clearStale, "clear", false, "clear the manual staleness flag")
	driftCmd.Flags().StringVar(&driftText, "text", "", "current content to embed and compare")
	reindexCmd.Flags().BoolVar(&reindexDrain, "drain", false, "process the queue until empty")
}

func runCheck(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	id := args[0]

	if markStale {
		if err := a.staleness.MarkStale(cmd.Context(), id); err != nil {
			return fmt.Errorf("marking stale: %w", err)
		}
		fmt.Printf("Marked %s stale\n", id)
		return nil
	}
	if clearStale {
		if err := a.staleness.ClearStale(cmd.Context(), id); err != nil {
			return fmt.Errorf("clearing stale flag: %w", err)
		}
		fmt.Printf("Cleared stale flag on %s\n", id)
		return nil
	}

	result, err := a.staleness.Check(cmd.Context(), id, checkText)
	if err != nil {
		return fmt.Errorf("staleness check failed: %w", err)
	}

	if !result.Stale {
		fmt.Printf("%s: fresh\n", id)
		return nil
	}

	fmt.Printf("%s: stale (%s)\n", id, result.Reason)
	switch result.Reason {
	case memory.ReasonVersionMismatch:
		fmt.Printf("  stored version:  %s\n", result.StoredVersion)
		fmt.Printf("  current version: %s\n", result.CurrentVersion)
	case memory.ReasonAgeThreshold:
		fmt.Printf("  age: %d days\n", result.AgeDays)
	}
	return nil
}

func runDrift(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	id := args[0]
	text := driftText
	if text == "" {
		rec, err := a.store.Get(cmd.Context(), id)
		if err != nil {
			return fmt.Errorf("loading %s: %w", id, err)
		}
		text = rec.Text
	}

	vec, err := a.provider.EmbedQuery(cmd.Context(), text)
	if err != nil {
		return fmt.Errorf("embedding content: %w", err)
	}

	result, err := a.drift.CheckDrift(cmd.Context(), id, vec)
	if err != nil {
		return fmt.Errorf("drift check failed: %w", err)
	}

	if !result.HasDrifted {
		fmt.Printf("%s: no drift (similarity %.4f, threshold %.2f)\n", id, result.Similarity, result.Threshold)
		return nil
	}

	fmt.Printf("%s: drifted (similarity %.4f, threshold %.2f)\n", id, result.Similarity, result.Threshold)
	if a.manager.QueueForDrift(id, result.Similarity) {
		fmt.Println("  queued for re-embedding")
	} else {
		fmt.Println("  already queued")
	}
	return nil
}

func runReindex(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("at least one record id is required")
	}

	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	queued, err := a.manager.CheckAndQueueStale(cmd.Context(), args, nil)
	if err != nil {
		return fmt.Errorf("queueing stale records: %w", err)
	}
	fmt.Printf("Queued %d of %d records\n", queued, len(args))

	if !reindexDrain {
		return nil
	}

	processed := 0
	for {
		ok, err := a.manager.ProcessNextJob(cmd.Context())
		if err != nil {
			fmt.Printf("  job failed: %v\n", err)
		}
		if !ok {
			break
		}
		processed++
	}
	fmt.Printf("Processed %d jobs\n", processed)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	count, err := a.store.Count(cmd.Context(), nil)
	if err != nil {
		return fmt.Errorf("counting records: %w", err)
	}

	fmt.Printf("Records:           %d\n", count)
	fmt.Printf("Pending reindexes: %d\n", a.manager.Queue().Len())
	fmt.Printf("Embedding model:   %s\n", a.provider.ModelName())
	fmt.Printf("Embedding version: %s\n", a.cfg.EmbeddingVersion().String())
	return nil
}
