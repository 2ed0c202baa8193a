package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/semidx/internal/memory"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Ingest records from a JSON file or stdin",
	Long: `Ingest records into the index. Input is a JSON array of objects with
"id", "type", "text" and optional "metadata" fields. Records are embedded
in batches; a failing batch is skipped and the rest proceed.

Examples:
  # Ingest from a file
  semidx ingest records.json

  # Ingest from stdin
  cat records.json | semidx ingest -`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIngest,
}

// ingestEntry is one element of the ingest input array.
type ingestEntry struct {
	ID       string            `json:"id"`
	Type     string            `json:"type"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func runIngest(cmd *cobra.Command, args []string) error {
	var content []byte
	var err error

	if len(args) == 0 || args[0] == "-" {
		content, err = io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read from stdin: %w", err)
		}
	} else {
		content, err = os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read file %s: %w", args[0], err)
		}
	}

	var entries []ingestEntry
	if err := json.Unmarshal(content, &entries); err != nil {
		return fmt.Errorf("parsing input: %w", err)
	}
	if len(entries) == 0 {
		return fmt.Errorf("no records to ingest")
	}

	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	records := make([]*memory.MemoryRecord, 0, len(entries))
	for i, e := range entries {
		rec, err := memory.NewRecord(e.ID, memory.RecordType(e.Type), e.Text)
		if err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
		for k, v := range e.Metadata {
			rec.SetMeta(k, v)
		}
		records = append(records, rec)
	}

	stored, err := a.pipeline.Ingest(cmd.Context(), records)
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}

	fmt.Printf("Stored %d of %d records\n", stored, len(records))
	return nil
}
