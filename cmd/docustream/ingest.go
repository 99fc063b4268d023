package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/WessleyAI/docustream/engine/domain"
	"github.com/WessleyAI/docustream/engine/ingest"
	"github.com/spf13/cobra"
)

// fileResult is one line of `docustream ingest` output.
type fileResult struct {
	File string `json:"file"`
	ingest.Result
}

func newIngestCmd(root *rootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest FILE...",
		Short: "Chunk, embed and index local text files",
		Long: `Runs the ingestion pipeline in the foreground for each file and prints
one JSON result per file. Files are never deleted.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			enc := json.NewEncoder(cmd.OutOrStdout())
			failed := 0
			for _, path := range args {
				res := ingestFile(cmd, a, cfg.HTTP.AllowedExtensions, path)
				if res.Status != ingest.StatusSuccess {
					failed++
				}
				if err := enc.Encode(fileResult{File: path, Result: res}); err != nil {
					return err
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d files failed", failed, len(args))
			}
			return nil
		},
	}
}

func ingestFile(cmd *cobra.Command, a *app, allowed []string, path string) ingest.Result {
	name := filepath.Base(path)
	if err := domain.ValidateFilename(name, allowed); err != nil {
		return ingest.Failed(err)
	}
	content, err := ingest.ReadDocument(path)
	if err != nil {
		return ingest.Failed(err)
	}
	return a.orch.Process(cmd.Context(), name, content)
}
