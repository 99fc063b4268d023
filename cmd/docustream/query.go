package main

import (
	"encoding/json"
	"strings"

	"github.com/WessleyAI/docustream/engine/api"
	"github.com/WessleyAI/docustream/engine/domain"
	"github.com/spf13/cobra"
)

func newQueryCmd(root *rootOpts) *cobra.Command {
	var topK int
	cmd := &cobra.Command{
		Use:   "query TEXT...",
		Short: "Print the chunks nearest to TEXT as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			if err := domain.ValidateQuery(text, topK); err != nil {
				return err
			}
			cfg, logger, err := root.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.index.Query(cmd.Context(), text, topK)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(api.QueryResponse{Results: res})
		},
	}
	cmd.Flags().IntVarP(&topK, "top-k", "k", api.DefaultTopK, "number of results")
	return cmd
}
