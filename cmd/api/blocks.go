package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"coauthor/api/internal/blocks"
)

func newBlocksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blocks",
		Short: "Inspect and validate content blocks",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "types",
			Short: "List block types",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				for _, t := range blocks.Types() {
					fmt.Fprintln(cmd.OutOrStdout(), t)
				}
			},
		},
		&cobra.Command{
			Use:   "new [type]",
			Short: "Print a block of the given type with default props",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				b, err := blocks.Create(blocks.Type(args[0]), nil)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(b)
			},
		},
		&cobra.Command{
			Use:   "validate [file]",
			Short: `Validate a JSON file of the form {"type": ..., "props": {...}}`,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				raw, err := os.ReadFile(args[0])
				if err != nil {
					return err
				}
				var in struct {
					Type  blocks.Type     `json:"type"`
					Props json.RawMessage `json:"props"`
				}
				if err := json.Unmarshal(raw, &in); err != nil {
					return fmt.Errorf("parse %s: %w", args[0], err)
				}
				_, errs := blocks.Validate(in.Type, in.Props)
				for _, e := range errs {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", e.Field, e.Reason)
				}
				if len(errs) > 0 {
					return errors.New("block is invalid")
				}
				fmt.Fprintln(cmd.OutOrStdout(), "ok")
				return nil
			},
		},
	)
	return cmd
}
