package main

import (
	"fmt"
	"io"
	"os"

	"github.com/metalagman/bendover/internal/candidate"
	"github.com/metalagman/bendover/internal/turn"
	"github.com/spf13/cobra"
)

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a candidate body and print its action classification",
		Long:  "Validate a candidate body file (\"-\" reads stdin) with the same rules a run applies before execution.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				data []byte
				err  error
			)
			if args[0] == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(args[0])
			}
			if err != nil {
				return fmt.Errorf("read candidate: %w", err)
			}
			body := string(data)

			out := cmd.OutOrStdout()
			action := turn.Classify(body)
			fmt.Fprintf(out, "action: %s\n", action.Kind)
			if action.Command != "" {
				fmt.Fprintf(out, "command: %s\n", action.Command)
			}
			res := candidate.Validate(body)
			if res.Accepted() {
				fmt.Fprintln(out, "accepted")
				return nil
			}
			for _, reason := range res.Reasons {
				fmt.Fprintf(out, "rejected: %s\n", reason)
			}
			return fmt.Errorf("candidate rejected with %d violation(s)", len(res.Reasons))
		},
	}
}
