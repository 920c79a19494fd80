package main

import (
	"fmt"
	"strings"

	"github.com/metalagman/bendover/internal/shellpolicy"
	"github.com/spf13/cobra"
)

func policyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect the shell command policy",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check <command>",
		Short: "Print the policy verdict for a shell command",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			command := strings.Join(args, " ")
			c := shellpolicy.Classify(command)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "kind: %s\n", c.Kind)
			if c.Verification != shellpolicy.VerifyNone {
				fmt.Fprintf(out, "verification: %s\n", c.Verification)
			}
			if ok, reason := shellpolicy.TryValidateAllowedForEngineer(command); !ok {
				fmt.Fprintf(out, "allowed: no\nreason: %s\n", reason)
				return nil
			}
			fmt.Fprintln(out, "allowed: yes")
			return nil
		},
	})
	return cmd
}
