package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bdobrica/Ely/internal/ely/memory"
)

func newListCmd(open opener) *cobra.Command {
	var scopeName string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the identities that have a stored history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := memory.ParseScope(scopeName)
			if err != nil {
				return err
			}
			s, closer, err := open()
			if err != nil {
				return err
			}
			defer closer.Close()

			ids, err := s.List(cmd.Context(), scope)
			if err != nil {
				return fmt.Errorf("list %s: %w", scope, err)
			}
			out := cmd.OutOrStdout()
			if len(ids) == 0 {
				fmt.Fprintf(out, "No %s histories stored.\n", scope)
				return nil
			}
			for _, id := range ids {
				fmt.Fprintln(out, id)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&scopeName, "scope", string(memory.ScopeUser), "memory scope (user or server)")
	return cmd
}
