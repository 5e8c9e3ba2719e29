package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/bdobrica/Ely/internal/ely/memory"
)

func newShowCmd(open opener) *cobra.Command {
	var (
		scopeName string
		id        string
		output    string
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the stored history of one identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := memory.ParseScope(scopeName)
			if err != nil {
				return err
			}
			if id == "" {
				return fmt.Errorf("--id is required")
			}
			s, closer, err := open()
			if err != nil {
				return err
			}
			defer closer.Close()

			rec, err := s.Load(cmd.Context(), memory.Key{Scope: scope, ID: id})
			if err != nil {
				return err
			}
			return writeRecord(cmd.OutOrStdout(), rec, output)
		},
	}

	cmd.Flags().StringVar(&scopeName, "scope", string(memory.ScopeUser), "memory scope (user or server)")
	cmd.Flags().StringVar(&id, "id", "", "user ID or room ID")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text, json or yaml")
	return cmd
}

func writeRecord(w io.Writer, rec memory.Record, format string) error {
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rec.Messages)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(rec.Messages); err != nil {
			return err
		}
		return enc.Close()
	case "text", "":
		if rec.Len() == 0 {
			fmt.Fprintln(w, "(empty)")
			return nil
		}
		for _, m := range rec.Messages {
			fmt.Fprintf(w, "[%s] %s\n", m.Role, m.Content)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format %q (want text, json or yaml)", format)
	}
}
