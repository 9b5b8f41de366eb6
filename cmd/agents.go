package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/abhisek/doctorai/internal/consult"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List the specialist profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg := consult.DefaultRegistry(cfg.Consult.DefaultAgent)
		def := reg.Default().ID
		out := cmd.OutOrStdout()

		fmt.Fprintf(out, "%-20s  %-24s  %s\n", "ID", "Title", "Specialties")
		fmt.Fprintln(out, strings.Repeat("─", 80))
		for _, p := range reg.Profiles() {
			id := p.ID
			if id == def {
				id += " *"
			}
			fmt.Fprintf(out, "%-20s  %-24s  %s\n", id, truncate(p.Title, 24), strings.Join(p.Specialties, ", "))
		}
		fmt.Fprintln(out, "\n* default")
		return nil
	},
}
