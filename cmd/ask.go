package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"charm.land/lipgloss/v2"
	"github.com/spf13/cobra"

	"github.com/abhisek/doctorai/internal/consult"
	"github.com/abhisek/doctorai/internal/ui/components"
)

const cardWidth = 80

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a single question and print the verified answer",
	Example: `  doctorai ask "Itchy dry patches on both elbows for two weeks"
  doctorai ask --agent dermatologist --image rash.jpg "Is this eczema?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		agent, _ := cmd.Flags().GetString("agent")
		imagePath, _ := cmd.Flags().GetString("image")
		asJSON, _ := cmd.Flags().GetBool("json")

		req := consult.Request{
			Question: strings.Join(args, " "),
			AgentID:  agent,
		}
		if imagePath != "" {
			data, err := os.ReadFile(imagePath)
			if err != nil {
				return fmt.Errorf("read image: %w", err)
			}
			req.Image = &consult.Image{Data: data, Filename: filepath.Base(imagePath)}
		}

		ctx := cmd.Context()
		svc, st, err := newService(ctx, cmd)
		if err != nil {
			return err
		}
		defer closeStore(st)

		res, err := svc.Analyze(ctx, req)
		if err != nil {
			return err
		}

		if asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		}
		_, err = lipgloss.Fprintln(cmd.OutOrStdout(), components.NewAnswerCard(res, cardWidth).View())
		return err
	},
}

func init() {
	askCmd.Flags().StringP("agent", "a", "", "Specialist profile (see `doctorai agents`)")
	askCmd.Flags().StringP("image", "i", "", "Path to a photo to attach")
	askCmd.Flags().Bool("json", false, "Print the full result as JSON")
}
