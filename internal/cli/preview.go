package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/suPer8Hu/autoreply-agent/internal/agent"
	"github.com/suPer8Hu/autoreply-agent/internal/chat"
)

var previewAgentID uint64

var previewCmd = &cobra.Command{
	Use:   "preview <message>",
	Short: "Generate the reply an agent would send, without sending it",
	Long: `Generate the reply an agent would send to a single customer message.

Nothing is stored and no platform is contacted.

Examples:
  agentctl preview "What are your opening hours?"
  agentctl preview --agent 3 "Do you ship abroad?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPreview,
}

func init() {
	previewCmd.Flags().Uint64Var(&previewAgentID, "agent", 0, "agent id (default: the most recently created agent)")
}

func runPreview(cmd *cobra.Command, args []string) error {
	msg := strings.TrimSpace(strings.Join(args, " "))
	if msg == "" {
		return errors.New("message is required")
	}
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	var ag *agent.Agent
	if previewAgentID != 0 {
		ag, err = a.Agents.GetAgent(ctx, previewAgentID)
	} else {
		ag, err = a.Agents.LatestAgent(ctx)
	}
	if err != nil {
		return fmt.Errorf("load agent: %w", err)
	}

	out := a.Generator.Generate(ctx, ag, []chat.Message{{Sender: chat.SenderCustomer, Content: msg}}, msg)
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Agent:   %s (%s)\n", ag.Name, ag.Model)
	fmt.Fprintf(w, "Outcome: %s\n", out.Outcome)
	if out.Err != nil {
		fmt.Fprintf(w, "Error:   %v\n", out.Err)
	}
	fmt.Fprintf(w, "\n%s\n", out.Text)
	return nil
}
