package cmds

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/chat-relay/pkg/client"
	"github.com/go-go-golems/chat-relay/pkg/ui"
)

func NewClientCommand() *cobra.Command {
	var (
		url     string
		session string
		name    string
		plain   bool
	)
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Join a relay session from the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			c, err := client.Dial(ctx, url, nil)
			cancel()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			if err := c.Join(session, name); err != nil {
				return err
			}
			title := fmt.Sprintf("chat-relay · %s", name)
			if session != "" {
				title += " · " + session
			}
			var opts []ui.Option
			if plain {
				opts = append(opts, ui.WithPlainText())
			}
			model := ui.NewModel(c, ui.Pump(c), title, opts...)
			_, err = tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(cmd.Context())).Run()
			return err
		},
	}
	cmd.Flags().StringVar(&url, "url", "ws://localhost:5000/ws", "Relay websocket URL")
	cmd.Flags().StringVar(&session, "session", "", "Session to join; empty starts a new one")
	cmd.Flags().StringVar(&name, "name", "Guest", "Display name")
	cmd.Flags().BoolVar(&plain, "plain", false, "Do not render assistant replies as markdown")
	return cmd
}
