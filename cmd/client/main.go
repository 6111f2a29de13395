package main

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/Tyrowin/groupchat/internal/client"
	"github.com/Tyrowin/groupchat/internal/directory"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		rosterPath string
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:           "gochat <host> <port>",
		Short:         "Terminal client for the group chat server",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(_ *cobra.Command, args []string) error {
			var dir directory.Directory = directory.Default()
			if rosterPath != "" {
				roster, err := directory.Load(rosterPath)
				if err != nil {
					return err
				}
				dir = roster
			}

			network, err := client.Dial(net.JoinHostPort(args[0], args[1]), timeout)
			if err != nil {
				return err
			}
			defer network.Close()

			final, err := tea.NewProgram(client.NewModel(network, dir), tea.WithAltScreen()).Run()
			if err != nil {
				return err
			}
			if m, ok := final.(client.Model); ok && m.Err() != nil {
				return m.Err()
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&rosterPath, "directory", "", "roster file used to show names for identities")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "connect timeout")
	return cmd
}
