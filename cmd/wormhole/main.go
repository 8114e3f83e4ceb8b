// Command wormhole is the operator-facing CLI for wormholed: a thin
// client over the control socket, used to open and close sessions and
// to inspect daemon status from a terminal or a script.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wormhole-dev/wormhole/internal/config"
	"github.com/wormhole-dev/wormhole/internal/controlsocket"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app carries flags shared by every subcommand.
type app struct {
	socketPath string
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "wormhole",
		Short:         "Manage wormhole daemon sessions from the terminal",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVar(&a.socketPath, "socket", "", "path to wormholed's control socket (defaults to the daemon's configured path)")

	rootCmd.AddCommand(
		newOpenCmd(a),
		newCloseCmd(a),
		newListCmd(a),
		newStatusCmd(a),
		newResolveAttachCmd(a),
	)
	return rootCmd
}

// resolveSocketPath honors an explicit --socket flag, falling back to
// the same default the daemon itself resolves when unset.
func (a *app) resolveSocketPath() (string, error) {
	if a.socketPath != "" {
		return a.socketPath, nil
	}
	configPath, err := config.DefaultPath()
	if err != nil {
		return "", err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return "", err
	}
	return cfg.ControlSocketPath, nil
}

func (a *app) send(req any) (any, error) {
	path, err := a.resolveSocketPath()
	if err != nil {
		return nil, fmt.Errorf("resolve control socket path: %w", err)
	}
	resp, err := controlsocket.Send(path, req)
	if err != nil {
		return nil, fmt.Errorf("talk to wormholed at %s: %w", path, err)
	}
	if errBody, ok := resp.(*controlsocket.ErrorBody); ok {
		return nil, fmt.Errorf("%s: %s", errBody.Code, errBody.Message)
	}
	return resp, nil
}

func newOpenCmd(a *app) *cobra.Command {
	var name, directory string
	cmd := &cobra.Command{
		Use:   "open [--name NAME] --directory DIR",
		Short: "Open a new session for a working directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			if directory == "" {
				return fmt.Errorf("--directory is required")
			}
			resp, err := a.send(controlsocket.OpenSessionRequest{
				Type:      controlsocket.TypeOpenSession,
				Name:      name,
				Directory: directory,
			})
			if err != nil {
				return err
			}
			success := resp.(controlsocket.SuccessResponse)
			fmt.Fprintf(cmd.OutOrStdout(), "opened session %v\n", success.Data["name"])
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "session name (auto-generated from the directory if omitted)")
	cmd.Flags().StringVar(&directory, "directory", "", "working directory for the session")
	return cmd
}

func newCloseCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "close NAME",
		Short: "Close a running session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := a.send(controlsocket.CloseSessionRequest{Type: controlsocket.TypeCloseSession, Name: args[0]})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "closed session %s\n", args[0])
			return nil
		},
	}
	return cmd
}

func newListCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List open sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := a.send(controlsocket.ListSessionsRequest{Type: controlsocket.TypeListSessions})
			if err != nil {
				return err
			}
			list := resp.(controlsocket.SessionListResponse)
			if len(list.Sessions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no open sessions")
				return nil
			}
			for _, s := range list.Sessions {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\n", s.Name, s.State, s.Directory, formatCost(s.CostUSD))
			}
			return nil
		},
	}
	return cmd
}

func newStatusCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the daemon's version, pid, and session count",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := a.send(controlsocket.GetStatusRequest{Type: controlsocket.TypeGetStatus})
			if err != nil {
				return err
			}
			status := resp.(controlsocket.StatusResponse)
			fmt.Fprintf(cmd.OutOrStdout(), "version: %s\npid: %d\nport: %d\nsessions: %d\n",
				status.Version, status.PID, status.Port, status.Sessions)
			return nil
		},
	}
	return cmd
}

func newResolveAttachCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve-attach NAME",
		Short: "Print the driver's session id for a named session, once captured",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := a.send(controlsocket.ResolveAttachRequest{Type: controlsocket.TypeResolveAttach, Name: args[0]})
			if err != nil {
				return err
			}
			result := resp.(controlsocket.ResolveAttachResponse)
			fmt.Fprintln(cmd.OutOrStdout(), result.DriverSessionID)
			return nil
		},
	}
	return cmd
}

func formatCost(costUSD float64) string {
	return fmt.Sprintf("$%.4f", costUSD)
}
