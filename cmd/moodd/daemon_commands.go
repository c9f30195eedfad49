package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/austinkregel/local-media/moodd/internal/ipc"
	"github.com/austinkregel/local-media/moodd/internal/types"
)

const daemonTimeout = 5 * time.Second

// dialDaemon connects to the socket of a running `moodd serve`
func dialDaemon(cmd *cobra.Command, ctx *commandContext, socket string) (*ipc.Client, context.Context, context.CancelFunc, error) {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	if socket == "" {
		socket = cfg.IPC.Socket
	}
	if socket == "" {
		socket = ipc.DefaultSocketPath()
	}

	callCtx, cancel := context.WithTimeout(cmd.Context(), daemonTimeout)
	client, err := ipc.Dial(callCtx, socket)
	if err != nil {
		cancel()
		return nil, nil, nil, fmt.Errorf("daemon not reachable (is `moodd serve` running?): %w", err)
	}
	return client, callCtx, cancel, nil
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var socket string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the running daemon's mood, personality and analysis progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, callCtx, cancel, err := dialDaemon(cmd, ctx, socket)
			if err != nil {
				return err
			}
			defer cancel()
			defer client.Close()

			var st ipc.StatusResponse
			if err := client.Call(callCtx, ipc.CmdStatus, nil, &st); err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, st)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Mood: %s (confidence %s)\n", st.Mood.Category, f2(st.Mood.Confidence))
			if st.Personality.Established {
				fmt.Fprintf(out, "Personality: %s\n", st.Personality.Dominant)
			} else {
				fmt.Fprintln(out, "Personality: not established")
			}
			if st.Analysis != nil {
				a := st.Analysis
				fmt.Fprintf(out, "Analysis: %s, queued %d, analyzed %d, cached %d, failed %d\n",
					a.Status, a.Queued, a.Analyzed, a.Cached, a.Failed)
			}

			traits := make([]string, 0, len(st.Personality.Weights))
			for name := range st.Personality.Weights {
				traits = append(traits, name)
			}
			sort.Strings(traits)
			rows := make([][]string, 0, len(traits))
			for _, name := range traits {
				rows = append(rows, []string{name, f2(st.Personality.Weights[name])})
			}
			fmt.Fprintln(out, renderTable(out, []string{"Trait", "Weight"}, rows, []columnAlignment{alignLeft, alignRight}))
			return nil
		},
	}

	cmd.Flags().StringVar(&socket, "socket", "", "Control socket path (overrides ipc.socket)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the status as JSON")
	return cmd
}

func newMoodCommand(ctx *commandContext) *cobra.Command {
	var socket string

	cmd := &cobra.Command{
		Use:       "mood <category>",
		Short:     "Tell the running daemon how you feel",
		Args:      cobra.ExactArgs(1),
		ValidArgs: moodNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, ok := types.ParseMoodCategory(args[0])
			if !ok {
				return fmt.Errorf("unknown mood %q (valid: %v)", args[0], moodNames())
			}

			client, callCtx, cancel, err := dialDaemon(cmd, ctx, socket)
			if err != nil {
				return err
			}
			defer cancel()
			defer client.Close()

			if err := client.Call(callCtx, ipc.CmdSetMood, ipc.SetMoodRequest{Mood: m.String()}, nil); err != nil {
				return err
			}
			d := m.Descriptor()
			fmt.Fprintf(cmd.OutOrStdout(), "Mood set to %s (%s tempo, %s energy, %s valence)\n", m, d.Tempo, d.Energy, d.Valence)
			return nil
		},
	}

	cmd.Flags().StringVar(&socket, "socket", "", "Control socket path (overrides ipc.socket)")
	return cmd
}

func moodNames() []string {
	moods := types.AllMoods()
	names := make([]string, len(moods))
	for i, m := range moods {
		names[i] = m.String()
	}
	return names
}
