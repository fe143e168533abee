package main

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/slipstream/acquire/internal/app"
)

func RunCheckCommand(configPath *string) *cobra.Command {
	var poll bool

	cmd := &cobra.Command{
		Use:   "check [backend id]",
		Short: "Ask a download backend whether a download has finished",
		Example: `  acquire check qbittorrent 8f1c0a...
  acquire check --poll`,
		Args: func(cmd *cobra.Command, args []string) error {
			if poll {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(2)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd.Context(), *configPath, true)
			if err != nil {
				return err
			}
			defer e.Close()

			a, err := app.Build(e.cfg, e.db.Conn(), e.log.Logger)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")

			if poll {
				summary, err := a.Poller.Poll(cmd.Context())
				if err != nil {
					return errors.Wrap(err, "poll snatches")
				}
				return enc.Encode(summary)
			}

			client, ok := a.Registry.Resolve(args[0])
			if !ok {
				return errors.Errorf("no download backend matches %q", args[0])
			}
			status, err := a.Registry.CheckCompleted(cmd.Context(), client.Type(), args[1])
			if err != nil {
				return err
			}
			if status == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%s cannot report on %s\n", client.Type(), args[1])
				return nil
			}
			return enc.Encode(status)
		},
	}

	cmd.Flags().BoolVar(&poll, "poll", false, "check every open snatch and update its status")
	return cmd
}
