package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newSettingsCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "settings",
		Short: "Print the server settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := o.context(cmd)
			defer cancel()
			settings, err := o.api().Settings(ctx, o.cfg.Language).Unpack()
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			defer func() { _ = enc.Close() }()
			return enc.Encode(settings)
		},
	}
}

func newLoginCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "login <token>",
		Short: "Store a bearer token for this server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := o.context(cmd)
			defer cancel()
			o.cfg.Token = args[0]
			if _, err := o.api().Settings(ctx, o.cfg.Language).Unpack(); err != nil {
				return fmt.Errorf("token rejected: %w", err)
			}
			if err := o.prefs.SetToken(args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "logged in to "+o.cfg.Server)
			return nil
		},
	}
}
