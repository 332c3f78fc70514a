package cli

import (
	"strings"

	"chatwire/internal/client/session"

	"github.com/spf13/cobra"
)

func newResumeCmd(o *options) *cobra.Command {
	var files []string
	cmd := &cobra.Command{
		Use:   "resume <thread-id> [message]",
		Short: "Replay a thread and optionally continue it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := o.context(cmd)
			defer cancel()
			app, tc := o.newApp(cmd)
			defer tc.Close()
			defer app.Close()

			if err := app.LoadSettings(ctx, o.cfg.Language); err != nil {
				return err
			}
			if err := app.Start(ctx); err != nil {
				return err
			}
			mode, err := openThread(ctx, app, args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			renderSteps(w, app.Tree.Flatten())

			msg := strings.TrimSpace(strings.Join(args[1:], " "))
			if msg == "" && len(files) == 0 {
				return nil
			}
			if mode == session.OpenReadOnly {
				return errReadOnly
			}
			return converse(ctx, w, o, app, tc, msg, files)
		},
	}
	cmd.Flags().StringSliceVarP(&files, "file", "a", nil, "attach a file (repeatable)")
	return cmd
}
