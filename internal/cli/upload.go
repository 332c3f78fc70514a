package cli

import (
	"errors"
	"fmt"

	"chatwire/internal/client/upload"

	"github.com/spf13/cobra"
)

var errReadOnly = errors.New("thread is read-only: the server does not resume threads")

func newUploadCmd(o *options) *cobra.Command {
	var direct bool
	cmd := &cobra.Command{
		Use:   "upload <path>...",
		Short: "Upload files into a new session and print their references",
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
			if direct {
				app.SetUploader(upload.HTTPUploader{API: o.api(), SessionID: app.Session.Store().SessionID()})
			}
			w := cmd.OutOrStdout()
			refs, err := uploadPaths(ctx, w, app, args)
			if err != nil {
				return err
			}
			for _, r := range refs {
				fmt.Fprintf(w, "%s  %s  %s\n", idStyle.Render(r.ID), r.Name, metaStyle.Render(r.URL))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&direct, "http", false, "upload over POST /project/file instead of the socket")
	return cmd
}
