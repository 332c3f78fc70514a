package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"chatwire/internal/client/chat"
	"chatwire/internal/client/composer"
	"chatwire/internal/client/session"
	"chatwire/internal/client/transport"
	"chatwire/internal/client/upload"
	"chatwire/internal/protocol"

	"github.com/spf13/cobra"
)

const historyLimit = 50

func newSendCmd(o *options) *cobra.Command {
	var files []string
	cmd := &cobra.Command{
		Use:   "send <message>",
		Short: "Send a message in a new thread and stream the reply",
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
			return converse(ctx, cmd.OutOrStdout(), o, app, tc, strings.Join(args, " "), files)
		},
	}
	cmd.Flags().StringSliceVarP(&files, "file", "a", nil, "attach a file (repeatable)")
	return cmd
}

// converse sends text with optional attachments and streams the reply to w
// until the server ends the task.
func converse(ctx context.Context, w io.Writer, o *options, app *chat.App, tc *transport.Client, text string, paths []string) error {
	input := composer.New(o.prefs, historyLimit)
	input.SetText(text)
	text, ok := input.Submit()
	if !ok && len(paths) == 0 {
		return fmt.Errorf("message is empty")
	}

	refs, err := uploadPaths(ctx, w, app, paths)
	if err != nil {
		return err
	}

	done := make(chan struct{}, 1)
	offEnd := tc.On(protocol.EventTaskEnd, func(protocol.Envelope) {
		select {
		case done <- struct{}{}:
		default:
		}
	})
	defer offEnd()
	offTok := tc.On(protocol.EventStreamToken, func(env protocol.Envelope) {
		var tok protocol.StreamToken
		if env.Decode(&tok) == nil && !tok.IsInput && !tok.IsSequence {
			fmt.Fprint(w, tok.Token)
		}
	})
	defer offTok()

	if _, err := app.SendMessage(ctx, text, refs); err != nil {
		return err
	}
	select {
	case <-done:
	case <-ctx.Done():
		app.Stop()
		return fmt.Errorf("waiting for reply: %w", ctx.Err())
	}
	fmt.Fprintln(w)

	msgs := app.Tree.Messages()
	if n := len(msgs); n > 0 && msgs[n-1].IsError {
		return fmt.Errorf("assistant failed: %s", msgs[n-1].Output)
	}
	if id := app.Session.Store().ThreadID(); id != "" {
		fmt.Fprintln(w, metaStyle.Render("thread "+id))
	}
	return nil
}

func uploadPaths(ctx context.Context, w io.Writer, app *chat.App, paths []string) ([]upload.Ref, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	files := make([]upload.File, 0, len(paths))
	for _, p := range paths {
		f, err := upload.FromPath(p)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	out := app.UploadFiles(ctx, files, func(id string, sent, total int64) {
		if total > 0 {
			fmt.Fprintf(w, "\r%s %d%%", metaStyle.Render("uploading "+id), sent*100/total)
		}
	})
	fmt.Fprintln(w)
	if len(out.Uploaded) == 0 && len(out.Rejected) > 0 {
		return nil, out.Rejected[0]
	}
	return out.Uploaded, nil
}

// openThread resumes or views threadID and waits for the replay.
func openThread(ctx context.Context, app *chat.App, threadID string) (session.OpenMode, error) {
	mode, err := app.OpenThread(ctx, threadID)
	if err != nil {
		return mode, err
	}
	switch mode {
	case session.OpenResume:
		st, err := app.Session.AwaitResume(ctx)
		if err != nil {
			return mode, err
		}
		if st.Phase != session.Resumed {
			return mode, fmt.Errorf("could not resume %s: %s", threadID, st.Reason)
		}
	case session.OpenNone:
		return mode, fmt.Errorf("the server keeps no thread history")
	}
	return mode, nil
}
