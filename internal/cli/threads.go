package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"chatwire/internal/client/tree"
	"chatwire/internal/types"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newThreadsCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "threads",
		Short: "Manage saved threads",
	}
	cmd.AddCommand(newThreadsListCmd(o), newThreadsShowCmd(o), newThreadsDeleteCmd(o), newThreadsRenameCmd(o))
	return cmd
}

func newThreadsListCmd(o *options) *cobra.Command {
	var (
		first    int
		cursor   string
		search   string
		feedback int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List threads, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := o.context(cmd)
			defer cancel()
			filter := types.ThreadFilter{Search: search}
			if cmd.Flags().Changed("feedback") {
				filter.Feedback = &feedback
			}
			page, err := o.api().ListThreads(ctx, types.Pagination{First: first, Cursor: cursor}, filter).Unpack()
			if err != nil {
				return err
			}
			renderThreadPage(cmd.OutOrStdout(), page)
			return nil
		},
	}
	cmd.Flags().IntVarP(&first, "limit", "n", 20, "threads per page")
	cmd.Flags().StringVar(&cursor, "cursor", "", "continue after this thread id")
	cmd.Flags().StringVarP(&search, "search", "s", "", "match thread names and messages")
	cmd.Flags().IntVar(&feedback, "feedback", 0, "only threads with this feedback value (0 or 1)")
	return cmd
}

func newThreadsShowCmd(o *options) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "show <thread-id>",
		Short: "Show one thread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := o.context(cmd)
			defer cancel()
			t, err := o.api().GetThread(ctx, args[0]).Unpack()
			if err != nil {
				return err
			}
			return writeThread(cmd.OutOrStdout(), t, format)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "text", "output format (text, yaml, json)")
	return cmd
}

func writeThread(w io.Writer, t types.Thread, format string) error {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		steps := tree.New()
		steps.Load(t)
		renderThreadHeader(w, t)
		renderSteps(w, steps.Flatten())
		return nil
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		defer func() { _ = enc.Close() }()
		return enc.Encode(t)
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(t)
	default:
		return fmt.Errorf("unknown format %q (want text, yaml or json)", format)
	}
}

func newThreadsDeleteCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <thread-id>",
		Short: "Delete a thread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := o.context(cmd)
			defer cancel()
			if _, err := o.api().DeleteThread(ctx, args[0]).Unpack(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "deleted "+args[0])
			return nil
		},
	}
}

func newThreadsRenameCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <thread-id> <name>",
		Short: "Rename a thread",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := o.context(cmd)
			defer cancel()
			sum, err := o.api().RenameThread(ctx, args[0], strings.Join(args[1:], " ")).Unpack()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", idStyle.Render(sum.ID), sum.Name)
			return nil
		},
	}
}
