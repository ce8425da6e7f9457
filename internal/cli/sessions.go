package cli

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"
	"github.com/vk/recsexplorer/internal/app"
	"github.com/vk/recsexplorer/internal/session"
)

func newSessionsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage saved sessions",
	}
	cmd.AddCommand(
		newSessionsListCommand(),
		newSessionsShowCommand(),
		newSessionsFindCommand(),
		newSessionsRenameCommand(),
		newSessionsDeleteCommand(),
		newSessionsCleanCommand(),
	)
	return cmd
}

func newSessionsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List sessions, most recently used first",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				metas, err := a.Sessions().List(a.Context())
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME\tLAST USED\tSTAGES\tPIPELINE")
				for _, m := range metas {
					fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
						m.SessionID, m.Name, m.LastAccessedAt.Local().Format(time.DateTime), m.StageCount, m.PipelineSummary)
				}
				return w.Flush()
			})
		},
	}
}

func newSessionsShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Print a session's metadata as JSON",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				metas, err := a.Sessions().List(a.Context())
				if err != nil {
					return err
				}
				for _, m := range metas {
					if m.SessionID == args[0] {
						return printJSON(cmd, m)
					}
				}
				return fmt.Errorf("%w: %s", session.ErrNotFound, args[0])
			})
		},
	}
}

func newSessionsFindCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "find PATH",
		Short: "Find the most recent session reading an input file",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				m, err := a.Sessions().FindByInputPath(a.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), m.SessionID)
				return nil
			})
		},
	}
}

func newSessionsRenameCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rename ID NAME",
		Short: "Rename a session",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				return a.Sessions().Rename(a.Context(), args[0], args[1])
			})
		},
	}
}

func newSessionsDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a session and its cached outputs",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				return a.Sessions().Delete(a.Context(), args[0])
			})
		},
	}
}

func newSessionsCleanCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Remove sessions not used within session-max-age",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				n, err := a.Sessions().Clean(a.Context(), a.Config().SessionMaxAge)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d session(s).\n", n)
				return nil
			})
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}
