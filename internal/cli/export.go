package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/vk/recsexplorer/internal/app"
	"github.com/vk/recsexplorer/internal/pipeline"
	"github.com/vk/recsexplorer/internal/pipelinefile"
)

// Export formats.
const (
	exportScript = "script"
	exportChain  = "chain"
)

func newExportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export SESSION_ID",
		Short: "Print a session's active pipeline as a shell script, chain command or pipeline file",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("format")
			switch format {
			case exportScript, exportChain, string(pipelinefile.FormatHCL), string(pipelinefile.FormatYAML):
			default:
				return &ExitError{Code: exitUsage, Message: fmt.Sprintf("unknown export format %q", format)}
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				f, err := a.Sessions().Load(a.Context(), args[0])
				if err != nil {
					return err
				}
				return export(cmd.OutOrStdout(), a.Sessions().Hydrate(f), format)
			})
		},
	}
	cmd.Flags().StringP("format", "f", exportScript, "output format: script, chain, hcl or yaml")
	return cmd
}

func export(w io.Writer, s pipeline.State, format string) error {
	switch format {
	case exportScript:
		_, err := fmt.Fprint(w, pipelinefile.PipeScript(s))
		return err
	case exportChain:
		_, err := fmt.Fprintln(w, pipelinefile.ChainCommand(s))
		return err
	}
	data, err := pipelinefile.Encode(pipelinefile.FromState(s), pipelinefile.Format(format))
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
