package cli

import (
	"context"
	"slices"

	"github.com/spf13/cobra"
	"github.com/vk/recsexplorer/internal/app"
)

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [INPUT...]",
		Short: "Evaluate a pipeline and print the last stage's output",
		Long: `Evaluate a pipeline and print the cursor stage's output as JSON lines.

INPUT files hold one JSON record per line; "-" reads records from stdin.
The pipeline comes from --pipeline (HCL or YAML), from a resumed --session,
or both.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			opts := app.RunOptions{}
			opts.PipelineFile, _ = flags.GetString("pipeline")
			opts.SessionID, _ = flags.GetString("session")
			opts.Name, _ = flags.GetString("name")
			opts.Save, _ = flags.GetBool("save")

			if i := slices.Index(args, "-"); i >= 0 {
				args = slices.Delete(slices.Clone(args), i, i+1)
				opts.Stdin = cmd.InOrStdin()
			}
			opts.Inputs = args

			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				return a.Run(ctx, cmd.OutOrStdout(), opts)
			})
		},
	}
	flags := cmd.Flags()
	flags.StringP("pipeline", "p", "", "pipeline definition file (.hcl, .yaml or .json)")
	flags.StringP("session", "s", "", "resume a saved session by id")
	flags.String("name", "", "name the session")
	flags.Bool("save", false, "save the session after the run")
	return cmd
}
