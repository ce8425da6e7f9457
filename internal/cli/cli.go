package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/vk/recsexplorer/internal/app"
	"github.com/vk/recsexplorer/internal/config"
	"github.com/vk/recsexplorer/internal/session"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

const (
	exitUsage    = 2
	exitNotFound = 3

	configFileFlag = "config"
	envFileFlag    = "env-file"
)

// NewRootCommand builds the command tree. Command output goes to outW and
// logs go to errW.
func NewRootCommand(outW, errW io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:   "recsexplorer",
		Short: "Build and evaluate record-transformation pipelines",
		Long: `recsexplorer builds multi-stage record pipelines with undo/redo and forks,
caches every stage's output, and keeps work in resumable sessions.

Settings come from flags, RECSX_* environment variables, a .env file and
config.yaml, in that order.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(outW)
	root.SetErr(errW)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &ExitError{Code: exitUsage, Message: err.Error()}
	})

	flags := root.PersistentFlags()
	config.BindFlags(flags)
	flags.String(configFileFlag, "", "path to a config file (default: ./config.yaml or ~/.recsexplorer/config.yaml)")
	flags.String(envFileFlag, ".env", "path to a .env file loaded into the environment when present")

	root.AddCommand(newRunCommand(), newSessionsCommand(), newExportCommand())
	return root
}

// newApp loads the configuration for cmd and builds the application. The
// caller must close it.
func newApp(cmd *cobra.Command) (*app.App, error) {
	configFile, _ := cmd.Flags().GetString(configFileFlag)
	envFile, _ := cmd.Flags().GetString(envFileFlag)
	cfg, err := config.Load(cmd.Flags(), config.Options{ConfigFile: configFile, EnvFile: envFile})
	if err != nil {
		return nil, &ExitError{Code: exitUsage, Message: err.Error()}
	}
	return app.NewApp(cmd.ErrOrStderr(), cfg), nil
}

// withApp runs fn against a fresh application and closes it afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	runErr := fn(ctx, a)
	closeErr := a.Close(ctx)
	if runErr != nil {
		return classify(runErr)
	}
	return closeErr
}

func classify(err error) error {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return err
	}
	if errors.Is(err, session.ErrNotFound) || errors.Is(err, session.ErrInvalidID) {
		return &ExitError{Code: exitNotFound, Message: err.Error()}
	}
	return err
}

func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return &ExitError{Code: exitUsage, Message: fmt.Sprintf("%s: %v", cmd.CommandPath(), err)}
		}
		return nil
	}
}
