// Package cli implements the facequiz command line.
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	service "github.com/okian/facequiz/internal/app"
	"github.com/okian/facequiz/internal/config"
	"github.com/okian/facequiz/pkg/logger"
)

// ConfigLoader produces the configuration a command runs with.
type ConfigLoader func(ctx context.Context) (*config.Config, error)

type commandContext struct {
	load ConfigLoader
}

// NewRootCommand builds the facequiz command tree reading configuration
// from the environment.
func NewRootCommand() *cobra.Command {
	return newRootCommand(config.Load)
}

func newRootCommand(load ConfigLoader) *cobra.Command {
	ctx := &commandContext{load: load}

	rootCmd := &cobra.Command{
		Use:           "facequiz",
		Short:         "Play and inspect the face quiz identity cache",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.AddCommand(newRunCommand(ctx))
	rootCmd.AddCommand(newLookupCommand(ctx))
	rootCmd.AddCommand(newSearchCommand(ctx))
	rootCmd.AddCommand(newLetterCommand(ctx))
	rootCmd.AddCommand(newExportCommand(ctx))
	rootCmd.AddCommand(newImportCommand(ctx))

	return rootCmd
}

// withService loads configuration, starts the service and stops it once fn
// returns. Logs go to the command's stderr so stdout stays machine readable.
func (c *commandContext) withService(cmd *cobra.Command, fn func(ctx context.Context, cfg *config.Config, svc *service.Service) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := c.load(ctx)
	if err != nil {
		return err
	}
	if err := logger.Configure(cmd.ErrOrStderr(), cfg.LogFormat); err != nil {
		return fmt.Errorf("configure logger: %w", err)
	}
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		return fmt.Errorf("set log level: %w", err)
	}

	svc := service.New(service.OptionsFromConfig(cfg, logger.Get().Named("cli"))...)
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start service: %w", err)
	}
	defer svc.Stop()

	return fn(ctx, cfg, svc)
}
