// Package cli implements tippicctl, the operator command line for the worker
// process and one-off maintenance tasks.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tippic/tippic_server/internal/config"
	"github.com/tippic/tippic_server/internal/infra"
	"github.com/tippic/tippic_server/internal/logging"
	"github.com/tippic/tippic_server/internal/server"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	cfg    config.Config
	logger *zap.Logger
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for tippicctl.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "tippicctl",
		Short:         "Tippic operator tooling",
		Long:          "Runs the background worker and operator maintenance tasks against the Tippic stores.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if opts.Verbose {
				cfg.LogLevel = "debug"
			}
			opts.cfg = cfg
			opts.logger = logging.New(cfg.LogLevel)
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewWorkerCommand(opts))
	cmd.AddCommand(NewSweepCommand(opts))
	cmd.AddCommand(NewDeauthCommand(opts))
	cmd.AddCommand(NewUnauthedCommand(opts))
	cmd.AddCommand(NewTotalsCommand(opts))
	cmd.AddCommand(NewPayoutCommand(opts))

	return cmd
}

// withServices connects the stores, wires the services and runs fn.
func (o *RootOptions) withServices(ctx context.Context, fn func(svc *server.Services) error) error {
	backends, err := infra.Connect(ctx, o.cfg, o.logger)
	if err != nil {
		return err
	}
	defer backends.Close(o.logger)

	svc, err := server.BuildServices(ctx, o.cfg, backends.DB, backends.Cache, o.logger)
	if err != nil {
		return fmt.Errorf("build services: %w", err)
	}
	return fn(svc)
}

// emit writes v as JSON, or the text fallback in text mode.
func (o *RootOptions) emit(w io.Writer, v any, text string) error {
	if o.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	_, err := fmt.Fprintln(w, text)
	return err
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
