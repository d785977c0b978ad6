package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Lllllllleong/labreportparser/internal/parser"
	"github.com/Lllllllleong/labreportparser/internal/services"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	aliasPath  string
	logLevel   string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "labparse",
		Short: "Extract structured marker values from German lab reports",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initLogger(cmd, opts.logLevel)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "config file path (YAML)")
	pf.StringVar(&opts.aliasPath, "aliases", "", "alias table to use instead of the built-in one")
	pf.StringVar(&opts.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	cmd.AddCommand(newParseCommand(opts), newAliasesCommand(opts))
	return cmd
}

func initLogger(cmd *cobra.Command, level string) error {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return fmt.Errorf("invalid --log-level %q", level)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: l})))
	return nil
}

func (o *rootOptions) aliasTable(ctx context.Context) (*parser.AliasTable, error) {
	return services.LoadAliasTable(ctx, o.aliasPath, nil)
}
