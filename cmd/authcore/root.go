package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrEthical07/authcore"
)

type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "authcore",
		Short: "Unified authentication and session service",
		Long: `authcore verifies credentials against local, directory and cloud sources,
issues rotating JWT sessions backed by Redis, and serves them over HTTP.

Configuration is read from a YAML file and AUTHCORE_* environment variables.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "authcore.yaml", "Path to the YAML config file (a missing file is ignored)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "Log level: debug, info, warn or error")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "Log format: text or json (default json outside the dev profile)")

	root.AddCommand(
		newServeCmd(opts),
		newCheckConfigCmd(opts),
		newHashPasswordCmd(),
		newLoadtestCmd(),
	)
	return root
}

func newLogger(w io.Writer, opts *rootOptions, profile string) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(opts.logLevel)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q", opts.logLevel)
	}
	hopts := &slog.HandlerOptions{Level: level}

	format := strings.ToLower(opts.logFormat)
	if format == "" {
		format = "json"
		if profile == authcore.ProfileDev {
			format = "text"
		}
	}
	switch format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, hopts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, hopts)), nil
	default:
		return nil, fmt.Errorf("invalid --log-format %q", opts.logFormat)
	}
}
