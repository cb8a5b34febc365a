package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"liveroom/internal/config"
	"liveroom/internal/logger"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	LogLevel   string
}

func main() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// NewRootCommand creates the liveroom CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "liveroom",
		Short: "Raise-hand speaker queue and chat for live sessions",
		Long: `liveroom runs the session store server and a terminal participant client.

The server keeps raised hands and chat for every room in SQLite and pushes
change notifications over a websocket. The client polls the server, shows the
queue, the current speaker and the chat, and reads commands from stdin.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", os.Getenv(config.EnvPrefix+"CONFIG_FILE"), "path to a JSON or YAML config file")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "override log level (debug|info|warn|error)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	return cmd
}

// load resolves configuration (file > env > defaults) and the logger.
func (o *RootOptions) load() (*config.Config, *logger.Logger, error) {
	cfg, err := config.LoadConfigWithPrecedence(o.ConfigPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if o.LogLevel != "" {
		cfg.Log.Level = o.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	log, err := logger.New(cfg.Log.Mode, cfg.Log.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return cfg, log, nil
}

var errQuit = errors.New("quit")
