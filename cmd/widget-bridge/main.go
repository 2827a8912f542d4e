package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/widgetbridge/pkg/config"
)

type rootSettings struct {
	configPath string
	logLevel   string
}

func newRootCommand() *cobra.Command {
	settings := &rootSettings{}
	root := &cobra.Command{
		Use:           "widget-bridge",
		Short:         "Bridge interactive widget sessions to renderer frontends",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&settings.configPath, "config", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&settings.logLevel, "log-level", "", "log level (overrides the config file)")

	root.AddCommand(newServeCommand(settings))
	root.AddCommand(newPlotsCommand(settings))
	return root
}

// loadConfig reads the config file and applies the persistent flag overrides,
// then installs the global logger.
func (s *rootSettings) loadConfig() (config.Config, error) {
	cfg, err := config.Load(s.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if lvl := strings.TrimSpace(s.logLevel); lvl != "" {
		cfg.LogLevel = lvl
	}
	level, err := cfg.Level()
	if err != nil {
		return config.Config{}, err
	}
	initLogger(level)
	return cfg, nil
}

func initLogger(level zerolog.Level) {
	zerolog.SetGlobalLevel(level)
	if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).With().Timestamp().Logger()
		return
	}
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", errors.Cause(err))
		os.Exit(1)
	}
}
