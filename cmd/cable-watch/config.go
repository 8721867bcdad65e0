package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	cablelink "github.com/andepants/daybreak-health-frontend-sub002"
)

// watchConfig is the YAML layout of the -config file.
type watchConfig struct {
	Cable      cablelink.Config  `yaml:"cable"`
	Logging    loggingConfig     `yaml:"logging"`
	Metrics    metricsConfig     `yaml:"metrics"`
	Retry      retryConfig       `yaml:"retry"`
	Operations []operationConfig `yaml:"operations"`
}

type loggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json (default) or text
}

type metricsConfig struct {
	Addr string `yaml:"addr"`
}

type operationConfig struct {
	Name      string         `yaml:"name"`
	Query     string         `yaml:"query"`
	Variables map[string]any `yaml:"variables"`
}

func (o operationConfig) operation() cablelink.Operation {
	return cablelink.Operation{
		Query:         o.Query,
		Variables:     o.Variables,
		OperationName: o.Name,
	}
}

func loadWatchConfig(path string) (watchConfig, error) {
	var cfg watchConfig
	if err := cablelink.ReadYAML(path, &cfg); err != nil {
		return watchConfig{}, err
	}
	if len(cfg.Operations) == 0 {
		return watchConfig{}, fmt.Errorf("config lists no operations")
	}
	for i, op := range cfg.Operations {
		if strings.TrimSpace(op.Query) == "" {
			return watchConfig{}, fmt.Errorf("operation %d (%s): query is required", i, op.Name)
		}
	}
	return cfg, nil
}

// newLogger builds the process logger from the logging section.
func newLogger(cfg loggingConfig, out io.Writer) (zerolog.Logger, error) {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
		if err != nil {
			return zerolog.Logger{}, fmt.Errorf("parse log level: %w", err)
		}
		level = parsed
	}

	if strings.EqualFold(cfg.Format, "text") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).With().Timestamp().Logger().Level(level), nil
}
