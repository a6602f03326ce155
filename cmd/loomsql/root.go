package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/syssam/loom/config"
	"github.com/syssam/loom/find"
	"github.com/syssam/loom/schema"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Config  string
	Schema  string
	Dialect string
	Format  string // "text" | "json"
	Verbose bool
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}
	cmd := &cobra.Command{
		Use:   "loomsql",
		Short: "Render and run find documents",
		Long: `loomsql compiles find documents into SQL for an entity schema.

It renders the statement a find issues for any supported dialect, runs
finds against a configured database and lists the entities of a schema.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "", "configuration file")
	cmd.PersistentFlags().StringVarP(&opts.Schema, "schema", "s", "", "entity schema file (overrides the configured schema)")
	cmd.PersistentFlags().StringVarP(&opts.Dialect, "dialect", "d", "", "SQL dialect (overrides the configured dialect)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log statements to stderr")

	cmd.AddCommand(NewRenderCommand(opts))
	cmd.AddCommand(NewFindCommand(opts))
	cmd.AddCommand(NewEntitiesCommand(opts))
	return cmd
}

// loadConfig loads the configuration file, or returns nil without one.
func (o *RootOptions) loadConfig() (*config.Config, error) {
	if o.Config == "" {
		return nil, nil
	}
	cfg, err := config.Load(o.Config, os.Getenv)
	if err != nil {
		return nil, err
	}
	if o.Dialect != "" {
		cfg.Dialect = o.Dialect
	}
	if o.Verbose {
		cfg.Log.Level, cfg.Log.Debug = "debug", true
	}
	return cfg, nil
}

// registry loads the schema given by flag, or the configured one.
func (o *RootOptions) registry(cfg *config.Config) (*schema.Registry, error) {
	switch {
	case o.Schema != "":
		return schema.LoadYAMLFile(o.Schema)
	case cfg != nil && cfg.Schema != "":
		return cfg.Registry()
	}
	return nil, errors.New("no schema: use --schema or a configuration with a schema")
}

// logger writes to stderr at debug level when verbose, and discards
// otherwise.
func (o *RootOptions) logger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	if !o.Verbose {
		return slog.New(slog.DiscardHandler)
	}
	lc := config.LogConfig{Level: "debug", Format: "text"}
	if cfg != nil {
		lc = cfg.Log
	}
	return lc.Logger(cmd.ErrOrStderr())
}

// readFind decodes the find document at path. An empty path is an empty
// find and "-" reads from in.
func readFind(path string, in io.Reader) (find.Options, error) {
	if path == "" {
		return find.Options{}, nil
	}
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(in)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return find.Options{}, fmt.Errorf("read find document: %w", err)
	}
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return find.Options{}, fmt.Errorf("parse find document: %w", err)
	}
	opts, err := find.Decode(doc)
	if err != nil {
		return find.Options{}, err
	}
	return opts, opts.Validate()
}
