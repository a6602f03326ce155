package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/syssam/loom/hydrate"
)

// FindResult is the JSON output of the find command.
type FindResult struct {
	Entity   string           `json:"entity"`
	Entities []map[string]any `json:"entities"`
	Count    *int64           `json:"count,omitempty"`
}

// NewFindCommand creates the find command.
func NewFindCommand(rootOpts *RootOptions) *cobra.Command {
	var count bool
	cmd := &cobra.Command{
		Use:   "find <entity> [find-file]",
		Short: "Run a find against the configured database",
		Long: `Find runs a find document for an entity against the database of the
configuration file and prints the hydrated entities. Reads the document
from stdin when find-file is "-".`,
		Example: `  loomsql find Post find.yaml --config loom.yaml
  loomsql find Post - -c loom.yaml --count --format json < find.yaml`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var file string
			if len(args) > 1 {
				file = args[1]
			}
			return runFind(rootOpts, cmd, args[0], file, count)
		},
	}
	cmd.Flags().BoolVar(&count, "count", false, "also count all matching entities, ignoring skip and take")
	return cmd
}

func runFind(opts *RootOptions, cmd *cobra.Command, entity, file string, count bool) (err error) {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if cfg == nil {
		return errors.New("find needs a database: use --config")
	}
	reg, err := opts.registry(cfg)
	if err != nil {
		return err
	}
	fo, err := readFind(file, cmd.InOrStdin())
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	m, drv, err := cfg.Manager(ctx, reg, opts.logger(cmd, cfg))
	if err != nil {
		return err
	}
	defer func() {
		if cerr := drv.Close(); err == nil {
			err = cerr
		}
	}()

	res := FindResult{Entity: entity}
	var entities []*hydrate.Entity
	if count {
		var n int64
		entities, n, err = m.FindAndCount(ctx, entity, fo)
		res.Count = &n
	} else {
		entities, err = m.Find(ctx, entity, fo)
	}
	if err != nil {
		return err
	}
	res.Entities = make([]map[string]any, len(entities))
	for i, e := range entities {
		res.Entities[i] = e.Map()
	}
	return writeFind(cmd.OutOrStdout(), opts.Format, res, entities)
}

func writeFind(w io.Writer, format string, res FindResult, entities []*hydrate.Entity) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	for _, e := range entities {
		fmt.Fprintln(w, e)
	}
	if res.Count != nil {
		fmt.Fprintf(w, "-- %d of %d\n", len(entities), *res.Count)
	}
	return nil
}
