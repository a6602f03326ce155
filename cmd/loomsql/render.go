package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/syssam/loom/dialect"
	"github.com/syssam/loom/query"
)

// Statement is a compiled statement with its arguments.
type Statement struct {
	SQL  string `json:"sql"`
	Args []any  `json:"args"`
}

// RenderResult is the JSON output of the render command.
type RenderResult struct {
	Dialect string     `json:"dialect"`
	Find    Statement  `json:"find"`
	Count   *Statement `json:"count,omitempty"`
}

// NewRenderCommand creates the render command.
func NewRenderCommand(rootOpts *RootOptions) *cobra.Command {
	var count bool
	cmd := &cobra.Command{
		Use:   "render <entity> [find-file]",
		Short: "Print the SQL of a find",
		Long: `Render compiles a find document for an entity into the statement a find
runs, in the placeholder format of the dialect. No database is needed.
Reads the document from stdin when find-file is "-".`,
		Example: `  loomsql render Post find.yaml --schema entities.yaml --dialect mysql
  echo 'where: {id: 1}' | loomsql render Post - -s entities.yaml`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var file string
			if len(args) > 1 {
				file = args[1]
			}
			return runRender(rootOpts, cmd, args[0], file, count)
		},
	}
	cmd.Flags().BoolVar(&count, "count", false, "also print the count statement")
	return cmd
}

func runRender(opts *RootOptions, cmd *cobra.Command, entity, file string, count bool) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	reg, err := opts.registry(cfg)
	if err != nil {
		return err
	}
	name := opts.Dialect
	if name == "" && cfg != nil {
		name = cfg.Dialect
	}
	if name == "" {
		name = dialect.Postgres
	}
	fo, err := readFind(file, cmd.InOrStdin())
	if err != nil {
		return err
	}
	m, err := query.NewManager(nil, reg, query.WithDialect(name))
	if err != nil {
		return err
	}
	c, err := m.FindQuery(entity, fo).EntitySQL()
	if err != nil {
		return err
	}
	res := RenderResult{Dialect: m.Strategy().Name(), Find: Statement{SQL: c.SQL, Args: c.Args}}
	if count {
		cc, err := m.FindQuery(entity, fo).CompileCount()
		if err != nil {
			return err
		}
		res.Count = &Statement{SQL: cc.SQL, Args: cc.Args}
	}
	return writeRender(cmd.OutOrStdout(), opts.Format, res)
}

func writeRender(w io.Writer, format string, res RenderResult) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	writeStatement(w, res.Find)
	if res.Count != nil {
		writeStatement(w, *res.Count)
	}
	return nil
}

func writeStatement(w io.Writer, s Statement) {
	fmt.Fprintf(w, "%s;\n", s.SQL)
	if len(s.Args) > 0 {
		fmt.Fprintf(w, "-- args: %v\n", s.Args)
	}
}
