package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/syssam/loom/schema"
)

// EntityInfo describes one entity in the output of the entities command.
type EntityInfo struct {
	Name      string         `json:"name"`
	Table     string         `json:"table"`
	Parent    string         `json:"parent,omitempty"`
	Junction  bool           `json:"junction,omitempty"`
	Columns   []ColumnInfo   `json:"columns"`
	Relations []RelationInfo `json:"relations,omitempty"`
}

// ColumnInfo describes a column of an entity.
type ColumnInfo struct {
	Property string   `json:"property,omitempty"`
	Name     string   `json:"name"`
	Type     string   `json:"type,omitempty"`
	Flags    []string `json:"flags,omitempty"`
}

// RelationInfo describes a relation of an entity.
type RelationInfo struct {
	Property string `json:"property"`
	Type     string `json:"type"`
	Target   string `json:"target"`
	Owner    bool   `json:"owner"`
}

// NewEntitiesCommand creates the entities command.
func NewEntitiesCommand(rootOpts *RootOptions) *cobra.Command {
	var junctions bool
	cmd := &cobra.Command{
		Use:   "entities",
		Short: "List the entities of a schema",
		Long: `Entities lists the entities of the schema with their tables, columns and
relations as resolved by the registry, including the foreign key columns
the registry adds for relations.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}
			reg, err := rootOpts.registry(cfg)
			if err != nil {
				return err
			}
			return writeEntities(cmd.OutOrStdout(), rootOpts.Format, describe(reg, junctions))
		},
	}
	cmd.Flags().BoolVar(&junctions, "junctions", false, "include junction entities of many-to-many relations")
	return cmd
}

func describe(reg *schema.Registry, junctions bool) []EntityInfo {
	var infos []EntityInfo
	for _, e := range reg.Entities() {
		if e.IsJunction() && !junctions {
			continue
		}
		info := EntityInfo{Name: e.Name, Table: e.Table, Parent: e.Parent, Junction: e.IsJunction()}
		for _, c := range e.AllColumns() {
			ci := ColumnInfo{Name: c.Name, Type: string(c.Type)}
			if !c.Virtual {
				ci.Property = c.Property
			}
			ci.Flags = columnFlags(c)
			info.Columns = append(info.Columns, ci)
		}
		for _, r := range e.AllRelations() {
			info.Relations = append(info.Relations, RelationInfo{
				Property: r.Property,
				Type:     r.Type.String(),
				Target:   r.TargetEntity().Name,
				Owner:    r.IsOwning(),
			})
		}
		infos = append(infos, info)
	}
	return infos
}

func columnFlags(c *schema.Column) []string {
	var flags []string
	for _, f := range []struct {
		set  bool
		name string
	}{
		{c.Primary, "primary"},
		{c.Nullable, "nullable"},
		{c.Hidden, "hidden"},
		{c.Version, "version"},
		{c.CreateDate, "create_date"},
		{c.UpdateDate, "update_date"},
		{c.DeleteDate, "delete_date"},
		{c.Virtual, "virtual"},
	} {
		if f.set {
			flags = append(flags, f.name)
		}
	}
	return flags
}

func writeEntities(w io.Writer, format string, infos []EntityInfo) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(infos)
	}
	for i, info := range infos {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "%s (%s)", info.Name, info.Table)
		if info.Parent != "" {
			fmt.Fprintf(w, " extends %s", info.Parent)
		}
		fmt.Fprintln(w)
		for _, c := range info.Columns {
			prop := c.Property
			if prop == "" {
				prop = "-"
			}
			fmt.Fprintf(w, "  %-20s %-20s %-8s %s\n", prop, c.Name, c.Type, strings.Join(c.Flags, ","))
		}
		for _, r := range info.Relations {
			owner := ""
			if r.Owner {
				owner = " owner"
			}
			fmt.Fprintf(w, "  %-20s %s -> %s%s\n", r.Property, r.Type, r.Target, owner)
		}
	}
	return nil
}
