package schema

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

type document struct {
	Entities []*Entity `yaml:"entities"`
}

// LoadYAML decodes entity definitions from YAML and resolves them into a
// Registry:
//
//	entities:
//	  - name: Post
//	    table: post
//	    columns:
//	      - {property: id, type: int, primary: true}
//	      - {property: title}
//	    relations:
//	      - {property: author, type: many-to-one, target: User}
func LoadYAML(r io.Reader) (*Registry, error) {
	var doc document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && err != io.EOF {
		return nil, fmt.Errorf("schema: decode yaml: %w", err)
	}
	return NewRegistry(doc.Entities...)
}

// LoadYAMLFile is like LoadYAML but reads the definitions from the named file.
func LoadYAMLFile(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("schema: %w", err)
	}
	defer f.Close()
	return LoadYAML(f)
}
