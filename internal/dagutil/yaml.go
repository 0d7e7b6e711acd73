package dagutil

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"

	"github.com/luckygeck/dedalus/pkg/models"
)

// ParseGraphYAMLFile loads a GraphStruct from a YAML graph definition file,
// the format the dedalusctl `graph create` command accepts. Grounded in the
// teacher's internal/dag/parser.go, which used the same library for DAG
// definitions.
func ParseGraphYAMLFile(path string) (*models.GraphStruct, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read graph file %s: %w", path, err)
	}
	return ParseGraphYAML(data)
}

func ParseGraphYAML(data []byte) (*models.GraphStruct, error) {
	var g models.GraphStruct
	if err := yaml.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("parse graph YAML: %w", err)
	}
	if err := Verify(&g); err != nil {
		return nil, fmt.Errorf("invalid graph definition: %w", err)
	}
	return &g, nil
}
