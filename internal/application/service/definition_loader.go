package service

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// DefinitionDocument is a YAML file holding one or more definitions
type DefinitionDocument struct {
	Definitions []DefinitionSpec `yaml:"definitions"`
}

// LoadDefinitions parses a YAML definition document. Each entry is fully
// validated so a bad file fails before anything is written.
func LoadDefinitions(r io.Reader) ([]DefinitionSpec, error) {
	var doc DefinitionDocument
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse definition document: %w", err)
	}
	if len(doc.Definitions) == 0 {
		return nil, fmt.Errorf("definition document holds no definitions")
	}

	for i, spec := range doc.Definitions {
		if _, err := BuildDefinition(spec); err != nil {
			return nil, fmt.Errorf("definition %d (%s): %w", i, spec.Name, err)
		}
	}
	return doc.Definitions, nil
}
