package config

import (
	"fmt"
	"os"

	"github.com/LoveWonYoung/tcucfg/tcuclient"
	"gopkg.in/yaml.v3"
)

// RegistryFile is the YAML form of a parameter table:
//
//	parameters:
//	  - name: apn_name
//	    id: 0x13
//	    encoding: padded_ascii
//	    field_length: 128
//	    writable: true
type RegistryFile struct {
	Parameters []ParameterEntry `yaml:"parameters"`
}

type ParameterEntry struct {
	Name        string `yaml:"name"`
	ID          int    `yaml:"id"`
	Encoding    string `yaml:"encoding"`
	FieldLength int    `yaml:"field_length"`
	MaxLength   int    `yaml:"max_length"`
	Writable    bool   `yaml:"writable"`
}

// LoadRegistry reads a YAML parameter table. Entries keep file order.
func LoadRegistry(path string) (*tcuclient.Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}
	return ParseRegistry(data)
}

// ParseRegistry decodes and validates a YAML parameter table.
func ParseRegistry(data []byte) (*tcuclient.Registry, error) {
	var file RegistryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse registry: %w", err)
	}

	entries := make([]tcuclient.Descriptor, 0, len(file.Parameters))
	for i, p := range file.Parameters {
		if p.ID < 0 || p.ID > 0xFF {
			return nil, fmt.Errorf("parameters[%d] %q: id %d is not a byte", i, p.Name, p.ID)
		}
		enc, err := tcuclient.ParseEncoding(p.Encoding)
		if err != nil {
			return nil, fmt.Errorf("parameters[%d] %q: %w", i, p.Name, err)
		}
		maxLen := p.MaxLength
		if maxLen == 0 {
			maxLen = tcuclient.DefaultMaxLength
		}
		entries = append(entries, tcuclient.Descriptor{
			ID:          byte(p.ID),
			Name:        p.Name,
			Encoding:    enc,
			FieldLength: p.FieldLength,
			MaxLength:   maxLen,
			Writable:    p.Writable,
		})
	}

	reg, err := tcuclient.NewRegistry(entries)
	if err != nil {
		return nil, fmt.Errorf("invalid registry: %w", err)
	}
	return reg, nil
}
