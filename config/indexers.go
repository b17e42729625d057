package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Indexer wire protocols.
const (
	ProtocolREST    = "rest"
	ProtocolJSONRPC = "jsonrpc"
)

// IndexerConfig describes one external indexer endpoint.
type IndexerConfig struct {
	Name        string  `yaml:"name" json:"name"`
	Address     string  `yaml:"address" json:"address"`
	Protocol    string  `yaml:"protocol,omitempty" json:"protocol,omitempty"`
	TrustWeight float64 `yaml:"trust_weight,omitempty" json:"trust_weight,omitempty"`
}

// Weight returns the trust weight, defaulting to 1 when unset.
func (c IndexerConfig) Weight() float64 {
	if c.TrustWeight <= 0 {
		return 1
	}
	return c.TrustWeight
}

type indexersFile struct {
	Indexers []IndexerConfig `yaml:"indexers"`
}

// LoadIndexers reads the YAML indexer list at path.
// A missing file yields an empty list.
func LoadIndexers(path string) ([]IndexerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return ParseIndexers(data)
}

// ParseIndexers decodes a YAML indexer list.
func ParseIndexers(data []byte) ([]IndexerConfig, error) {
	var f indexersFile
	if err := yaml.UnmarshalStrict(data, &f); err != nil {
		return nil, fmt.Errorf("parse indexers: %w", err)
	}
	for i := range f.Indexers {
		if f.Indexers[i].Protocol == "" {
			f.Indexers[i].Protocol = ProtocolREST
		}
	}
	if err := ValidateIndexers(f.Indexers); err != nil {
		return nil, err
	}
	return f.Indexers, nil
}

// WriteIndexers writes an indexer list to path.
func WriteIndexers(path string, indexers []IndexerConfig) error {
	body, err := yaml.Marshal(indexersFile{Indexers: indexers})
	if err != nil {
		return err
	}
	header := []byte(`# Indexer endpoints consulted for SLP validity.
#
# indexers:
#   - name: slpdb-a
#     address: https://slpdb-a.example.com
#     protocol: rest       # rest or jsonrpc
#     trust_weight: 1.0
`)
	return os.WriteFile(path, append(header, body...), 0644)
}
