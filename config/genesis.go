// Package config loads the YAML files a node starts from: the genesis
// definition and the bootnode list.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rotalabs/rota/types"
)

// AuthorityEntry is one authority in the genesis file. Weight and Active
// are optional; absent fields default to weight 1 and active true.
type AuthorityEntry struct {
	Identifier string            `yaml:"identifier"`
	Secret     string            `yaml:"secret"`
	Weight     *uint64           `yaml:"weight,omitempty"`
	Active     *bool             `yaml:"active,omitempty"`
	Metadata   map[string]string `yaml:"metadata,omitempty"`
}

// SecretBytes decodes the secret: a 0x-prefixed hex string yields its
// bytes, anything else is taken verbatim.
func (e AuthorityEntry) SecretBytes() []byte {
	if strings.HasPrefix(e.Secret, "0x") {
		if decoded, err := hex.DecodeString(strings.TrimPrefix(e.Secret, "0x")); err == nil {
			return decoded
		}
	}
	return []byte(e.Secret)
}

// Genesis defines the chain constants and the initial authority set shared
// by every node of a network.
type Genesis struct {
	GenesisTime  uint64           `yaml:"genesis_time"`
	SlotDuration uint64           `yaml:"slot_duration"`
	Authorities  []AuthorityEntry `yaml:"authorities"`
}

// LoadGenesis reads and validates a genesis file.
func LoadGenesis(path string) (*Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis: %w", err)
	}
	return ParseGenesis(data)
}

// ParseGenesis parses and validates genesis YAML.
func ParseGenesis(data []byte) (*Genesis, error) {
	var g Genesis
	if err := yaml.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("parse genesis: %w", err)
	}
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("invalid genesis: %w", err)
	}
	return &g, nil
}

// Validate rejects a genesis that no registry could be built from.
func (g *Genesis) Validate() error {
	if g.SlotDuration == 0 {
		return fmt.Errorf("slot_duration must be positive")
	}
	if len(g.Authorities) == 0 {
		return fmt.Errorf("at least one authority is required")
	}

	seen := make(map[string]struct{}, len(g.Authorities))
	for i, e := range g.Authorities {
		if e.Identifier == "" {
			return fmt.Errorf("authority %d: identifier must be non-empty", i)
		}
		if e.Identifier == types.GenesisProposer {
			return fmt.Errorf("authority %d: identifier %q is reserved", i, e.Identifier)
		}
		if _, dup := seen[e.Identifier]; dup {
			return fmt.Errorf("authority %d: duplicate identifier %q", i, e.Identifier)
		}
		seen[e.Identifier] = struct{}{}
		if len(e.SecretBytes()) == 0 {
			return fmt.Errorf("authority %q: secret must be non-empty", e.Identifier)
		}
		if e.Weight != nil && *e.Weight == 0 {
			return fmt.Errorf("authority %q: weight must be at least 1", e.Identifier)
		}
	}
	return nil
}

// ToAuthorities converts the entries to registry authorities, applying the
// defaults for absent fields.
func (g *Genesis) ToAuthorities() []types.Authority {
	authorities := make([]types.Authority, 0, len(g.Authorities))
	for _, e := range g.Authorities {
		a := types.Authority{
			Identifier: e.Identifier,
			Secret:     e.SecretBytes(),
			Weight:     1,
			Active:     true,
			Metadata:   e.Metadata,
		}
		if e.Weight != nil {
			a.Weight = *e.Weight
		}
		if e.Active != nil {
			a.Active = *e.Active
		}
		authorities = append(authorities, a)
	}
	return authorities
}
