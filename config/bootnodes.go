package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// bootnodeEntry represents a bootnode with named fields (legacy format).
type bootnodeEntry struct {
	Multiaddr string `yaml:"multiaddr"`
}

// bootnodeDoc is the keyed format: a document with a bootnodes list.
type bootnodeDoc struct {
	Bootnodes []string `yaml:"bootnodes"`
}

// LoadBootnodes loads a bootnodes.yaml file and returns raw multiaddr
// strings. Supports three formats:
//   - Keyed:   {bootnodes: ["/ip4/..."]}
//   - Legacy:  [{multiaddr: "/ip4/..."}]
//   - Plain:   ["/ip4/..."]
func LoadBootnodes(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bootnodes: %w", err)
	}

	// Try the keyed document first.
	var doc bootnodeDoc
	if err := yaml.Unmarshal(data, &doc); err == nil && len(doc.Bootnodes) > 0 {
		return doc.Bootnodes, nil
	}

	// Then the legacy struct format.
	var entries []bootnodeEntry
	if err := yaml.Unmarshal(data, &entries); err == nil && len(entries) > 0 && entries[0].Multiaddr != "" {
		out := make([]string, 0, len(entries))
		for _, e := range entries {
			if e.Multiaddr != "" {
				out = append(out, e.Multiaddr)
			}
		}
		return out, nil
	}

	// Fall back to a plain string list.
	var strs []string
	if err := yaml.Unmarshal(data, &strs); err != nil {
		return nil, fmt.Errorf("parse bootnodes: %w", err)
	}
	return strs, nil
}
