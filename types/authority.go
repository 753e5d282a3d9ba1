package types

import (
	"errors"
	"fmt"
	"sort"
)

// Authority is a member of the closed proposer set. Weight determines how
// many slots per rotation cycle the authority receives. The secret keys the
// MAC over block digests; it never leaves the registry except through deep
// copies in snapshots and exports.
type Authority struct {
	Identifier string            `yaml:"identifier"`
	Secret     []byte            `yaml:"secret"`
	Weight     uint64            `yaml:"weight"`
	Active     bool              `yaml:"active"`
	Metadata   map[string]string `yaml:"metadata,omitempty"`
}

// Validate enforces the registration rules: non-empty identifier and
// secret, weight of at least one, and no collision with the genesis
// sentinel name.
func (a Authority) Validate() error {
	if a.Identifier == "" {
		return errors.New("authority identifier must be non-empty")
	}
	if a.Identifier == GenesisProposer {
		return fmt.Errorf("authority identifier %q is reserved", GenesisProposer)
	}
	if len(a.Secret) == 0 {
		return errors.New("authority secret must be non-empty")
	}
	if a.Weight == 0 {
		return errors.New("authority weight must be at least 1")
	}
	return nil
}

// Copy returns a deep copy of the authority.
func (a Authority) Copy() Authority {
	cp := a
	cp.Secret = append([]byte(nil), a.Secret...)
	if a.Metadata != nil {
		cp.Metadata = make(map[string]string, len(a.Metadata))
		for k, v := range a.Metadata {
			cp.Metadata[k] = v
		}
	}
	return cp
}

// AuthoritySnapshot is an immutable capture of the full authority list
// (active and inactive alike, ascending by identifier), effective from the
// given slot until superseded by a later snapshot.
type AuthoritySnapshot struct {
	EffectiveFrom Slot        `yaml:"effective_from"`
	Authorities   []Authority `yaml:"authorities"`
}

// Copy returns a deep copy of the snapshot.
func (s AuthoritySnapshot) Copy() AuthoritySnapshot {
	cp := AuthoritySnapshot{EffectiveFrom: s.EffectiveFrom}
	if s.Authorities != nil {
		cp.Authorities = make([]Authority, len(s.Authorities))
		for i, a := range s.Authorities {
			cp.Authorities[i] = a.Copy()
		}
	}
	return cp
}

// Active returns the active authorities of the snapshot, preserving the
// identifier order.
func (s AuthoritySnapshot) Active() []Authority {
	var active []Authority
	for _, a := range s.Authorities {
		if a.Active {
			active = append(active, a)
		}
	}
	return active
}

// SortAuthorities orders a list ascending by identifier, in place.
func SortAuthorities(list []Authority) {
	sort.Slice(list, func(i, j int) bool {
		return list[i].Identifier < list[j].Identifier
	})
}
