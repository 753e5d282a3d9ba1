// Package scenarios runs YAML-driven end-to-end checks against the
// registry: each testdata file declares an initial authority set and a
// sequence of mutations, proposals, and expectations.
package scenarios

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/rotalabs/rota/config"
	"github.com/rotalabs/rota/registry"
	"github.com/rotalabs/rota/schedule"
	"github.com/rotalabs/rota/types"
)

// Scenario is one testdata file: chain constants, the starting authority
// set, and the steps to run in order.
type Scenario struct {
	Description  string                  `yaml:"description"`
	GenesisTime  uint64                  `yaml:"genesis_time"`
	SlotDuration uint64                  `yaml:"slot_duration"`
	Authorities  []config.AuthorityEntry `yaml:"authorities"`
	Steps        []Step                  `yaml:"steps"`
}

// Step is one action or expectation. Exactly one of the action fields is
// set per step; ExpectError names the sentinel the action must fail with.
type Step struct {
	Register   *config.AuthorityEntry `yaml:"register,omitempty"`
	Overwrite  bool                   `yaml:"overwrite,omitempty"`
	Deregister string                 `yaml:"deregister,omitempty"`
	Update     *UpdateFixture         `yaml:"update,omitempty"`
	Propose    *ProposeFixture        `yaml:"propose,omitempty"`

	ExpectLeaders   *LeadersFixture   `yaml:"expect_leaders,omitempty"`
	ExpectLeaderErr *LeaderErrFixture `yaml:"expect_leader_error,omitempty"`
	ExpectHeadSlot  *uint64           `yaml:"expect_head_slot,omitempty"`
	ExpectActive    []string          `yaml:"expect_active,omitempty"`
	ValidateChain   bool              `yaml:"validate_chain,omitempty"`

	ExpectError string `yaml:"expect_error,omitempty"`
}

// UpdateFixture is a partial authority update; absent fields keep the
// current value, like registry.AuthorityUpdate.
type UpdateFixture struct {
	Identifier string            `yaml:"identifier"`
	Secret     *string           `yaml:"secret,omitempty"`
	Weight     *uint64           `yaml:"weight,omitempty"`
	Active     *bool             `yaml:"active,omitempty"`
	Metadata   map[string]string `yaml:"metadata,omitempty"`
}

// ProposeFixture produces and submits a block for the slot, with the
// timestamp pinned to the slot start.
type ProposeFixture struct {
	Authority string        `yaml:"authority"`
	Slot      uint64        `yaml:"slot"`
	Payload   types.Payload `yaml:"payload,omitempty"`
}

// LeadersFixture asserts the leaders of consecutive slots.
type LeadersFixture struct {
	FromSlot uint64   `yaml:"from_slot"`
	Leaders  []string `yaml:"leaders"`
}

// LeaderErrFixture asserts that resolving a slot's leader fails.
type LeaderErrFixture struct {
	Slot  uint64 `yaml:"slot"`
	Error string `yaml:"error"`
}

// sentinelErrors maps fixture error names to the sentinels they must match.
var sentinelErrors = map[string]error{
	"duplicate_authority":   registry.ErrDuplicateAuthority,
	"unknown_authority":     registry.ErrUnknownAuthority,
	"inactive_authority":    registry.ErrInactiveAuthority,
	"genesis_slot_reserved": registry.ErrGenesisSlotReserved,
	"slot_not_advancing":    registry.ErrSlotNotAdvancing,
	"not_scheduled_leader":  registry.ErrNotScheduledLeader,
	"block_rejected":        registry.ErrBlockRejected,
	"invalid_slot":          schedule.ErrInvalidSlot,
	"no_active_authorities": schedule.ErrNoActiveAuthorities,
}

// LoadScenario reads and decodes one scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	return &s, nil
}

// toAuthority applies the genesis-file defaulting rules to one entry.
func toAuthority(e config.AuthorityEntry) types.Authority {
	g := config.Genesis{Authorities: []config.AuthorityEntry{e}}
	return g.ToAuthorities()[0]
}

// matchError checks an action result against the step's expectation.
func matchError(err error, want string) error {
	if want == "" {
		return err
	}
	sentinel, known := sentinelErrors[want]
	if !known {
		return fmt.Errorf("unknown expect_error %q", want)
	}
	if !errors.Is(err, sentinel) {
		return fmt.Errorf("error = %v, want %s", err, want)
	}
	return nil
}
