// Package types defines the primitive and composite types for the rota
// proof-of-authority engine.
package types

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Slot is a discrete position in the chain's timeline. Slot 0 is reserved
// for the genesis block.
type Slot uint64

// Hash is a 32-byte SHA-256 digest. Its canonical text form is 64
// lowercase hex characters.
type Hash [32]byte

// ZeroHash is the all-zero digest used as the genesis parent hash.
var ZeroHash = Hash{}

// GenesisProposer is the sentinel proposer identifier of the genesis block.
// No authority may register under this name.
const GenesisProposer = "__genesis__"

func (h Hash) IsZero() bool { return h == Hash{} }

// Hex returns the 64-character lowercase hex form of the hash.
func (h Hash) Hex() string {
	return hex.EncodeToString(h[:])
}

// Short returns a short hex representation of the hash (first 4 bytes).
func (h Hash) Short() string {
	return fmt.Sprintf("%x", h[:4])
}

func (h Hash) String() string { return h.Hex() }

// Compare compares two hashes lexicographically.
// Returns 1 if h > other, -1 if h < other, 0 if equal.
func (h Hash) Compare(other Hash) int {
	for i := 0; i < 32; i++ {
		if h[i] > other[i] {
			return 1
		}
		if h[i] < other[i] {
			return -1
		}
	}
	return 0
}

// ParseHash parses a 64-hex-character digest, with or without 0x prefix.
func ParseHash(s string) (Hash, error) {
	s = strings.TrimPrefix(s, "0x")
	if len(s) != 64 {
		return Hash{}, fmt.Errorf("invalid hash length: got %d hex chars, want 64", len(s))
	}
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, fmt.Errorf("decoding hash hex: %w", err)
	}
	var h Hash
	copy(h[:], decoded)
	return h, nil
}

// MarshalYAML renders the hash as its hex form in exports.
func (h Hash) MarshalYAML() (any, error) {
	return h.Hex(), nil
}

// UnmarshalYAML parses a hex-form hash.
func (h *Hash) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := ParseHash(s)
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}
