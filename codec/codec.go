// Package codec provides the canonical wire and digest encoding for the
// rota engine.
//
// All encoding is deterministic CBOR: map keys are sorted, indefinite
// lengths are forbidden, and floats take their shortest form. Two
// semantically equal values therefore always encode to the same bytes,
// which is what makes content hashes stable across nodes regardless of map
// insertion order.
package codec

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"reflect"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/rotalabs/rota/types"
)

// blockDomain separates block digests from any other SHA-256 use.
const blockDomain = "rota/block/v1"

// Decode limits for untrusted input.
const (
	maxArrayElements = 4096
	maxMapPairs      = 4096
	maxNestedLevels  = 40
)

var (
	encMode  cbor.EncMode
	decMode  cbor.DecMode
	initOnce sync.Once
	initErr  error
)

func initModes() {
	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCoreDeterministic,
		IndefLength:   cbor.IndefLengthForbidden,
		ShortestFloat: cbor.ShortestFloat16,
		NaNConvert:    cbor.NaNConvert7e00,
		InfConvert:    cbor.InfConvertFloat16,
	}
	encMode, initErr = encOpts.EncMode()
	if initErr != nil {
		return
	}

	decOpts := cbor.DecOptions{
		DupMapKey:        cbor.DupMapKeyEnforcedAPF,
		IndefLength:      cbor.IndefLengthForbidden,
		MaxArrayElements: maxArrayElements,
		MaxMapPairs:      maxMapPairs,
		MaxNestedLevels:  maxNestedLevels,
		DefaultMapType:   reflect.TypeOf(map[string]any(nil)),
	}
	decMode, initErr = decOpts.DecMode()
}

func modes() (cbor.EncMode, cbor.DecMode, error) {
	initOnce.Do(initModes)
	if initErr != nil {
		return nil, nil, fmt.Errorf("init cbor modes: %w", initErr)
	}
	return encMode, decMode, nil
}

// Marshal encodes a value as deterministic CBOR.
func Marshal(v any) ([]byte, error) {
	em, _, err := modes()
	if err != nil {
		return nil, err
	}
	data, err := em.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("cbor marshal: %w", err)
	}
	return data, nil
}

// Unmarshal decodes CBOR with the bounded decode options.
func Unmarshal(data []byte, v any) error {
	_, dm, err := modes()
	if err != nil {
		return err
	}
	if err := dm.Unmarshal(data, v); err != nil {
		return fmt.Errorf("cbor unmarshal: %w", err)
	}
	return nil
}

// signableBlock is the content-hash preimage. Fields are keyed exactly like
// the wire block so independently written verifiers derive the same bytes.
type signableBlock struct {
	Metadata   types.Payload `cbor:"metadata"`
	ParentHash types.Hash    `cbor:"parent_hash"`
	Payload    types.Payload `cbor:"payload"`
	Proposer   string        `cbor:"proposer"`
	Slot       types.Slot    `cbor:"slot"`
	Timestamp  uint64        `cbor:"timestamp"`
}

// BlockDigest computes the content hash of a block: SHA-256 over the
// domain-separated canonical encoding of the signable fields. Nil payload
// and metadata hash identically to empty maps, so an absent map never
// changes a digest.
func BlockDigest(b *types.Block) (types.Hash, error) {
	payload := b.Payload
	if payload == nil {
		payload = types.Payload{}
	}
	metadata := b.Metadata
	if metadata == nil {
		metadata = types.Payload{}
	}

	enc, err := Marshal(signableBlock{
		Metadata:   metadata,
		ParentHash: b.ParentHash,
		Payload:    payload,
		Proposer:   b.Proposer,
		Slot:       b.Slot,
		Timestamp:  b.Timestamp,
	})
	if err != nil {
		return types.Hash{}, fmt.Errorf("encode signable block: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(blockDomain))
	h.Write([]byte{0x00})
	h.Write(enc)

	var digest types.Hash
	copy(digest[:], h.Sum(nil))
	return digest, nil
}

// Sign computes the keyed MAC over a block digest: HMAC-SHA256 with the
// authority's secret.
func Sign(secret []byte, digest types.Hash) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(digest[:])
	return mac.Sum(nil)
}

// VerifySignature reports whether sig is the MAC of digest under secret.
// The comparison is constant time.
func VerifySignature(secret []byte, digest types.Hash, sig []byte) bool {
	return hmac.Equal(Sign(secret, digest), sig)
}

// EncodeBlock serializes a block for gossip, storage, and range responses.
func EncodeBlock(b *types.Block) ([]byte, error) {
	return Marshal(b)
}

// DecodeBlock deserializes a block received from an untrusted source and
// checks its payload and metadata against the allowed variant set.
func DecodeBlock(data []byte) (*types.Block, error) {
	var b types.Block
	if err := Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decode block: %w", err)
	}
	if err := b.Payload.Validate(); err != nil {
		return nil, fmt.Errorf("decode block: %w", err)
	}
	if err := b.Metadata.Validate(); err != nil {
		return nil, fmt.Errorf("decode block: %w", err)
	}
	return &b, nil
}
