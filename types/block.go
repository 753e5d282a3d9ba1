package types

// Block is one link of the authority chain. ContentHash is derived from the
// signable fields (slot, proposer, timestamp, payload, metadata, parent
// hash) and is recomputed during verification rather than trusted as
// stored. Signature is the keyed MAC over ContentHash and is nil only for
// the genesis block.
type Block struct {
	Slot        Slot    `cbor:"slot" yaml:"slot"`
	Proposer    string  `cbor:"proposer" yaml:"proposer"`
	Timestamp   uint64  `cbor:"timestamp" yaml:"timestamp"`
	Payload     Payload `cbor:"payload" yaml:"payload,omitempty"`
	Metadata    Payload `cbor:"metadata" yaml:"metadata,omitempty"`
	ParentHash  Hash    `cbor:"parent_hash" yaml:"parent_hash"`
	ContentHash Hash    `cbor:"content_hash" yaml:"content_hash"`
	Signature   []byte  `cbor:"signature" yaml:"signature,omitempty"`
}

// IsGenesis reports whether the block occupies the reserved genesis slot.
func (b *Block) IsGenesis() bool { return b.Slot == 0 }

// Copy returns a deep copy of the block.
func (b *Block) Copy() *Block {
	if b == nil {
		return nil
	}
	cp := *b
	cp.Payload = b.Payload.Copy()
	cp.Metadata = b.Metadata.Copy()
	if b.Signature != nil {
		cp.Signature = append([]byte(nil), b.Signature...)
	}
	return &cp
}
