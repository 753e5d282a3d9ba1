package reqresp

import (
	"github.com/rotalabs/rota/types"
)

// Status is exchanged between peers when they connect, so each side can
// decide whether the other follows the same chain and whether it is ahead.
type Status struct {
	GenesisHash types.Hash `cbor:"genesis_hash"`
	HeadSlot    types.Slot `cbor:"head_slot"`
	HeadHash    types.Hash `cbor:"head_hash"`
}

// BlocksByRangeRequest asks a peer for up to Count blocks starting at
// StartSlot. Slots with no block on the serving peer are skipped.
type BlocksByRangeRequest struct {
	StartSlot types.Slot `cbor:"start_slot"`
	Count     uint64     `cbor:"count"`
}
