// Package reqresp implements request/response protocols (Status, BlocksByRange).
package reqresp

import (
	"errors"

	"github.com/rotalabs/rota/types"
)

const (
	StatusProtocolV1        = "/rota/req/status/1/"
	BlocksByRangeProtocolV1 = "/rota/req/blocks_by_range/1/"
	MaxRequestBlocks        = 1024
)

// ErrInvalidStatus is returned when a peer's status is incompatible with
// our chain.
var ErrInvalidStatus = errors.New("invalid peer status")

// ChainReader provides read access to the local chain.
// Satisfied by registry.Registry without modification.
type ChainReader interface {
	Genesis() *types.Block
	Head() *types.Block
	BlockRange(start types.Slot, count uint64) []*types.Block
}

// Handler handles request/response protocol messages.
type Handler struct {
	chain ChainReader
}

// NewHandler creates a new request/response handler.
func NewHandler(chain ChainReader) *Handler {
	return &Handler{chain: chain}
}

// GetStatus returns the node's current status for the handshake protocol.
func (h *Handler) GetStatus() *Status {
	genesis := h.chain.Genesis()
	head := h.chain.Head()
	return &Status{
		GenesisHash: genesis.ContentHash,
		HeadSlot:    head.Slot,
		HeadHash:    head.ContentHash,
	}
}

// HandleBlocksByRange responds to a BlocksByRange request with the blocks
// we hold in the requested window, in ascending slot order.
func (h *Handler) HandleBlocksByRange(request *BlocksByRangeRequest) []*types.Block {
	count := request.Count
	if count > MaxRequestBlocks {
		count = MaxRequestBlocks
	}
	return h.chain.BlockRange(request.StartSlot, count)
}

// ValidatePeerStatus checks that a peer's status is consistent with our chain.
// Peers on a different genesis are on a different network entirely.
func (h *Handler) ValidatePeerStatus(peerStatus *Status) error {
	if peerStatus.GenesisHash != h.chain.Genesis().ContentHash {
		return ErrInvalidStatus
	}
	return nil
}
