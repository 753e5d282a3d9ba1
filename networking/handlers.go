package networking

import (
	"context"
	"fmt"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/rotalabs/rota/codec"
	"github.com/rotalabs/rota/types"
)

// BlockHandler processes incoming blocks from gossipsub.
type BlockHandler func(ctx context.Context, block *types.Block, from peer.ID) error

// MessageHandlers holds handlers for incoming gossip messages.
type MessageHandlers struct {
	OnBlock BlockHandler
}

// HandleBlockMessage decodes and processes an incoming block message.
func (h *MessageHandlers) HandleBlockMessage(ctx context.Context, data []byte, from peer.ID) error {
	decoded, err := DecompressMessage(data)
	if err != nil {
		return fmt.Errorf("decompress block: %w", err)
	}

	block, err := codec.DecodeBlock(decoded)
	if err != nil {
		return fmt.Errorf("decode block: %w", err)
	}

	if h.OnBlock != nil {
		return h.OnBlock(ctx, block, from)
	}
	return nil
}
