package networking

import (
	"context"
	"errors"
	"testing"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/rotalabs/rota/codec"
	"github.com/rotalabs/rota/types"
)

func testBlock(t *testing.T) *types.Block {
	t.Helper()

	block := &types.Block{
		Slot:       3,
		Proposer:   "alpha",
		Timestamp:  1015,
		Payload:    types.Payload{"tx": "a->b"},
		ParentHash: types.Hash{0xaa},
	}
	digest, err := codec.BlockDigest(block)
	if err != nil {
		t.Fatalf("BlockDigest failed: %v", err)
	}
	block.ContentHash = digest
	block.Signature = codec.Sign([]byte("alpha-secret"), digest)
	return block
}

func TestHandleBlockMessage(t *testing.T) {
	block := testBlock(t)
	encoded, err := codec.EncodeBlock(block)
	if err != nil {
		t.Fatalf("EncodeBlock failed: %v", err)
	}

	var got *types.Block
	var gotFrom peer.ID
	handlers := &MessageHandlers{
		OnBlock: func(ctx context.Context, b *types.Block, from peer.ID) error {
			got = b
			gotFrom = from
			return nil
		},
	}

	from := peer.ID("peer-1")
	if err := handlers.HandleBlockMessage(context.Background(), CompressMessage(encoded), from); err != nil {
		t.Fatalf("HandleBlockMessage failed: %v", err)
	}

	if got == nil {
		t.Fatal("OnBlock was not invoked")
	}
	if got.Slot != block.Slot || got.Proposer != block.Proposer {
		t.Error("decoded block does not match the original")
	}
	if got.ContentHash != block.ContentHash {
		t.Error("content hash changed across the wire")
	}
	if gotFrom != from {
		t.Errorf("from = %s, want %s", gotFrom, from)
	}
}

func TestHandleBlockMessageRejectsGarbage(t *testing.T) {
	handlers := &MessageHandlers{
		OnBlock: func(context.Context, *types.Block, peer.ID) error {
			t.Error("OnBlock must not run for garbage input")
			return nil
		},
	}

	// Raw bytes fail the snappy stage.
	if err := handlers.HandleBlockMessage(context.Background(), []byte{0xff, 0xff, 0xff, 0xff}, ""); err == nil {
		t.Error("expected error for non-snappy input")
	}

	// Valid snappy around invalid CBOR fails the decode stage.
	if err := handlers.HandleBlockMessage(context.Background(), CompressMessage([]byte("not cbor")), ""); err == nil {
		t.Error("expected error for invalid block bytes")
	}
}

func TestHandleBlockMessagePropagatesHandlerError(t *testing.T) {
	block := testBlock(t)
	encoded, err := codec.EncodeBlock(block)
	if err != nil {
		t.Fatalf("EncodeBlock failed: %v", err)
	}

	wantErr := errors.New("chain rejected it")
	handlers := &MessageHandlers{
		OnBlock: func(context.Context, *types.Block, peer.ID) error {
			return wantErr
		},
	}

	err = handlers.HandleBlockMessage(context.Background(), CompressMessage(encoded), "")
	if !errors.Is(err, wantErr) {
		t.Errorf("error = %v, want the handler's error", err)
	}
}
