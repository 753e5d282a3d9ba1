package reqresp

import (
	"errors"
	"testing"

	"github.com/rotalabs/rota/registry"
	"github.com/rotalabs/rota/types"
)

func setupTestChain(t *testing.T) *registry.Registry {
	t.Helper()

	reg, err := registry.New(registry.Config{GenesisTime: 1000, SlotDuration: 5})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	auth := types.Authority{
		Identifier: "alpha",
		Secret:     []byte("alpha-secret"),
		Weight:     1,
		Active:     true,
	}
	if err := reg.Register(auth, false); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	return reg
}

func produceBlock(t *testing.T, reg *registry.Registry, slot types.Slot) *types.Block {
	t.Helper()

	timestamp := reg.GenesisTime() + uint64(slot)*reg.SlotDuration()
	block, err := reg.CreateBlock("alpha", nil, timestamp, nil)
	if err != nil {
		t.Fatalf("CreateBlock failed for slot %d: %v", slot, err)
	}
	if err := reg.SubmitBlock(block); err != nil {
		t.Fatalf("SubmitBlock failed for slot %d: %v", slot, err)
	}
	return block
}

func TestGetStatus(t *testing.T) {
	reg := setupTestChain(t)
	handler := NewHandler(reg)

	status := handler.GetStatus()
	if status == nil {
		t.Fatal("GetStatus returned nil")
	}

	genesis := reg.Genesis()
	if status.GenesisHash != genesis.ContentHash {
		t.Error("GenesisHash does not match the genesis block")
	}
	if status.HeadSlot != 0 {
		t.Errorf("HeadSlot = %d, want 0", status.HeadSlot)
	}
	if status.HeadHash != genesis.ContentHash {
		t.Error("HeadHash should match genesis for a fresh chain")
	}

	produceBlock(t, reg, 1)
	produceBlock(t, reg, 2)

	status = handler.GetStatus()
	if status.HeadSlot != 2 {
		t.Errorf("HeadSlot = %d, want 2", status.HeadSlot)
	}
	if status.HeadHash != reg.Head().ContentHash {
		t.Error("HeadHash does not match the chain head")
	}
}

func TestHandleBlocksByRange(t *testing.T) {
	reg := setupTestChain(t)
	handler := NewHandler(reg)

	produceBlock(t, reg, 1)
	produceBlock(t, reg, 2)
	produceBlock(t, reg, 3)

	tests := []struct {
		name      string
		start     types.Slot
		count     uint64
		wantSlots []types.Slot
	}{
		{"window inside chain", 1, 2, []types.Slot{1, 2}},
		{"window past head truncated", 2, 10, []types.Slot{2, 3}},
		{"from genesis", 0, 10, []types.Slot{0, 1, 2, 3}},
		{"beyond head", 99, 5, nil},
		{"huge count clamped", 1, MaxRequestBlocks * 2, []types.Slot{1, 2, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blocks := handler.HandleBlocksByRange(&BlocksByRangeRequest{
				StartSlot: tt.start,
				Count:     tt.count,
			})
			if len(blocks) != len(tt.wantSlots) {
				t.Fatalf("got %d blocks, want %d", len(blocks), len(tt.wantSlots))
			}
			for i, want := range tt.wantSlots {
				if blocks[i].Slot != want {
					t.Errorf("blocks[%d].Slot = %d, want %d", i, blocks[i].Slot, want)
				}
			}
		})
	}
}

func TestValidatePeerStatus(t *testing.T) {
	reg := setupTestChain(t)
	handler := NewHandler(reg)

	valid := &Status{
		GenesisHash: reg.Genesis().ContentHash,
		HeadSlot:    7,
	}
	if err := handler.ValidatePeerStatus(valid); err != nil {
		t.Errorf("ValidatePeerStatus failed for matching genesis: %v", err)
	}

	foreign := &Status{
		GenesisHash: types.Hash{1, 2, 3},
		HeadSlot:    7,
	}
	err := handler.ValidatePeerStatus(foreign)
	if !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("ValidatePeerStatus error = %v, want ErrInvalidStatus", err)
	}
}
