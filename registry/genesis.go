package registry

import (
	"fmt"

	"github.com/rotalabs/rota/codec"
	"github.com/rotalabs/rota/types"
)

// newGenesisBlock builds the one block every chain starts from: slot 0,
// the reserved proposer, a zero parent hash, and no signature.
func newGenesisBlock(genesisTime uint64) (*types.Block, error) {
	block := &types.Block{
		Slot:       0,
		Proposer:   types.GenesisProposer,
		Timestamp:  genesisTime,
		Payload:    types.Payload{},
		Metadata:   types.Payload{},
		ParentHash: types.ZeroHash,
	}

	digest, err := codec.BlockDigest(block)
	if err != nil {
		return nil, fmt.Errorf("digest genesis block: %w", err)
	}
	block.ContentHash = digest
	return block, nil
}
