// Package node wires the registry, block storage, and networking into a
// running authority node.
package node

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/libp2p/go-libp2p/core/peer"
	"gopkg.in/yaml.v3"

	"github.com/rotalabs/rota/clock"
	"github.com/rotalabs/rota/config"
	"github.com/rotalabs/rota/networking"
	"github.com/rotalabs/rota/networking/chainsync"
	"github.com/rotalabs/rota/networking/reqresp"
	"github.com/rotalabs/rota/registry"
	"github.com/rotalabs/rota/storage"
	"github.com/rotalabs/rota/storage/memory"
	"github.com/rotalabs/rota/storage/pebbledb"
	"github.com/rotalabs/rota/types"
)

// seenBlocksSize bounds the dedup cache for gossip blocks.
const seenBlocksSize = 1024

type Node struct {
	config *Config
	reg    *registry.Registry
	clock  *clock.Clock
	store  storage.Store
	net    *networking.Service
	syncer *chainsync.Syncer
	logger *slog.Logger

	// Content hashes of blocks already handled, so gossip duplicates are
	// dropped before verification.
	seen *lru.Cache[types.Hash, struct{}]

	mu               sync.Mutex
	lastProposedSlot types.Slot

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Config struct {
	// Genesis defines the chain constants and initial authority set.
	Genesis *Genesis

	// AuthorityID is the authority this node proposes as. Empty means the
	// node only observes and relays.
	AuthorityID string

	// Payload is attached to every block this node proposes.
	Payload types.Payload

	ListenAddrs []string
	Bootnodes   []string
	Network     string

	// DataDir is the pebble database path. Empty keeps blocks in memory.
	DataDir string

	// ExportPath, when set, receives a YAML snapshot of the registry on
	// shutdown.
	ExportPath string

	Logger *slog.Logger
}

// Genesis is re-exported so callers of this package do not need to import
// config directly.
type Genesis = config.Genesis

// New creates a new node with the given configuration.
func New(ctx context.Context, cfg *Config) (*Node, error) {
	ctx, cancel := context.WithCancel(ctx)

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Genesis == nil {
		cancel()
		return nil, fmt.Errorf("genesis configuration is required")
	}

	// Build the registry from the genesis definition
	reg, err := registry.New(registry.Config{
		GenesisTime:  cfg.Genesis.GenesisTime,
		SlotDuration: cfg.Genesis.SlotDuration,
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create registry: %w", err)
	}
	for _, auth := range cfg.Genesis.ToAuthorities() {
		if err := reg.Register(auth, false); err != nil {
			cancel()
			return nil, fmt.Errorf("register authority %q: %w", auth.Identifier, err)
		}
	}

	if cfg.AuthorityID != "" {
		if _, ok := reg.Authority(cfg.AuthorityID); !ok {
			cancel()
			return nil, fmt.Errorf("authority %q is not in the genesis set", cfg.AuthorityID)
		}
	}

	clk, err := clock.New(cfg.Genesis.GenesisTime, cfg.Genesis.SlotDuration)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create clock: %w", err)
	}

	// Open the block store
	var store storage.Store
	if cfg.DataDir != "" {
		store, err = pebbledb.Open(cfg.DataDir)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("open block store: %w", err)
		}
	} else {
		store = memory.New()
	}

	seen, err := lru.New[types.Hash, struct{}](seenBlocksSize)
	if err != nil {
		cancel()
		store.Close()
		return nil, fmt.Errorf("create seen cache: %w", err)
	}

	node := &Node{
		config: cfg,
		reg:    reg,
		clock:  clk,
		store:  store,
		logger: logger,
		seen:   seen,
		ctx:    ctx,
		cancel: cancel,
	}

	if err := node.replayStoredBlocks(); err != nil {
		cancel()
		store.Close()
		return nil, fmt.Errorf("replay stored blocks: %w", err)
	}

	// Create libp2p host
	host, err := networking.NewHost(ctx, networking.HostConfig{
		ListenAddrs: cfg.ListenAddrs,
	})
	if err != nil {
		cancel()
		store.Close()
		return nil, fmt.Errorf("create host: %w", err)
	}

	// Create networking service with handlers
	handlers := &networking.MessageHandlers{
		OnBlock: node.handleBlock,
	}

	netSvc, err := networking.NewService(ctx, networking.ServiceConfig{
		Host:         host,
		Handlers:     handlers,
		Bootnodes:    networking.ParseBootnodes(cfg.Bootnodes),
		Network:      cfg.Network,
		SlotDuration: cfg.Genesis.SlotDuration,
		Logger:       logger,
	})
	if err != nil {
		cancel()
		host.Close()
		store.Close()
		return nil, fmt.Errorf("create networking service: %w", err)
	}
	node.net = netSvc

	// Create request/response handler, stream handler, protocols
	reqrespHandler := reqresp.NewHandler(reg)
	streamHandler := reqresp.NewStreamHandler(host, reqrespHandler)
	streamHandler.RegisterProtocols()

	// Create syncer for chain synchronization
	node.syncer = chainsync.NewSyncer(ctx, chainsync.Config{
		Host:           host,
		Store:          node,
		StreamHandler:  streamHandler,
		ReqRespHandler: reqrespHandler,
		Logger:         logger,
	})

	return node, nil
}

// replayStoredBlocks rebuilds the in-memory chain from a previous run. The
// genesis block derives from configuration alone, so a stored genesis only
// has to match ours; every later block goes through full verification.
func (n *Node) replayStoredBlocks() error {
	blocks, err := n.store.Blocks()
	if err != nil {
		return err
	}

	if len(blocks) == 0 {
		// Fresh store: persist our genesis
		return n.store.SaveBlock(n.reg.Genesis())
	}

	for _, block := range blocks {
		if block.Slot == 0 {
			if err := n.reg.VerifyBlock(block, nil); err != nil {
				return fmt.Errorf("stored genesis: %w", err)
			}
			continue
		}
		if err := n.reg.SubmitBlock(block); err != nil {
			return fmt.Errorf("stored block at slot %d: %w", block.Slot, err)
		}
	}

	n.logger.Info("replayed stored chain",
		"blocks", len(blocks),
		"head_slot", n.reg.HeadSlot(),
	)
	return nil
}

// Start begins node operation.
func (n *Node) Start() {
	n.net.Start()
	n.syncer.Start()

	n.wg.Add(1)
	go n.slotTicker()

	n.logger.Info("node started",
		"authority", n.config.AuthorityID,
		"genesis_time", n.reg.GenesisTime(),
		"slot_duration", n.reg.SlotDuration(),
		"head_slot", n.reg.HeadSlot(),
	)
}

// Stop gracefully shuts down the node.
func (n *Node) Stop() {
	n.cancel()
	n.wg.Wait()
	n.syncer.Stop()
	n.net.Stop()

	if n.config.ExportPath != "" {
		if err := n.exportSnapshot(n.config.ExportPath); err != nil {
			n.logger.Error("failed to export registry snapshot",
				"path", n.config.ExportPath,
				"error", err,
			)
		}
	}

	if err := n.store.Close(); err != nil {
		n.logger.Error("failed to close block store", "error", err)
	}
	n.logger.Info("node stopped", "head_slot", n.reg.HeadSlot())
}

func (n *Node) slotTicker() {
	defer n.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			n.onTick()
		}
	}
}

func (n *Node) onTick() {
	if n.clock.IsBeforeGenesis() {
		return
	}

	slot, err := n.clock.CurrentSlot()
	if err != nil {
		return
	}
	if slot == 0 {
		return // the genesis slot has no proposer
	}

	// One pass per slot, regardless of how often the ticker fires within it
	n.mu.Lock()
	if slot <= n.lastProposedSlot {
		n.mu.Unlock()
		return
	}
	n.lastProposedSlot = slot
	n.mu.Unlock()

	n.logger.Debug("slot",
		"slot", slot,
		"head_slot", n.reg.HeadSlot(),
		"peers", n.PeerCount(),
	)

	if n.config.AuthorityID == "" {
		return // observer node
	}

	leader, err := n.reg.AuthorityForSlot(slot)
	if err != nil {
		n.logger.Debug("no leader for slot", "slot", slot, "error", err)
		return
	}
	if leader.Identifier != n.config.AuthorityID {
		return
	}

	n.proposeBlock(slot)
}

func (n *Node) proposeBlock(slot types.Slot) {
	// Pin the timestamp to the slot start so the block lands in the slot
	// the leader check ran for, even right before a boundary.
	timestamp := n.clock.SlotStartTime(slot)

	block, err := n.reg.CreateBlock(n.config.AuthorityID, n.config.Payload, timestamp, nil)
	if err != nil {
		n.logger.Warn("create block failed", "slot", slot, "error", err)
		return
	}

	if err := n.reg.SubmitBlock(block); err != nil {
		n.logger.Warn("own block rejected", "slot", slot, "error", err)
		return
	}
	if err := n.store.SaveBlock(block); err != nil {
		n.logger.Error("persist block failed", "slot", slot, "error", err)
	}
	n.seen.Add(block.ContentHash, struct{}{})

	if err := n.net.PublishBlock(n.ctx, block); err != nil {
		n.logger.Error("failed to publish block", "slot", slot, "error", err)
		return
	}

	n.logger.Info("proposed block",
		"slot", block.Slot,
		"hash", block.ContentHash.Short(),
	)
}

// handleBlock processes a block received from gossip.
func (n *Node) handleBlock(ctx context.Context, block *types.Block, from peer.ID) error {
	if _, dup := n.seen.Get(block.ContentHash); dup {
		return nil
	}
	n.seen.Add(block.ContentHash, struct{}{})

	// Fill any slot gap from the sender before trying the block itself
	if err := n.syncer.OnBlockReceived(block, from); err != nil {
		n.logger.Warn("gap fill failed", "peer", from, "error", err)
	}

	head := n.reg.HeadSlot()
	if block.Slot <= head {
		// Sync or an earlier gossip copy already covered this slot
		n.logger.Debug("ignoring stale gossip block",
			"slot", block.Slot,
			"head_slot", head,
		)
		return nil
	}

	if err := n.SubmitBlock(block); err != nil {
		return fmt.Errorf("submit gossip block: %w", err)
	}

	n.logger.Info("accepted block",
		"slot", block.Slot,
		"proposer", block.Proposer,
		"peer", from,
	)
	return nil
}

// SubmitBlock verifies a block against the registry, appends it to the
// chain, and persists it. Blocks at or below the current head are ignored
// without error: gossip and range sync can race, so a slot may already be
// filled by the time a second copy arrives.
func (n *Node) SubmitBlock(block *types.Block) error {
	if block == nil {
		return fmt.Errorf("nil block")
	}
	if block.Slot <= n.reg.HeadSlot() {
		return nil
	}

	if err := n.reg.SubmitBlock(block); err != nil {
		return err
	}
	if err := n.store.SaveBlock(block); err != nil {
		n.logger.Error("persist block failed", "slot", block.Slot, "error", err)
	}
	return nil
}

// HeadSlot returns the slot of the chain head.
func (n *Node) HeadSlot() types.Slot {
	return n.reg.HeadSlot()
}

// CurrentSlot returns the wall-clock slot.
func (n *Node) CurrentSlot() (types.Slot, error) {
	return n.clock.CurrentSlot()
}

// PeerCount returns the number of connected peers.
func (n *Node) PeerCount() int {
	return n.net.PeerCount()
}

func (n *Node) exportSnapshot(path string) error {
	data, err := yaml.Marshal(n.reg.Snapshot())
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	n.logger.Info("exported registry snapshot", "path", path)
	return nil
}

var _ chainsync.ChainStore = (*Node)(nil)
