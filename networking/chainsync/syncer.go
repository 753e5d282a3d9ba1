// Package chainsync implements chain synchronization between nodes.
//
// When a node discovers a peer with a higher head slot (via the Status
// handshake), it requests the missing slot window via the BlocksByRange
// req/resp protocol and submits the blocks in ascending order. Gossip
// blocks that arrive more than one slot ahead of our head trigger the
// same range request against the sending peer.
//
// Sync requests use exponential backoff retry (1s, 2s, 4s, max 3 retries)
// to handle transient stream failures gracefully.
package chainsync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"

	"github.com/rotalabs/rota/networking/reqresp"
	"github.com/rotalabs/rota/types"
)

// ChainStore provides access to the local chain for synchronization.
// Satisfied by node.Node.
type ChainStore interface {
	HeadSlot() types.Slot
	SubmitBlock(block *types.Block) error
}

const (
	reqrespTimeout = 30 * time.Second
	maxSyncRetries = 3
	baseRetryDelay = 1 * time.Second
)

type SyncState int

const (
	SyncStateIdle SyncState = iota
	SyncStateSyncing
)

type Syncer struct {
	host           host.Host
	store          ChainStore
	streamHandler  *reqresp.StreamHandler
	reqrespHandler *reqresp.Handler
	logger         *slog.Logger

	mu         sync.RWMutex
	peerStatus map[peer.ID]*reqresp.Status
	state      SyncState

	ctx    context.Context
	cancel context.CancelFunc
}

// Config holds syncer configuration.
type Config struct {
	Host           host.Host
	Store          ChainStore
	StreamHandler  *reqresp.StreamHandler
	ReqRespHandler *reqresp.Handler
	Logger         *slog.Logger
}

// NewSyncer creates a new syncer.
func NewSyncer(ctx context.Context, cfg Config) *Syncer {
	ctx, cancel := context.WithCancel(ctx)

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Syncer{
		host:           cfg.Host,
		store:          cfg.Store,
		streamHandler:  cfg.StreamHandler,
		reqrespHandler: cfg.ReqRespHandler,
		logger:         logger,
		peerStatus:     make(map[peer.ID]*reqresp.Status),
		state:          SyncStateIdle,
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Start begins the syncer background tasks.
func (s *Syncer) Start() {
	// Register connection notifier
	s.host.Network().Notify(&connectionNotifier{syncer: s, logger: s.logger})

	// Check for existing peers (e.g., bootnodes connected before syncer started)
	for _, peerID := range s.host.Network().Peers() {
		s.logger.Debug("found existing peer, initiating status exchange", "peer", peerID)
		go func(pid peer.ID) {
			ctx, cancel := context.WithTimeout(s.ctx, reqrespTimeout)
			defer cancel()
			if err := s.InitiateStatusExchange(ctx, pid); err != nil {
				s.logger.Warn("status exchange with existing peer failed",
					"peer", pid,
					"error", err,
				)
			}
		}(peerID)
	}

	s.logger.Info("syncer started")
}

// Stop shuts down the syncer.
func (s *Syncer) Stop() {
	s.cancel()
	s.logger.Info("syncer stopped")
}

// InitiateStatusExchange sends our status and processes the peer's response.
func (s *Syncer) InitiateStatusExchange(ctx context.Context, peerID peer.ID) error {
	ourStatus := s.reqrespHandler.GetStatus()

	s.logger.Debug("sending status to peer",
		"peer", peerID,
		"head_slot", ourStatus.HeadSlot,
	)

	peerStatus, err := s.streamHandler.SendStatus(ctx, peerID, ourStatus)
	if err != nil {
		return fmt.Errorf("send status: %w", err)
	}

	return s.processPeerStatus(peerID, peerStatus)
}

// processPeerStatus validates and stores peer status, triggers sync if needed.
func (s *Syncer) processPeerStatus(peerID peer.ID, peerStatus *reqresp.Status) error {
	s.logger.Debug("received peer status",
		"peer", peerID,
		"peer_head_slot", peerStatus.HeadSlot,
	)

	// Validate peer status
	if err := s.reqrespHandler.ValidatePeerStatus(peerStatus); err != nil {
		s.logger.Warn("invalid peer status, disconnecting",
			"peer", peerID,
			"error", err,
		)
		// A peer on a different genesis is on a different network
		s.host.Network().ClosePeer(peerID)
		return err
	}

	// Store peer status
	s.mu.Lock()
	s.peerStatus[peerID] = peerStatus
	s.mu.Unlock()

	// Check if we need to sync
	if peerStatus.HeadSlot > s.store.HeadSlot() {
		s.logger.Info("peer ahead, initiating sync",
			"peer", peerID,
			"peer_head_slot", peerStatus.HeadSlot,
			"our_head_slot", s.store.HeadSlot(),
		)
		go s.syncFromPeer(peerID, peerStatus)
	}

	return nil
}

// syncFromPeer requests the missing slot windows from a peer until our head
// catches up with the peer's claimed head.
func (s *Syncer) syncFromPeer(peerID peer.ID, peerStatus *reqresp.Status) {
	if !s.beginSync() {
		return // Already syncing
	}
	defer s.endSync()

	for {
		ourHead := s.store.HeadSlot()
		if peerStatus.HeadSlot <= ourHead {
			return
		}

		count := uint64(peerStatus.HeadSlot - ourHead)
		if count > reqresp.MaxRequestBlocks {
			count = reqresp.MaxRequestBlocks
		}

		s.logger.Debug("requesting blocks from peer",
			"peer", peerID,
			"start_slot", ourHead+1,
			"count", count,
		)

		blocks, err := s.requestBlocksWithRetry(peerID, ourHead+1, count)
		if err != nil {
			s.logger.Warn("failed to request blocks",
				"peer", peerID,
				"error", err,
			)
			return
		}

		s.logger.Debug("received blocks from peer",
			"peer", peerID,
			"count", len(blocks),
		)

		for _, block := range blocks {
			if err := s.processReceivedBlock(block); err != nil {
				s.logger.Warn("failed to process block",
					"slot", block.Slot,
					"error", err,
				)
			}
		}

		// Stop when a window yields no progress, otherwise a peer serving
		// nothing useful would keep us requesting forever.
		if s.store.HeadSlot() == ourHead {
			return
		}
	}
}

// OnBlockReceived is called for blocks that arrive via gossip before the
// caller submits them. If the block is more than one slot ahead of our
// head, the gap is requested from the sending peer first. An empty result
// is fine: the gap slots may simply have had no blocks.
func (s *Syncer) OnBlockReceived(block *types.Block, fromPeer peer.ID) error {
	ourHead := s.store.HeadSlot()
	if block.Slot <= ourHead+1 {
		return nil
	}
	return s.fillGap(fromPeer, ourHead+1, uint64(block.Slot-ourHead-1))
}

// fillGap requests the slot window [start, start+count) from a peer and
// submits whatever blocks it returns.
func (s *Syncer) fillGap(peerID peer.ID, start types.Slot, count uint64) error {
	if !s.beginSync() {
		return nil // An in-flight sync covers the gap
	}
	defer s.endSync()

	if count > reqresp.MaxRequestBlocks {
		count = reqresp.MaxRequestBlocks
	}

	s.logger.Debug("filling slot gap",
		"peer", peerID,
		"start_slot", start,
		"count", count,
	)

	blocks, err := s.requestBlocksWithRetry(peerID, start, count)
	if err != nil {
		return fmt.Errorf("request gap blocks: %w", err)
	}

	for _, block := range blocks {
		if err := s.processReceivedBlock(block); err != nil {
			s.logger.Warn("failed to process gap block",
				"slot", block.Slot,
				"error", err,
			)
		}
	}

	return nil
}

// processReceivedBlock submits a block received via req/resp.
func (s *Syncer) processReceivedBlock(block *types.Block) error {
	if err := s.store.SubmitBlock(block); err != nil {
		return err
	}

	s.logger.Info("synced block",
		"slot", block.Slot,
		"proposer", block.Proposer,
	)

	return nil
}

// beginSync transitions the syncer to the syncing state. It returns false
// if a sync is already in flight.
func (s *Syncer) beginSync() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == SyncStateSyncing {
		return false
	}
	s.state = SyncStateSyncing
	return true
}

func (s *Syncer) endSync() {
	s.mu.Lock()
	s.state = SyncStateIdle
	s.mu.Unlock()
}

// requestBlocksWithRetry wraps RequestBlocksByRange with exponential backoff
// retry. Retries up to maxSyncRetries (3) times with delays of 1s, 2s, 4s.
// This handles transient libp2p stream reset errors that can occur under load.
func (s *Syncer) requestBlocksWithRetry(peerID peer.ID, start types.Slot, count uint64) ([]*types.Block, error) {
	var lastErr error
	for attempt := 0; attempt <= maxSyncRetries; attempt++ {
		if attempt > 0 {
			delay := baseRetryDelay * time.Duration(1<<(attempt-1)) // 1s, 2s, 4s
			s.logger.Debug("retrying block request",
				"peer", peerID,
				"attempt", attempt+1,
				"delay", delay,
			)
			select {
			case <-s.ctx.Done():
				return nil, s.ctx.Err()
			case <-time.After(delay):
			}
		}

		blocks, err := s.streamHandler.RequestBlocksByRange(s.ctx, peerID, start, count)
		if err == nil {
			return blocks, nil
		}
		lastErr = err
		s.logger.Debug("block request failed",
			"peer", peerID,
			"attempt", attempt+1,
			"error", err,
		)
	}
	return nil, fmt.Errorf("after %d retries: %w", maxSyncRetries, lastErr)
}

// RemovePeer removes a peer from tracking.
func (s *Syncer) RemovePeer(peerID peer.ID) {
	s.mu.Lock()
	delete(s.peerStatus, peerID)
	s.mu.Unlock()
}

// connectionNotifier listens for peer connection events.
type connectionNotifier struct {
	syncer *Syncer
	logger *slog.Logger
}

// Listen implements network.Notifiee
func (n *connectionNotifier) Listen(network.Network, multiaddr.Multiaddr) {}

// ListenClose implements network.Notifiee
func (n *connectionNotifier) ListenClose(network.Network, multiaddr.Multiaddr) {}

// Connected is called when a new peer connection is established.
// The dialer sends Status first; the listener responds with its own.
func (n *connectionNotifier) Connected(net network.Network, conn network.Conn) {
	peerID := conn.RemotePeer()

	// Check if we initiated the connection (we are the dialer)
	if conn.Stat().Direction == network.DirOutbound {
		// We dialed, we send status first
		n.logger.Debug("new outbound connection, initiating status exchange", "peer", peerID)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), reqrespTimeout)
			defer cancel()
			if err := n.syncer.InitiateStatusExchange(ctx, peerID); err != nil {
				n.logger.Warn("status exchange failed", "peer", peerID, "error", err)
			}
		}()
	} else {
		n.logger.Debug("new inbound connection", "peer", peerID)
		// If we are the listener, we wait for them to send status first
		// (handled by the stream handler when they open a Status stream)
	}
}

// Disconnected is called when a peer disconnects.
func (n *connectionNotifier) Disconnected(net network.Network, conn network.Conn) {
	peerID := conn.RemotePeer()
	n.logger.Debug("peer disconnected", "peer", peerID)
	n.syncer.RemovePeer(peerID)
}

var _ network.Notifiee = (*connectionNotifier)(nil)
