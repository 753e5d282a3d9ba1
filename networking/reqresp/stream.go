package reqresp

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/golang/snappy"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"

	"github.com/rotalabs/rota/codec"
	"github.com/rotalabs/rota/types"
)

const (
	ReadTimeout  = 10 * time.Second
	WriteTimeout = 10 * time.Second
	MaxMsgSize   = 10 * 1024 * 1024 // 10MB
)

// Response codes
const (
	RespCodeSuccess     byte = 0x00
	RespCodeInvalidReq  byte = 0x01
	RespCodeServerError byte = 0x02
)

// StreamHandler manages request/response protocol streams.
type StreamHandler struct {
	host    host.Host
	handler *Handler
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(h host.Host, handler *Handler) *StreamHandler {
	return &StreamHandler{
		host:    h,
		handler: handler,
	}
}

// RegisterProtocols registers all request/response protocol handlers.
func (s *StreamHandler) RegisterProtocols() {
	s.host.SetStreamHandler(protocol.ID(StatusProtocolV1), s.handleStatusStream)
	s.host.SetStreamHandler(protocol.ID(BlocksByRangeProtocolV1), s.handleBlocksByRangeStream)
}

// handleStatusStream handles incoming Status requests.
func (s *StreamHandler) handleStatusStream(stream network.Stream) {
	defer stream.Close()

	_ = stream.SetReadDeadline(time.Now().Add(ReadTimeout))

	data, err := readMessage(stream)
	if err != nil {
		slog.Debug("handleStatusStream: failed to read message", "error", err)
		writeErrorResponse(stream, RespCodeInvalidReq)
		return
	}

	var peerStatus Status
	if err := codec.Unmarshal(data, &peerStatus); err != nil {
		slog.Debug("handleStatusStream: failed to unmarshal", "error", err)
		writeErrorResponse(stream, RespCodeInvalidReq)
		return
	}

	ourStatus := s.handler.GetStatus()

	respData, err := codec.Marshal(ourStatus)
	if err != nil {
		slog.Debug("handleStatusStream: failed to marshal response", "error", err)
		writeErrorResponse(stream, RespCodeServerError)
		return
	}

	_ = stream.SetWriteDeadline(time.Now().Add(WriteTimeout))
	if err := writeSuccessResponse(stream, respData); err != nil {
		slog.Debug("handleStatusStream: failed to write response", "error", err)
		return
	}
}

// handleBlocksByRangeStream handles incoming BlocksByRange requests. Each
// block is written as its own response chunk so the requester can decode
// them one at a time.
func (s *StreamHandler) handleBlocksByRangeStream(stream network.Stream) {
	defer stream.Close()

	_ = stream.SetReadDeadline(time.Now().Add(ReadTimeout))

	data, err := readMessage(stream)
	if err != nil {
		writeErrorResponse(stream, RespCodeInvalidReq)
		return
	}

	var request BlocksByRangeRequest
	if err := codec.Unmarshal(data, &request); err != nil {
		writeErrorResponse(stream, RespCodeInvalidReq)
		return
	}

	blocks := s.handler.HandleBlocksByRange(&request)

	_ = stream.SetWriteDeadline(time.Now().Add(WriteTimeout))
	for _, block := range blocks {
		blockData, err := codec.EncodeBlock(block)
		if err != nil {
			continue
		}
		writeSuccessResponse(stream, blockData)
	}
}

// SendStatus sends a Status request to a peer and returns their status.
func (s *StreamHandler) SendStatus(ctx context.Context, peerID peer.ID, status *Status) (*Status, error) {
	stream, err := s.host.NewStream(ctx, peerID, protocol.ID(StatusProtocolV1))
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	defer stream.Close()

	data, err := codec.Marshal(status)
	if err != nil {
		return nil, fmt.Errorf("marshal status: %w", err)
	}

	_ = stream.SetWriteDeadline(time.Now().Add(WriteTimeout))
	if err := writeMessage(stream, data); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	// Close write side to signal end of request
	if err := stream.CloseWrite(); err != nil {
		return nil, fmt.Errorf("close write: %w", err)
	}

	_ = stream.SetReadDeadline(time.Now().Add(ReadTimeout))
	respCode, respData, err := readResponse(stream)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if respCode != RespCodeSuccess {
		return nil, fmt.Errorf("peer returned error code %d", respCode)
	}

	var peerStatus Status
	if err := codec.Unmarshal(respData, &peerStatus); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}

	return &peerStatus, nil
}

// RequestBlocksByRange requests a window of blocks from a peer.
func (s *StreamHandler) RequestBlocksByRange(ctx context.Context, peerID peer.ID, startSlot types.Slot, count uint64) ([]*types.Block, error) {
	stream, err := s.host.NewStream(ctx, peerID, protocol.ID(BlocksByRangeProtocolV1))
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	defer stream.Close()

	request := &BlocksByRangeRequest{StartSlot: startSlot, Count: count}
	data, err := codec.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	_ = stream.SetWriteDeadline(time.Now().Add(WriteTimeout))
	if err := writeMessage(stream, data); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	// Close write side to signal end of request
	if err := stream.CloseWrite(); err != nil {
		return nil, fmt.Errorf("close write: %w", err)
	}

	// Read responses, one chunk per block, until the peer closes the stream.
	var blocks []*types.Block
	_ = stream.SetReadDeadline(time.Now().Add(ReadTimeout))

	for {
		respCode, respData, err := readResponse(stream)
		if err != nil {
			break
		}
		if respCode != RespCodeSuccess {
			continue
		}

		block, err := codec.DecodeBlock(respData)
		if err != nil {
			continue
		}
		blocks = append(blocks, block)
	}

	return blocks, nil
}

// Framed message I/O: two uvarint prefixes (uncompressed size, compressed
// size) followed by the snappy block-compressed payload. The compressed
// size prefix gives each chunk an explicit boundary, so several chunks can
// share one stream.

type byteReader struct {
	r io.Reader
}

func (b byteReader) ReadByte() (byte, error) {
	var buf [1]byte
	if _, err := io.ReadFull(b.r, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

// readMessage reads one framed message from the stream.
func readMessage(r io.Reader) ([]byte, error) {
	br := byteReader{r}

	uncompressedSize, err := binary.ReadUvarint(br)
	if err != nil {
		return nil, err
	}
	if uncompressedSize > MaxMsgSize {
		return nil, fmt.Errorf("message too large: %d", uncompressedSize)
	}

	compressedSize, err := binary.ReadUvarint(br)
	if err != nil {
		return nil, err
	}
	if maxLen := snappy.MaxEncodedLen(int(uncompressedSize)); maxLen < 0 || compressedSize > uint64(maxLen) {
		return nil, fmt.Errorf("compressed size %d out of bounds for %d byte message", compressedSize, uncompressedSize)
	}

	compressed := make([]byte, compressedSize)
	if _, err := io.ReadFull(r, compressed); err != nil {
		return nil, err
	}

	decoded, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, fmt.Errorf("snappy decode: %w", err)
	}
	if uint64(len(decoded)) != uncompressedSize {
		return nil, fmt.Errorf("size mismatch: expected %d, got %d", uncompressedSize, len(decoded))
	}

	return decoded, nil
}

// writeMessage writes one framed message to the stream.
func writeMessage(w io.Writer, data []byte) error {
	compressed := snappy.Encode(nil, data)

	var prefix [2 * binary.MaxVarintLen64]byte
	n := binary.PutUvarint(prefix[:], uint64(len(data)))
	n += binary.PutUvarint(prefix[n:], uint64(len(compressed)))
	if _, err := w.Write(prefix[:n]); err != nil {
		return err
	}

	_, err := w.Write(compressed)
	return err
}

// readResponse reads a response code followed by the message.
func readResponse(r io.Reader) (byte, []byte, error) {
	code, err := byteReader{r}.ReadByte()
	if err != nil {
		return 0, nil, err
	}

	data, err := readMessage(r)
	return code, data, err
}

// writeSuccessResponse writes a success response with data.
func writeSuccessResponse(w io.Writer, data []byte) error {
	if _, err := w.Write([]byte{RespCodeSuccess}); err != nil {
		return err
	}
	return writeMessage(w, data)
}

// writeErrorResponse writes an error response code.
func writeErrorResponse(w io.Writer, code byte) error {
	_, err := w.Write([]byte{code})
	return err
}
