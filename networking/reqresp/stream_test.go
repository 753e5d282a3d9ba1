package reqresp

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"
)

func TestMessageRoundTrip(t *testing.T) {
	payloads := [][]byte{
		{},
		[]byte("hello"),
		bytes.Repeat([]byte{0xab}, 100_000),
	}

	for _, payload := range payloads {
		var buf bytes.Buffer
		if err := writeMessage(&buf, payload); err != nil {
			t.Fatalf("writeMessage failed: %v", err)
		}

		got, err := readMessage(&buf)
		if err != nil {
			t.Fatalf("readMessage failed: %v", err)
		}
		if !bytes.Equal(got, payload) {
			t.Errorf("round trip mismatch for %d byte payload", len(payload))
		}
	}
}

func TestResponseChunksShareStream(t *testing.T) {
	var buf bytes.Buffer

	chunks := [][]byte{
		[]byte("first"),
		[]byte("second"),
		bytes.Repeat([]byte("x"), 5000),
	}
	for _, chunk := range chunks {
		if err := writeSuccessResponse(&buf, chunk); err != nil {
			t.Fatalf("writeSuccessResponse failed: %v", err)
		}
	}

	for i, want := range chunks {
		code, data, err := readResponse(&buf)
		if err != nil {
			t.Fatalf("readResponse %d failed: %v", i, err)
		}
		if code != RespCodeSuccess {
			t.Errorf("chunk %d code = %d, want success", i, code)
		}
		if !bytes.Equal(data, want) {
			t.Errorf("chunk %d data mismatch", i)
		}
	}

	// Stream exhausted
	if _, _, err := readResponse(&buf); err != io.EOF {
		t.Errorf("readResponse on empty stream = %v, want io.EOF", err)
	}
}

func TestReadMessageRejectsOversize(t *testing.T) {
	var buf bytes.Buffer
	varint := make([]byte, binary.MaxVarintLen64)
	n := binary.PutUvarint(varint, MaxMsgSize+1)
	buf.Write(varint[:n])

	if _, err := readMessage(&buf); err == nil {
		t.Error("expected error for oversize message")
	}
}

func TestReadMessageRejectsBogusCompressedSize(t *testing.T) {
	// Claims a tiny uncompressed size but an enormous compressed size.
	var buf bytes.Buffer
	varint := make([]byte, binary.MaxVarintLen64)
	n := binary.PutUvarint(varint, 4)
	buf.Write(varint[:n])
	n = binary.PutUvarint(varint, 1<<30)
	buf.Write(varint[:n])

	if _, err := readMessage(&buf); err == nil {
		t.Error("expected error for out-of-bounds compressed size")
	}
}

func TestErrorResponseTerminatesRead(t *testing.T) {
	var buf bytes.Buffer
	if err := writeErrorResponse(&buf, RespCodeInvalidReq); err != nil {
		t.Fatalf("writeErrorResponse failed: %v", err)
	}

	code, _, err := readResponse(&buf)
	if code != RespCodeInvalidReq {
		t.Errorf("code = %d, want %d", code, RespCodeInvalidReq)
	}
	if err == nil {
		t.Error("expected error reading body after error code")
	}
}
