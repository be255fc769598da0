// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// Compression identifies how a frame payload is encoded.
type Compression uint8

const (
	// CompressionNone carries the payload as-is.
	CompressionNone Compression = 0

	// CompressionGzip carries a gzip stream of the payload.
	CompressionGzip Compression = 1
)

func (compression Compression) String() string {
	switch compression {
	case CompressionNone:
		return "none"
	case CompressionGzip:
		return "gzip"
	default:
		return fmt.Sprintf("compression(%d)", uint8(compression))
	}
}

// CompressionFor is the writer policy: gzip payloads of at least
// threshold bytes. A non-positive threshold selects
// DefaultCompressThreshold.
func CompressionFor(size, threshold int) Compression {
	if threshold <= 0 {
		threshold = DefaultCompressThreshold
	}
	if size >= threshold {
		return CompressionGzip
	}
	return CompressionNone
}

// ProtocolError reports a frame that violates the wire format. The
// connection carrying it cannot be resynchronized and must be closed.
type ProtocolError struct {
	Message string
}

func (e *ProtocolError) Error() string { return e.Message }

func protocolErrorf(format string, args ...any) *ProtocolError {
	return &ProtocolError{Message: fmt.Sprintf(format, args...)}
}

// frameHeaderSize is the length prefix plus the compression byte.
const frameHeaderSize = 5

// EncodeFrame returns the complete wire frame for payload.
func EncodeFrame(payload []byte, compression Compression) ([]byte, error) {
	if len(payload) > MaxUncompressedPayloadSize {
		return nil, protocolErrorf("Uncompressed payload too large: %d", len(payload))
	}

	body := payload
	switch compression {
	case CompressionNone:
	case CompressionGzip:
		compressed, err := gzipBytes(payload)
		if err != nil {
			return nil, err
		}
		body = compressed
	default:
		return nil, protocolErrorf("Unsupported frame compression: %d", uint8(compression))
	}

	if len(body) > MaxCompressedPayloadSize {
		return nil, protocolErrorf("Compressed payload too large: %d", len(body))
	}

	frame := make([]byte, frameHeaderSize+len(body))
	binary.BigEndian.PutUint32(frame[:4], uint32(len(body)+1))
	frame[4] = byte(compression)
	copy(frame[frameHeaderSize:], body)
	return frame, nil
}

// WriteFrame encodes payload and writes it with a single Write call,
// so concurrent writers serialized by the caller never interleave
// partial frames.
func WriteFrame(writer io.Writer, payload []byte, compression Compression) error {
	frame, err := EncodeFrame(payload, compression)
	if err != nil {
		return err
	}
	if _, err := writer.Write(frame); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

// ReadFrame reads one frame and returns its decoded payload. It returns
// io.EOF, unwrapped, when the stream ends cleanly before a length
// prefix; an end of stream anywhere inside a frame is
// io.ErrUnexpectedEOF.
func ReadFrame(reader io.Reader) ([]byte, error) {
	payload, _, err := ReadFrameCompression(reader)
	return payload, err
}

// ReadFrameCompression is ReadFrame that also reports the frame's
// compression tag.
func ReadFrameCompression(reader io.Reader) ([]byte, Compression, error) {
	var lengthPrefix [4]byte
	if _, err := io.ReadFull(reader, lengthPrefix[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, 0, io.EOF
		}
		return nil, 0, fmt.Errorf("reading frame length: %w", err)
	}

	// Interpreted as signed so oversized prefixes report the same
	// value a peer using signed 32-bit lengths would have written.
	length := int32(binary.BigEndian.Uint32(lengthPrefix[:]))
	if length <= 0 || length > MaxCompressedPayloadSize+1 {
		return nil, 0, protocolErrorf("Invalid frame size: %d", length)
	}

	var tag [1]byte
	if _, err := io.ReadFull(reader, tag[:]); err != nil {
		return nil, 0, fmt.Errorf("reading frame compression: %w", unexpectedEOF(err))
	}
	compression := Compression(tag[0])
	if compression != CompressionNone && compression != CompressionGzip {
		return nil, 0, protocolErrorf("Unsupported frame compression: %d", tag[0])
	}

	body := make([]byte, length-1)
	if _, err := io.ReadFull(reader, body); err != nil {
		return nil, 0, fmt.Errorf("reading frame payload: %w", unexpectedEOF(err))
	}

	if compression == CompressionNone {
		if len(body) > MaxUncompressedPayloadSize {
			return nil, 0, protocolErrorf("Uncompressed payload too large: %d", len(body))
		}
		return body, compression, nil
	}
	payload, err := gunzipBytes(body)
	if err != nil {
		return nil, 0, err
	}
	return payload, compression, nil
}

func unexpectedEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

func gzipBytes(payload []byte) ([]byte, error) {
	var buffer bytes.Buffer
	writer := gzip.NewWriter(&buffer)
	if _, err := writer.Write(payload); err != nil {
		return nil, fmt.Errorf("compressing frame: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("compressing frame: %w", err)
	}
	return buffer.Bytes(), nil
}

// gunzipBytes inflates body, reading at most one byte past the
// uncompressed limit so a hostile stream cannot force a large
// allocation.
func gunzipBytes(body []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("decompressing frame: %w", err)
	}
	defer reader.Close()

	var output bytes.Buffer
	total, err := io.Copy(&output, io.LimitReader(reader, MaxUncompressedPayloadSize+1))
	if err != nil {
		return nil, fmt.Errorf("decompressing frame: %w", err)
	}
	if total > MaxUncompressedPayloadSize {
		return nil, protocolErrorf("Decompressed frame too large: %d", total)
	}
	return output.Bytes(), nil
}
