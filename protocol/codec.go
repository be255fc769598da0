// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"bufio"
	"io"
	"log/slog"
	"sync"
)

// CodecOptions configures a Codec.
type CodecOptions struct {
	// CompressThreshold is passed to CompressionFor for every write.
	// Zero selects DefaultCompressThreshold.
	CompressThreshold int

	// Logger receives debug records for skipped frames. Nil discards.
	Logger *slog.Logger
}

// Codec reads and writes messages over a byte stream. Reads must come
// from a single goroutine; writes are serialized internally.
type Codec struct {
	connection        io.ReadWriteCloser
	reader            *bufio.Reader
	compressThreshold int
	logger            *slog.Logger

	writeMu sync.Mutex
}

// NewCodec wraps connection.
func NewCodec(connection io.ReadWriteCloser, options CodecOptions) *Codec {
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Codec{
		connection:        connection,
		reader:            bufio.NewReader(connection),
		compressThreshold: options.CompressThreshold,
		logger:            logger,
	}
}

// ReadMessage returns the next decodable message. Frames that decode
// to no message are skipped. io.EOF means the peer closed the stream
// between frames.
func (codec *Codec) ReadMessage() (Message, error) {
	for {
		frame, err := ReadFrame(codec.reader)
		if err != nil {
			return Message{}, err
		}
		message, ok := Unmarshal(frame)
		if !ok {
			codec.logger.Debug("skipping undecodable frame", "bytes", len(frame))
			continue
		}
		return message, nil
	}
}

// WriteMessage serializes and writes message, compressing it when it
// reaches the threshold.
func (codec *Codec) WriteMessage(message Message) error {
	data, err := Marshal(message)
	if err != nil {
		return err
	}
	codec.writeMu.Lock()
	defer codec.writeMu.Unlock()
	return WriteFrame(codec.connection, data, CompressionFor(len(data), codec.compressThreshold))
}

// Close closes the underlying stream, unblocking any pending read.
func (codec *Codec) Close() error {
	return codec.connection.Close()
}
