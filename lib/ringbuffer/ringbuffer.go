// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ringbuffer holds the most recent output of a session's
// process in a fixed-size circular buffer addressed by absolute byte
// offsets.
package ringbuffer

import "sync"

// DefaultSize is the default capacity in bytes. One MiB keeps hours of
// typical agent output.
const DefaultSize = 1 << 20

// Buffer is a fixed-capacity circular byte buffer. Every byte ever
// written has an absolute offset; the buffer retains the newest
// Capacity bytes and overwrites the oldest.
//
// Buffer implements io.Writer so it can be handed directly to
// exec.Cmd as Stdout and Stderr. All methods are safe for concurrent
// use.
type Buffer struct {
	mutex    sync.Mutex
	data     []byte
	capacity int
	// head is the next write position within data.
	head int
	// total is the number of bytes ever written. The retained bytes
	// span offsets [total-min(total, capacity), total).
	total int64
}

// Chunk is the result of a read. Start and End are absolute offsets
// of Data. Truncated is set when the requested offset had already been
// overwritten, meaning the caller missed bytes [requested, Start).
type Chunk struct {
	Start     int64
	End       int64
	Data      []byte
	Truncated bool
}

// New returns a Buffer of the given capacity. A non-positive capacity
// selects DefaultSize.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultSize
	}
	return &Buffer{data: make([]byte, capacity), capacity: capacity}
}

// Write appends p, overwriting the oldest bytes when full. It never
// fails.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	written := len(p)
	b.total += int64(written)

	// Only the tail that fits can survive.
	if len(p) > b.capacity {
		p = p[len(p)-b.capacity:]
		b.head = 0
	}
	for len(p) > 0 {
		n := copy(b.data[b.head:], p)
		b.head = (b.head + n) % b.capacity
		p = p[n:]
	}
	return written, nil
}

// Offset returns the total number of bytes ever written. Pass it to
// ReadSince to read only output produced after this call.
func (b *Buffer) Offset() int64 {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.total
}

// ReadSince returns retained bytes from offset onward, at most limit
// of them when limit > 0. An offset beyond the end yields an empty
// chunk at the end; a negative offset reads from the oldest retained
// byte.
func (b *Buffer) ReadSince(offset int64, limit int) Chunk {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	stored := b.total
	if stored > int64(b.capacity) {
		stored = int64(b.capacity)
	}
	oldest := b.total - stored

	if offset >= b.total {
		return Chunk{Start: b.total, End: b.total}
	}

	chunk := Chunk{Start: offset}
	if offset < oldest {
		chunk.Truncated = offset >= 0 || oldest > 0
		chunk.Start = oldest
	}

	length := b.total - chunk.Start
	if limit > 0 && length > int64(limit) {
		length = int64(limit)
	}
	chunk.End = chunk.Start + length
	chunk.Data = make([]byte, length)

	// head is where offset total lands; walk back to chunk.Start.
	position := (b.head - int(b.total-chunk.Start)) % b.capacity
	if position < 0 {
		position += b.capacity
	}
	for copied := 0; copied < len(chunk.Data); {
		n := copy(chunk.Data[copied:], b.data[position:])
		copied += n
		position = (position + n) % b.capacity
	}
	return chunk
}
