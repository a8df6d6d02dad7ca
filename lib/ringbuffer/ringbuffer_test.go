// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ringbuffer

import (
	"bytes"
	"fmt"
	"sync"
	"testing"
)

func TestWriteRead(t *testing.T) {
	t.Parallel()
	buffer := New(1024)

	fmt.Fprint(buffer, "hello")
	fmt.Fprint(buffer, " world")

	chunk := buffer.ReadSince(0, 0)
	if string(chunk.Data) != "hello world" {
		t.Errorf("ReadSince(0): got %q, want %q", chunk.Data, "hello world")
	}
	if chunk.Start != 0 || chunk.End != 11 || chunk.Truncated {
		t.Errorf("chunk bounds = [%d,%d) truncated=%v, want [0,11) false", chunk.Start, chunk.End, chunk.Truncated)
	}
}

func TestReadFromOffset(t *testing.T) {
	t.Parallel()
	buffer := New(1024)

	buffer.Write([]byte("abcde"))
	buffer.Write([]byte("fghij"))

	chunk := buffer.ReadSince(5, 0)
	if string(chunk.Data) != "fghij" {
		t.Errorf("ReadSince(5): got %q, want %q", chunk.Data, "fghij")
	}
}

func TestReadAtOrPastEnd(t *testing.T) {
	t.Parallel()
	buffer := New(1024)
	buffer.Write([]byte("data"))

	for _, offset := range []int64{buffer.Offset(), buffer.Offset() + 100} {
		chunk := buffer.ReadSince(offset, 0)
		if len(chunk.Data) != 0 {
			t.Errorf("ReadSince(%d): got %q, want empty", offset, chunk.Data)
		}
		if chunk.Start != 4 || chunk.End != 4 {
			t.Errorf("ReadSince(%d): bounds [%d,%d), want [4,4)", offset, chunk.Start, chunk.End)
		}
	}
}

func TestWrapAround(t *testing.T) {
	t.Parallel()
	buffer := New(8)

	buffer.Write([]byte("12345"))
	buffer.Write([]byte("67890"))

	chunk := buffer.ReadSince(0, 0)
	if string(chunk.Data) != "34567890" {
		t.Errorf("data = %q, want %q", chunk.Data, "34567890")
	}
	if !chunk.Truncated || chunk.Start != 2 || chunk.End != 10 {
		t.Errorf("chunk = [%d,%d) truncated=%v, want [2,10) true", chunk.Start, chunk.End, chunk.Truncated)
	}

	chunk = buffer.ReadSince(7, 0)
	if string(chunk.Data) != "890" || chunk.Truncated {
		t.Errorf("ReadSince(7) = %q truncated=%v, want %q false", chunk.Data, chunk.Truncated, "890")
	}
}

func TestOversizedWrite(t *testing.T) {
	t.Parallel()
	buffer := New(4)

	n, err := buffer.Write([]byte("abcdefghij"))
	if err != nil || n != 10 {
		t.Fatalf("Write = %d, %v; want 10, nil", n, err)
	}
	chunk := buffer.ReadSince(0, 0)
	if string(chunk.Data) != "ghij" || chunk.Start != 6 {
		t.Errorf("chunk = %q at %d, want %q at 6", chunk.Data, chunk.Start, "ghij")
	}

	buffer.Write([]byte("kl"))
	chunk = buffer.ReadSince(6, 0)
	if string(chunk.Data) != "ijkl" {
		t.Errorf("after follow-up write: %q, want %q", chunk.Data, "ijkl")
	}
}

func TestReadLimit(t *testing.T) {
	t.Parallel()
	buffer := New(64)
	buffer.Write([]byte("0123456789"))

	chunk := buffer.ReadSince(2, 3)
	if string(chunk.Data) != "234" || chunk.End != 5 {
		t.Errorf("limited read = %q end %d, want %q end 5", chunk.Data, chunk.End, "234")
	}
}

func TestConcurrentWriters(t *testing.T) {
	t.Parallel()
	buffer := New(256)

	var wait sync.WaitGroup
	for i := 0; i < 8; i++ {
		wait.Add(1)
		go func() {
			defer wait.Done()
			for j := 0; j < 100; j++ {
				buffer.Write([]byte("x"))
			}
		}()
	}
	wait.Wait()

	if buffer.Offset() != 800 {
		t.Fatalf("Offset = %d, want 800", buffer.Offset())
	}
	chunk := buffer.ReadSince(0, 0)
	if !bytes.Equal(chunk.Data, bytes.Repeat([]byte("x"), 256)) {
		t.Errorf("retained data is not 256 x's")
	}
}
