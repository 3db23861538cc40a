// Package blockstore implements a linked-block byte stream on top of a
// host-provided fixed-size block allocator.
//
// Each block starts with an 8-byte next-pointer (0 = end of chain)
// followed by the payload region. The Writer overwrites an existing
// chain in place, extending it when the payload region runs out; the
// root pointer stays stable across flushes and is the only externally
// visible commit point. A crash mid-write can leave a partially linked
// chain, which is tolerated: the previously committed root record keeps
// pointing at the last fully flushed image.
package blockstore

import (
	"encoding/binary"
	"io"
)

// Ref identifies one block. The zero Ref is the nil pointer.
type Ref uint64

// IsValid reports whether the ref points at a block.
func (r Ref) IsValid() bool { return r != 0 }

// headerSize is the per-block next-pointer prefix.
const headerSize = 8

// Allocator is the host storage capability the store is built on.
// Implementations hand out fixed-size blocks addressed by Ref.
type Allocator interface {
	// New allocates a zeroed block and returns its ref.
	New() (Ref, error)

	// Get returns the full buffer of a block. With forWrite the buffer
	// is mutable and the block is marked modified.
	Get(ref Ref, forWrite bool) ([]byte, error)

	// BlockSize returns the fixed size of every block in bytes.
	BlockSize() int
}

// Writer writes a sequential byte stream into a block chain.
// It implements io.Writer. Writes are not transactional across blocks.
type Writer struct {
	alloc   Allocator
	root    Ref
	current Ref
	pos     int
}

// NewWriter creates a writer positioned at the start of the chain
// rooted at root.
func NewWriter(alloc Allocator, root Ref) *Writer {
	return &Writer{
		alloc:   alloc,
		root:    root,
		current: root,
	}
}

// Reset rewinds the writer to the chain root for a fresh flush.
func (w *Writer) Reset() {
	w.current = w.root
	w.pos = 0
}

// Write implements io.Writer. The current block is filled first; when
// its payload region is exhausted a next block is linked (reusing an
// existing link when the chain already extends past this point).
func (w *Writer) Write(p []byte) (int, error) {
	payload := w.alloc.BlockSize() - headerSize
	written := 0
	for written < len(p) {
		buf, err := w.alloc.Get(w.current, true)
		if err != nil {
			return written, err
		}
		n := copy(buf[headerSize+w.pos:], p[written:])
		written += n
		w.pos += n
		if w.pos == payload {
			w.pos = 0
			next := Ref(binary.LittleEndian.Uint64(buf[:headerSize]))
			if !next.IsValid() {
				next, err = w.alloc.New()
				if err != nil {
					return written, err
				}
				binary.LittleEndian.PutUint64(buf[:headerSize], uint64(next))
			}
			w.current = next
		}
	}
	return written, nil
}

// Reader reads a sequential byte stream from a block chain.
// It implements io.Reader and returns io.EOF only at the permanent end
// of the chain; a short read before the caller expects one signals a
// truncated image upstream.
type Reader struct {
	alloc     Allocator
	current   Ref
	pos       int
	exhausted bool
}

// NewReader creates a reader positioned at the start of the chain
// rooted at root.
func NewReader(alloc Allocator, root Ref) *Reader {
	return &Reader{
		alloc:     alloc,
		current:   root,
		exhausted: !root.IsValid(),
	}
}

// Read implements io.Reader.
func (r *Reader) Read(p []byte) (int, error) {
	if r.exhausted {
		return 0, io.EOF
	}
	payload := r.alloc.BlockSize() - headerSize
	total := 0
	for total < len(p) && !r.exhausted {
		buf, err := r.alloc.Get(r.current, false)
		if err != nil {
			return total, err
		}
		n := copy(p[total:], buf[headerSize+r.pos:])
		total += n
		r.pos += n
		if r.pos == payload {
			r.pos = 0
			next := Ref(binary.LittleEndian.Uint64(buf[:headerSize]))
			if !next.IsValid() {
				r.exhausted = true
			} else {
				r.current = next
			}
		}
	}
	if total == 0 {
		return 0, io.EOF
	}
	return total, nil
}
