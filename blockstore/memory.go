package blockstore

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"sort"
	"sync"
)

// DefaultBlockSize matches a typical host storage page net of its
// validity mask.
const DefaultBlockSize = 4096

// Memory is an in-memory Allocator. It stands in for the host's
// fixed-size block manager and supports Save/Load so allocator state
// can ride along with a host checkpoint.
type Memory struct {
	mu        sync.Mutex
	blockSize int
	next      Ref
	blocks    map[Ref][]byte
}

// NewMemory creates a memory allocator with the given block size.
// Size zero selects DefaultBlockSize.
func NewMemory(blockSize int) *Memory {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &Memory{
		blockSize: blockSize,
		next:      1,
		blocks:    make(map[Ref][]byte),
	}
}

// New implements Allocator.
func (m *Memory) New() (Ref, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ref := m.next
	m.next++
	m.blocks[ref] = make([]byte, m.blockSize)
	return ref, nil
}

// Get implements Allocator.
func (m *Memory) Get(ref Ref, forWrite bool) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf, ok := m.blocks[ref]
	if !ok {
		return nil, fmt.Errorf("blockstore: no such block: %d", ref)
	}
	return buf, nil
}

// BlockSize implements Allocator.
func (m *Memory) BlockSize() int { return m.blockSize }

// Len returns the number of allocated blocks.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.blocks)
}

// Save persists the allocator state to w.
// Format: [BlockSize u32][Next u64][Count u64] then per block
// [Ref u64][BlockSize bytes], ascending by ref.
func (m *Memory) Save(w io.Writer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	bw := bufio.NewWriter(w)
	if err := binary.Write(bw, binary.LittleEndian, uint32(m.blockSize)); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint64(m.next)); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint64(len(m.blocks))); err != nil {
		return err
	}

	refs := make([]Ref, 0, len(m.blocks))
	for ref := range m.blocks {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i] < refs[j] })

	for _, ref := range refs {
		if err := binary.Write(bw, binary.LittleEndian, uint64(ref)); err != nil {
			return err
		}
		if _, err := bw.Write(m.blocks[ref]); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Load replaces the allocator state from r.
func (m *Memory) Load(r io.Reader) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	br := bufio.NewReader(r)

	var blockSize uint32
	if err := binary.Read(br, binary.LittleEndian, &blockSize); err != nil {
		return err
	}
	var next, count uint64
	if err := binary.Read(br, binary.LittleEndian, &next); err != nil {
		return err
	}
	if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
		return err
	}

	blocks := make(map[Ref][]byte, count)
	for i := uint64(0); i < count; i++ {
		var ref uint64
		if err := binary.Read(br, binary.LittleEndian, &ref); err != nil {
			return err
		}
		buf := make([]byte, blockSize)
		if _, err := io.ReadFull(br, buf); err != nil {
			return err
		}
		blocks[Ref(ref)] = buf
	}

	m.blockSize = int(blockSize)
	m.next = Ref(next)
	m.blocks = blocks
	return nil
}
