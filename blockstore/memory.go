package blockstore

import (
	"sync"
)

// MemoryStore is a [Store] backed by a byte slice.
type MemoryStore struct {
	lock        sync.RWMutex
	data        []byte
	blockSize   uint
	totalBlocks uint32
}

// NewMemoryStore creates a zero-filled store.
func NewMemoryStore(totalBlocks uint32, blockSize uint) *MemoryStore {
	return &MemoryStore{
		data:        make([]byte, uint(totalBlocks)*blockSize),
		blockSize:   blockSize,
		totalBlocks: totalBlocks,
	}
}

// WrapBytes creates a store that uses `image` as its storage. Trailing bytes
// that don't make up a full block are ignored. Writes to the store modify
// `image`.
func WrapBytes(image []byte, blockSize uint) *MemoryStore {
	totalBlocks := uint32(uint(len(image)) / blockSize)
	return &MemoryStore{
		data:        image[:uint(totalBlocks)*blockSize],
		blockSize:   blockSize,
		totalBlocks: totalBlocks,
	}
}

func (store *MemoryStore) ReadBlock(index uint32, buf []byte) error {
	err := CheckIOBounds(index, len(buf), store.totalBlocks, store.blockSize)
	if err != nil {
		return err
	}

	store.lock.RLock()
	defer store.lock.RUnlock()

	start := uint(index) * store.blockSize
	copy(buf, store.data[start:start+store.blockSize])
	return nil
}

func (store *MemoryStore) WriteBlock(index uint32, data []byte) error {
	err := CheckIOBounds(index, len(data), store.totalBlocks, store.blockSize)
	if err != nil {
		return err
	}

	store.lock.Lock()
	defer store.lock.Unlock()

	start := uint(index) * store.blockSize
	copy(store.data[start:start+store.blockSize], data)
	return nil
}

func (store *MemoryStore) TotalBlocks() uint32 {
	return store.totalBlocks
}

func (store *MemoryStore) BlockSize() uint {
	return store.blockSize
}

// Bytes returns a copy of the entire image.
func (store *MemoryStore) Bytes() []byte {
	store.lock.RLock()
	defer store.lock.RUnlock()

	image := make([]byte, len(store.data))
	copy(image, store.data)
	return image
}
