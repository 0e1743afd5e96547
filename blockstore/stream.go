package blockstore

import (
	"io"
	"os"
	"sync"

	"github.com/dargueta/xv6fs/errors"
)

// StreamStore is an abstraction layer around a stream to make it look like a
// block device. Seeking and transferring are done under one lock, so the store
// can be shared even though the stream has a single position.
type StreamStore struct {
	// StartOffset is an offset from the beginning of the stream, in bytes, that
	// will be considered the beginning of block 0 for the device.
	StartOffset int64
	lock        sync.Mutex
	stream      io.ReadWriteSeeker
	blockSize   uint
	totalBlocks uint32
}

// NewStreamStore wraps `stream`. The stream must already be at least
// `totalBlocks * blockSize` bytes past `startOffset`.
func NewStreamStore(
	stream io.ReadWriteSeeker, totalBlocks uint32, blockSize uint, startOffset int64,
) *StreamStore {
	return &StreamStore{
		StartOffset: startOffset,
		stream:      stream,
		blockSize:   blockSize,
		totalBlocks: totalBlocks,
	}
}

// DetermineBlockCount gives the total number of blocks in a stream, rounded down
// to the nearest block.
func DetermineBlockCount(stream io.Seeker, blockSize uint) (uint32, error) {
	offset, err := stream.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	return uint32(offset / int64(blockSize)), nil
}

// WrapStream creates a store covering every whole block in `stream`.
func WrapStream(stream io.ReadWriteSeeker, blockSize uint) (*StreamStore, error) {
	totalBlocks, err := DetermineBlockCount(stream, blockSize)
	if err != nil {
		return nil, errors.NewFromError(errors.EIO, err)
	}
	return NewStreamStore(stream, totalBlocks, blockSize, 0), nil
}

// BlockIDToFileOffset converts a block index into a byte offset into the backing
// stream.
func (store *StreamStore) BlockIDToFileOffset(index uint32) int64 {
	return store.StartOffset + int64(index)*int64(store.blockSize)
}

func (store *StreamStore) seekToBlock(index uint32) error {
	_, err := store.stream.Seek(store.BlockIDToFileOffset(index), io.SeekStart)
	if err != nil {
		return errors.NewFromError(errors.EIO, err)
	}
	return nil
}

func (store *StreamStore) ReadBlock(index uint32, buf []byte) error {
	err := CheckIOBounds(index, len(buf), store.totalBlocks, store.blockSize)
	if err != nil {
		return err
	}

	store.lock.Lock()
	defer store.lock.Unlock()

	if err = store.seekToBlock(index); err != nil {
		return err
	}

	_, err = io.ReadFull(store.stream, buf)
	if err != nil {
		return errors.NewFromError(errors.EIO, err).WithMessage(
			"short read of block")
	}
	return nil
}

func (store *StreamStore) WriteBlock(index uint32, data []byte) error {
	err := CheckIOBounds(index, len(data), store.totalBlocks, store.blockSize)
	if err != nil {
		return err
	}

	store.lock.Lock()
	defer store.lock.Unlock()

	if err = store.seekToBlock(index); err != nil {
		return err
	}

	written, err := store.stream.Write(data)
	if err != nil {
		return errors.NewFromError(errors.EIO, err)
	}
	if written != len(data) {
		return errors.Errorf(
			errors.EIO, "short write to block %d: %d of %d bytes", index, written, len(data))
	}
	return nil
}

func (store *StreamStore) TotalBlocks() uint32 {
	return store.totalBlocks
}

func (store *StreamStore) BlockSize() uint {
	return store.blockSize
}

// Close closes the underlying stream if it supports closing.
func (store *StreamStore) Close() error {
	store.lock.Lock()
	defer store.lock.Unlock()

	closer, ok := store.stream.(io.Closer)
	if !ok {
		return nil
	}
	return closer.Close()
}

// OpenFileStore opens an existing image file as a store.
func OpenFileStore(path string, blockSize uint) (*StreamStore, error) {
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, errors.NewFromError(errors.ENOENT, err)
	}

	store, err := WrapStream(file, blockSize)
	if err != nil {
		file.Close()
		return nil, err
	}
	return store, nil
}

// CreateFileStore creates (or truncates) an image file of `totalBlocks` zeroed
// blocks and opens it as a store.
func CreateFileStore(path string, totalBlocks uint32, blockSize uint) (*StreamStore, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, errors.NewFromError(errors.EIO, err)
	}

	err = file.Truncate(int64(totalBlocks) * int64(blockSize))
	if err != nil {
		file.Close()
		return nil, errors.NewFromError(errors.EIO, err)
	}
	return NewStreamStore(file, totalBlocks, blockSize, 0), nil
}
