package testing

import (
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/dargueta/xv6fs"
	"github.com/dargueta/xv6fs/bcache"
	"github.com/dargueta/xv6fs/blockstore"
	"github.com/dargueta/xv6fs/errors"
	"github.com/stretchr/testify/require"
)

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// NewRandomStore creates an in-memory store filled with random bytes.
func NewRandomStore(t *testing.T, totalBlocks uint32) *blockstore.MemoryStore {
	image := CreateRandomImage(xv6fs.BlockSize, uint(totalBlocks), t)
	return blockstore.WrapBytes(image, xv6fs.BlockSize)
}

// CreateDefaultCache creates a cache with `slots` buffers and `store` attached
// as [xv6fs.RootDevice]. Pass 0 for `slots` to get the default.
func CreateDefaultCache(
	t *testing.T, slots int, policy bcache.Policy, store blockstore.Store,
) *bcache.Cache {
	cache := bcache.New(bcache.Options{
		Slots:  slots,
		Policy: policy,
		Logger: DiscardLogger(),
	})
	require.NoError(t, cache.AttachDevice(xv6fs.RootDevice, store))
	return cache
}

// FaultyStore wraps a store, counts transfers, and fails reads or writes of
// chosen blocks on request.
type FaultyStore struct {
	blockstore.Store

	lock        sync.Mutex
	reads       map[uint32]int
	writes      map[uint32]int
	readFaults  map[uint32]bool
	writeFaults map[uint32]bool
}

func NewFaultyStore(inner blockstore.Store) *FaultyStore {
	return &FaultyStore{
		Store:       inner,
		reads:       make(map[uint32]int),
		writes:      make(map[uint32]int),
		readFaults:  make(map[uint32]bool),
		writeFaults: make(map[uint32]bool),
	}
}

// FailReads makes every read of `block` fail until cleared.
func (s *FaultyStore) FailReads(block uint32, fail bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.readFaults[block] = fail
}

// FailWrites makes every write of `block` fail until cleared.
func (s *FaultyStore) FailWrites(block uint32, fail bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.writeFaults[block] = fail
}

// Reads returns how many times `block` was read from the store.
func (s *FaultyStore) Reads(block uint32) int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.reads[block]
}

// Writes returns how many times `block` was written to the store.
func (s *FaultyStore) Writes(block uint32) int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.writes[block]
}

func (s *FaultyStore) ReadBlock(index uint32, buf []byte) error {
	s.lock.Lock()
	s.reads[index]++
	fail := s.readFaults[index]
	s.lock.Unlock()

	if fail {
		return errors.Errorf(errors.EIO, "injected read failure at block %d", index)
	}
	return s.Store.ReadBlock(index, buf)
}

func (s *FaultyStore) WriteBlock(index uint32, data []byte) error {
	s.lock.Lock()
	s.writes[index]++
	fail := s.writeFaults[index]
	s.lock.Unlock()

	if fail {
		return errors.Errorf(errors.EIO, "injected write failure at block %d", index)
	}
	return s.Store.WriteBlock(index, data)
}
