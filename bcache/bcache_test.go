package bcache_test

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/dargueta/xv6fs"
	"github.com/dargueta/xv6fs/bcache"
	"github.com/dargueta/xv6fs/blockstore"
	"github.com/dargueta/xv6fs/errors"
	dt "github.com/dargueta/xv6fs/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dev = xv6fs.RootDevice

func TestChecksum__KnownValues(t *testing.T) {
	assert.EqualValues(t, 0x29b1, bcache.Checksum([]byte("123456789")))
	assert.EqualValues(t, 0xffff, bcache.Checksum(nil))
}

func TestCache__ReadReturnsStoreContents(t *testing.T) {
	store := dt.NewRandomStore(t, 32)
	cache := dt.CreateDefaultCache(t, 4, bcache.PolicyLRU, store)

	expected := make([]byte, xv6fs.BlockSize)
	require.NoError(t, store.ReadBlock(5, expected))

	buf, err := cache.Read(dev, 5)
	require.NoError(t, err)
	assert.Equal(t, expected, buf.Data[:])
	assert.EqualValues(t, 5, buf.BlockNumber())
	assert.EqualValues(t, dev, buf.Device())
	assert.True(t, buf.Locked())
	assert.Equal(t, bcache.Checksum(expected), buf.Checksum())
	require.NoError(t, cache.Release(buf))
	assert.False(t, buf.Locked())
}

// Two acquisitions of the same block must hand out the same buffer, and a
// second read must not go back to the store.
func TestCache__AtMostOneResidentCopy(t *testing.T) {
	store := dt.NewFaultyStore(dt.NewRandomStore(t, 32))
	cache := dt.CreateDefaultCache(t, 4, bcache.PolicyLRU, store)

	first, err := cache.Read(dev, 7)
	require.NoError(t, err)
	require.NoError(t, cache.Release(first))

	second, err := cache.Read(dev, 7)
	require.NoError(t, err)
	assert.Same(t, first, second)
	require.NoError(t, cache.Release(second))

	assert.Equal(t, 1, store.Reads(7), "block was read from the store twice")
	assert.Equal(t, []uint32{7}, cache.ResidentBlocks(dev))

	stats := cache.Stats()
	assert.EqualValues(t, 1, stats.Hits)
	assert.EqualValues(t, 1, stats.Misses)
}

func TestCache__ConcurrentAcquireSameBlock(t *testing.T) {
	store := dt.NewFaultyStore(dt.NewRandomStore(t, 32))
	cache := dt.CreateDefaultCache(t, 4, bcache.PolicyLRU, store)

	var wg sync.WaitGroup
	seen := make(chan *bcache.Buffer, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			buf, err := cache.Read(dev, 3)
			if !assert.NoError(t, err) {
				return
			}
			buf.Data[0]++
			seen <- buf
			assert.NoError(t, cache.Release(buf))
		}()
	}
	wg.Wait()
	close(seen)

	var first *bcache.Buffer
	for buf := range seen {
		if first == nil {
			first = buf
		}
		assert.Same(t, first, buf)
	}
	assert.Equal(t, 1, store.Reads(3))
	assert.Equal(t, 0, cache.Stats().InUse)
}

// After releasing blocks in order 0..3 and reading a new one, block 0 (the
// least recently released) is the one evicted.
func TestCache__RecyclesLeastRecentlyReleased(t *testing.T) {
	store := dt.NewFaultyStore(dt.NewRandomStore(t, 32))
	cache := dt.CreateDefaultCache(t, 4, bcache.PolicyLRU, store)

	for block := uint32(0); block < 4; block++ {
		buf, err := cache.Read(dev, block)
		require.NoError(t, err)
		require.NoError(t, cache.Release(buf))
	}
	assert.Equal(t, []uint32{3, 2, 1, 0}, cache.ResidentBlocks(dev))

	// Touch block 0 so block 1 becomes the oldest.
	buf, err := cache.Read(dev, 0)
	require.NoError(t, err)
	require.NoError(t, cache.Release(buf))

	buf, err = cache.Read(dev, 10)
	require.NoError(t, err)
	require.NoError(t, cache.Release(buf))

	assert.Equal(t, []uint32{10, 0, 3, 2}, cache.ResidentBlocks(dev))
	assert.EqualValues(t, 1, cache.Stats().Recycles)
}

func TestCache__SlotOrderPolicy(t *testing.T) {
	store := dt.NewRandomStore(t, 32)
	cache := dt.CreateDefaultCache(t, 2, bcache.PolicySlotOrder, store)

	first, err := cache.Read(dev, 0)
	require.NoError(t, err)
	second, err := cache.Read(dev, 1)
	require.NoError(t, err)
	require.NoError(t, cache.Release(second))
	require.NoError(t, cache.Release(first))

	// Block 1 was released first, but slot order picks the lowest slot, which
	// holds block 0.
	buf, err := cache.Read(dev, 2)
	require.NoError(t, err)
	require.NoError(t, cache.Release(buf))

	resident := cache.ResidentBlocks(dev)
	assert.ElementsMatch(t, []uint32{1, 2}, resident)
}

// Reading more distinct blocks than there are buffers, without releasing any,
// must fail instead of blocking.
func TestCache__ExhaustionReturnsError(t *testing.T) {
	store := dt.NewRandomStore(t, 64)
	cache := dt.CreateDefaultCache(t, bcache.DefaultSlots, bcache.PolicyLRU, store)

	held := make([]*bcache.Buffer, 0, bcache.DefaultSlots)
	for block := uint32(0); block < bcache.DefaultSlots; block++ {
		buf, err := cache.Read(dev, block)
		require.NoError(t, err)
		held = append(held, buf)
	}

	_, err := cache.Read(dev, bcache.DefaultSlots)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNoBufferSpace)
	assert.Equal(t, errors.ClassResourceExhausted, errors.Classify(err))
	assert.Contains(t, err.Error(), "bget: no buffers")

	stats := cache.Stats()
	assert.Equal(t, bcache.DefaultSlots, stats.InUse)
	assert.EqualValues(t, 1, stats.Exhausted)

	// A block that's already resident can still be acquired.
	for _, buf := range held {
		require.NoError(t, cache.Release(buf))
	}
	buf, err := cache.Read(dev, bcache.DefaultSlots)
	require.NoError(t, err)
	require.NoError(t, cache.Release(buf))
}

func TestCache__WriteThrough(t *testing.T) {
	store := dt.NewRandomStore(t, 16)
	cache := dt.CreateDefaultCache(t, 4, bcache.PolicyLRU, store)

	buf, err := cache.Read(dev, 2)
	require.NoError(t, err)
	copy(buf.Data[:], bytes.Repeat([]byte{0xcc}, xv6fs.BlockSize))
	require.NoError(t, cache.Write(buf))
	assert.True(t, bcache.VerifyChecksum(buf))
	require.NoError(t, cache.Release(buf))

	onDisk := make([]byte, xv6fs.BlockSize)
	require.NoError(t, store.ReadBlock(2, onDisk))
	assert.Equal(t, bytes.Repeat([]byte{0xcc}, xv6fs.BlockSize), onDisk)
}

func TestCache__AcquireSkipsRead(t *testing.T) {
	store := dt.NewFaultyStore(dt.NewRandomStore(t, 16))
	cache := dt.CreateDefaultCache(t, 4, bcache.PolicyLRU, store)

	buf, err := cache.Acquire(dev, 4)
	require.NoError(t, err)
	copy(buf.Data[:], make([]byte, xv6fs.BlockSize))
	require.NoError(t, cache.Write(buf))
	require.NoError(t, cache.Release(buf))

	buf, err = cache.Read(dev, 4)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, xv6fs.BlockSize), buf.Data[:])
	require.NoError(t, cache.Release(buf))
	assert.Equal(t, 0, store.Reads(4), "write-through made the buffer valid")
}

func TestChecksum__DetectsDirectMutation(t *testing.T) {
	store := dt.NewRandomStore(t, 16)
	cache := dt.CreateDefaultCache(t, 4, bcache.PolicyLRU, store)

	buf, err := cache.Read(dev, 1)
	require.NoError(t, err)
	assert.True(t, bcache.VerifyChecksum(buf))

	buf.Data[100] ^= 0xff
	assert.False(t, bcache.VerifyChecksum(buf))

	require.NoError(t, cache.Write(buf))
	assert.True(t, bcache.VerifyChecksum(buf))
	require.NoError(t, cache.Release(buf))
}

func TestCache__WriteWithoutLock(t *testing.T) {
	store := dt.NewRandomStore(t, 16)
	cache := dt.CreateDefaultCache(t, 4, bcache.PolicyLRU, store)

	buf, err := cache.Read(dev, 1)
	require.NoError(t, err)
	require.NoError(t, cache.Release(buf))

	err = cache.Write(buf)
	assert.ErrorIs(t, err, errors.ErrLockNotHeld)
	assert.Equal(t, errors.ClassLockViolation, errors.Classify(err))

	err = cache.Release(buf)
	assert.ErrorIs(t, err, errors.ErrLockNotHeld)
}

func TestCache__OutOfRangeBlock(t *testing.T) {
	store := dt.NewRandomStore(t, 16)
	cache := dt.CreateDefaultCache(t, 4, bcache.PolicyLRU, store)

	_, err := cache.Read(dev, 16)
	assert.ErrorIs(t, err, errors.ErrInvalidArgument)
	assert.Equal(t, 0, cache.Stats().InUse)
}

func TestCache__UnknownDevice(t *testing.T) {
	cache := dt.CreateDefaultCache(t, 4, bcache.PolicyLRU, dt.NewRandomStore(t, 16))
	_, err := cache.Read(99, 0)
	assert.ErrorIs(t, err, errors.ErrNoDevice)
}

func TestCache__ReadFailureReleasesBuffer(t *testing.T) {
	store := dt.NewFaultyStore(dt.NewRandomStore(t, 16))
	cache := dt.CreateDefaultCache(t, 4, bcache.PolicyLRU, store)

	store.FailReads(3, true)
	_, err := cache.Read(dev, 3)
	assert.ErrorIs(t, err, errors.ErrIOFailed)
	assert.Equal(t, 0, cache.Stats().InUse)

	store.FailReads(3, false)
	buf, err := cache.Read(dev, 3)
	require.NoError(t, err)
	require.NoError(t, cache.Release(buf))
	assert.Equal(t, 2, store.Reads(3))
}

func TestCache__SyncRewritesReferencedBuffers(t *testing.T) {
	store := dt.NewFaultyStore(dt.NewRandomStore(t, 16))
	cache := dt.CreateDefaultCache(t, 4, bcache.PolicyLRU, store)

	// A referenced but unlocked buffer: take two references, give one back.
	buf, err := cache.Read(dev, 5)
	require.NoError(t, err)
	require.NoError(t, cache.Release(buf))
	idle, err := cache.Read(dev, 6)
	require.NoError(t, err)
	require.NoError(t, cache.Release(idle))

	held, err := cache.Read(dev, 5)
	require.NoError(t, err)

	done := make(chan error)
	go func() { done <- cache.Sync() }()
	assert.Eventually(
		t,
		func() bool { return cache.Stats().References == 2 },
		2*time.Second,
		time.Millisecond,
		"sync never pinned the held buffer",
	)

	// Sync must wait for our lock without holding up the rest of the cache.
	other, err := cache.Read(dev, 8)
	require.NoError(t, err)
	require.NoError(t, cache.Release(other))

	require.NoError(t, cache.Release(held))
	require.NoError(t, <-done)

	assert.Equal(t, 1, store.Writes(5))
	assert.Equal(t, 0, store.Writes(6), "unreferenced buffers aren't synced")
	assert.Equal(t, 0, cache.Stats().InUse)
}

func TestCache__SyncAggregatesErrors(t *testing.T) {
	store := dt.NewFaultyStore(dt.NewRandomStore(t, 16))
	cache := dt.CreateDefaultCache(t, 4, bcache.PolicyLRU, store)
	store.FailWrites(1, true)
	store.FailWrites(2, true)

	var held []*bcache.Buffer
	for block := uint32(1); block <= 2; block++ {
		buf, err := cache.Read(dev, block)
		require.NoError(t, err)
		held = append(held, buf)
	}

	done := make(chan error)
	go func() { done <- cache.Sync() }()
	assert.Eventually(
		t,
		func() bool { return cache.Stats().References == 4 },
		2*time.Second,
		time.Millisecond,
	)
	for _, buf := range held {
		require.NoError(t, cache.Release(buf))
	}

	err := <-done
	require.Error(t, err)
	assert.Contains(t, err.Error(), "block 1")
	assert.Contains(t, err.Error(), "block 2")
}

func TestCache__DetachDevice(t *testing.T) {
	store := dt.NewRandomStore(t, 16)
	cache := dt.CreateDefaultCache(t, 4, bcache.PolicyLRU, store)

	buf, err := cache.Read(dev, 1)
	require.NoError(t, err)
	assert.ErrorIs(t, cache.DetachDevice(dev), errors.ErrBusy)
	require.NoError(t, cache.Release(buf))

	require.NoError(t, cache.DetachDevice(dev))
	assert.Empty(t, cache.ResidentBlocks(dev))
	assert.ErrorIs(t, cache.DetachDevice(dev), errors.ErrNoDevice)

	require.NoError(t, cache.AttachDevice(dev, store))
	assert.ErrorIs(t, cache.AttachDevice(dev, store), errors.ErrBusy)
}

func TestCache__AttachWrongBlockSize(t *testing.T) {
	cache := bcache.New(bcache.Options{})
	err := cache.AttachDevice(1, blockstore.NewMemoryStore(4, 1024))
	assert.ErrorIs(t, err, errors.ErrInvalidArgument)
	assert.Equal(t, bcache.DefaultSlots, cache.Slots())
}

func TestCache__PrintStats(t *testing.T) {
	cache := dt.CreateDefaultCache(t, 4, bcache.PolicyLRU, dt.NewRandomStore(t, 16))
	buf, err := cache.Read(dev, 1)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, cache.PrintStats(&out))
	require.NoError(t, cache.Release(buf))

	text := out.String()
	assert.Contains(t, text, "Total buffers: 4 (2.0 KiB)")
	assert.Contains(t, text, "Used buffers: 1")
	assert.Contains(t, text, "Valid buffers: 1")
	assert.Contains(t, text, "Buffer size: 512 bytes")
	assert.Contains(t, text, "Recycle policy: lru")
}

func TestParsePolicy(t *testing.T) {
	policy, err := bcache.ParsePolicy("slot-order")
	require.NoError(t, err)
	assert.Equal(t, bcache.PolicySlotOrder, policy)

	policy, err = bcache.ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, bcache.PolicyLRU, policy)

	_, err = bcache.ParsePolicy("fifo")
	assert.ErrorIs(t, err, errors.ErrInvalidArgument)
}
