// Package bcache implements the buffer cache: a fixed set of block-sized
// buffers shared by every layer above the block store.
//
// A block is resident in at most one buffer at a time. Callers get a buffer
// with [Cache.Read] (or [Cache.Acquire]), which returns it locked and with its
// reference count raised. They modify Data, push changes to the device with
// [Cache.Write], and give the buffer back with [Cache.Release]. Buffers with
// no references are recycled in least-recently-released order.
package bcache

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/dargueta/xv6fs"
	"github.com/dargueta/xv6fs/blockstore"
	"github.com/dargueta/xv6fs/errors"
	"github.com/dargueta/xv6fs/locks"
	"github.com/hashicorp/go-multierror"
)

// DefaultSlots is the number of buffers a cache gets if none is specified.
const DefaultSlots = 16

// Policy selects which unreferenced buffer is recycled on a miss.
type Policy int

const (
	// PolicyLRU recycles the buffer released longest ago.
	PolicyLRU Policy = iota
	// PolicySlotOrder recycles the lowest-numbered free slot.
	PolicySlotOrder
)

func (p Policy) String() string {
	switch p {
	case PolicyLRU:
		return "lru"
	case PolicySlotOrder:
		return "slot-order"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParsePolicy converts the name of a policy as returned by [Policy.String]
// back into a Policy.
func ParsePolicy(name string) (Policy, error) {
	switch name {
	case "", "lru":
		return PolicyLRU, nil
	case "slot-order":
		return PolicySlotOrder, nil
	default:
		return 0, errors.Errorf(errors.EINVAL, "unknown recycle policy %q", name)
	}
}

// Options configures a [Cache].
type Options struct {
	// Slots is the number of buffers. Defaults to [DefaultSlots].
	Slots  int
	Policy Policy
	// Logger receives diagnostics. Defaults to discarding everything.
	Logger *slog.Logger
}

type blockKey struct {
	device uint32
	block  uint32
}

// Buffer holds a copy of one block. Data may only be touched while the buffer
// is locked, i.e. between getting it from the cache and releasing it.
type Buffer struct {
	Data [xv6fs.BlockSize]byte

	slot     int
	lock     locks.SleepLock
	checksum uint16

	// Guarded by the cache's mutex.
	device    uint32
	block     uint32
	tracked   bool
	valid     bool
	diskOwned bool
	refCount  int
}

func (b *Buffer) Device() uint32 {
	return b.device
}

func (b *Buffer) BlockNumber() uint32 {
	return b.block
}

// Checksum returns the CRC computed the last time the buffer was read from or
// written to the device.
func (b *Buffer) Checksum() uint16 {
	return b.checksum
}

// Locked reports whether the buffer's sleep lock is held.
func (b *Buffer) Locked() bool {
	return b.lock.Holding()
}

// Cache is the buffer cache. The zero value is not usable; create one with
// [New].
type Cache struct {
	mu      locks.Mutex
	buffers []Buffer
	// prev and next link the slots into a ring with a sentinel at index
	// len(buffers). next[head] is the most recently released buffer.
	prev    []int
	next    []int
	head    int
	index   map[blockKey]int
	devices map[uint32]blockstore.Store
	policy  Policy
	logger  *slog.Logger

	hits      uint64
	misses    uint64
	recycles  uint64
	exhausted uint64
}

// New creates an empty cache with no devices attached.
func New(options Options) *Cache {
	slots := options.Slots
	if slots <= 0 {
		slots = DefaultSlots
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	cache := &Cache{
		mu:      locks.NewMutex(),
		buffers: make([]Buffer, slots),
		prev:    make([]int, slots+1),
		next:    make([]int, slots+1),
		head:    slots,
		index:   make(map[blockKey]int, slots),
		devices: make(map[uint32]blockstore.Store),
		policy:  options.Policy,
		logger:  logger.With("component", "bcache"),
	}

	cache.prev[cache.head] = cache.head
	cache.next[cache.head] = cache.head
	for i := range cache.buffers {
		cache.buffers[i].slot = i
		cache.buffers[i].lock = locks.NewSleepLock()
		cache.pushFront(i)
	}
	return cache
}

// Slots returns the number of buffers in the cache.
func (c *Cache) Slots() int {
	return len(c.buffers)
}

func (c *Cache) unlink(i int) {
	c.next[c.prev[i]] = c.next[i]
	c.prev[c.next[i]] = c.prev[i]
}

func (c *Cache) pushFront(i int) {
	c.next[i] = c.next[c.head]
	c.prev[i] = c.head
	c.prev[c.next[c.head]] = i
	c.next[c.head] = i
}

// AttachDevice makes `store` available as device number `device`.
func (c *Cache) AttachDevice(device uint32, store blockstore.Store) error {
	if store.BlockSize() != xv6fs.BlockSize {
		return errors.Errorf(
			errors.EINVAL,
			"device %d has %d-byte blocks, need %d",
			device,
			store.BlockSize(),
			xv6fs.BlockSize,
		)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.devices[device]; exists {
		return errors.Errorf(errors.EBUSY, "device %d is already attached", device)
	}
	c.devices[device] = store
	return nil
}

// DetachDevice removes a device and drops every cached block belonging to it.
// It fails if any of the device's buffers is still referenced.
func (c *Cache) DetachDevice(device uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.devices[device]; !exists {
		return errors.Errorf(errors.ENODEV, "device %d is not attached", device)
	}

	for i := range c.buffers {
		b := &c.buffers[i]
		if b.tracked && b.device == device && b.refCount > 0 {
			return errors.Errorf(
				errors.EBUSY,
				"block %d of device %d is still in use",
				b.block,
				device,
			)
		}
	}

	for i := range c.buffers {
		b := &c.buffers[i]
		if b.tracked && b.device == device {
			delete(c.index, blockKey{b.device, b.block})
			b.tracked = false
			b.valid = false
		}
	}
	delete(c.devices, device)
	return nil
}

// DeviceBlocks returns the number of blocks on an attached device.
func (c *Cache) DeviceBlocks(device uint32) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	store, err := c.storeFor(device)
	if err != nil {
		return 0, err
	}
	return store.TotalBlocks(), nil
}

func (c *Cache) storeFor(device uint32) (blockstore.Store, error) {
	store, ok := c.devices[device]
	if !ok {
		return nil, errors.Errorf(errors.ENODEV, "device %d is not attached", device)
	}
	return store, nil
}

// findRecyclable returns the slot to reuse for a new block, or -1 if every
// buffer is referenced. Must be called with the mutex held.
func (c *Cache) findRecyclable() int {
	usable := func(i int) bool {
		return c.buffers[i].refCount == 0 && !c.buffers[i].diskOwned
	}

	if c.policy == PolicySlotOrder {
		for i := range c.buffers {
			if usable(i) {
				return i
			}
		}
		return -1
	}

	for i := c.prev[c.head]; i != c.head; i = c.prev[i] {
		if usable(i) {
			return i
		}
	}
	return -1
}

// Acquire returns the locked buffer for block `block` of device `device`
// without reading it from the device. The caller must give it back with
// [Cache.Release].
//
// If every buffer is referenced, it fails immediately with an error whose
// errno is [errors.ENOBUFS].
func (c *Cache) Acquire(device, block uint32) (*Buffer, error) {
	key := blockKey{device, block}

	c.mu.Lock()
	store, err := c.storeFor(device)
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	if block >= store.TotalBlocks() {
		c.mu.Unlock()
		return nil, errors.Errorf(
			errors.EINVAL,
			"invalid block ID %d: not in range [0, %d)",
			block,
			store.TotalBlocks(),
		)
	}

	if i, ok := c.index[key]; ok {
		b := &c.buffers[i]
		b.refCount++
		c.hits++
		c.mu.Unlock()

		b.lock.Acquire()
		return b, nil
	}

	i := c.findRecyclable()
	if i < 0 {
		c.exhausted++
		c.mu.Unlock()
		c.logger.Warn("no free buffers", "device", device, "block", block)
		return nil, errors.ErrNoBufferSpace.WithMessage(
			fmt.Sprintf("bget: no buffers for block %d of device %d", block, device))
	}

	b := &c.buffers[i]
	if b.tracked {
		c.recycles++
		c.logger.Debug(
			"recycling buffer",
			"slot", i,
			"old_device", b.device,
			"old_block", b.block,
			"device", device,
			"block", block,
		)
		delete(c.index, blockKey{b.device, b.block})
	}
	b.device = device
	b.block = block
	b.tracked = true
	b.valid = false
	b.refCount = 1
	c.index[key] = i
	c.misses++
	c.mu.Unlock()

	b.lock.Acquire()
	return b, nil
}

// Read returns the locked buffer for the given block, reading it from the
// device if the cached copy isn't valid.
func (c *Cache) Read(device, block uint32) (*Buffer, error) {
	b, err := c.Acquire(device, block)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	needsRead := !b.valid
	store := c.devices[device]
	if needsRead {
		b.diskOwned = true
	}
	c.mu.Unlock()

	if !needsRead {
		return b, nil
	}

	err = store.ReadBlock(block, b.Data[:])

	c.mu.Lock()
	b.diskOwned = false
	b.valid = err == nil
	c.mu.Unlock()

	if err != nil {
		c.Release(b)
		return nil, errors.ErrIOFailed.Wrap(err).WithMessage(
			fmt.Sprintf("reading block %d of device %d", block, device))
	}
	b.checksum = Checksum(b.Data[:])
	return b, nil
}

func (c *Cache) lockViolation(operation string, b *Buffer) error {
	c.logger.Error(
		"buffer not locked by caller",
		"operation", operation,
		"device", b.device,
		"block", b.block,
	)
	return errors.ErrLockNotHeld.WithMessage(
		fmt.Sprintf("%s: block %d of device %d", operation, b.block, b.device))
}

// Write writes the buffer's data to the device. The caller must hold the
// buffer.
func (c *Cache) Write(b *Buffer) error {
	if !b.lock.Holding() {
		return c.lockViolation("bwrite", b)
	}
	return c.flush(b)
}

// flush writes a locked buffer through to its device.
func (c *Cache) flush(b *Buffer) error {
	b.checksum = Checksum(b.Data[:])

	c.mu.Lock()
	store, err := c.storeFor(b.device)
	if err == nil {
		b.diskOwned = true
	}
	c.mu.Unlock()
	if err != nil {
		return err
	}

	err = store.WriteBlock(b.block, b.Data[:])

	c.mu.Lock()
	b.diskOwned = false
	if err == nil {
		b.valid = true
	}
	c.mu.Unlock()

	if err != nil {
		return errors.ErrIOFailed.Wrap(err).WithMessage(
			fmt.Sprintf("writing block %d of device %d", b.block, b.device))
	}
	return nil
}

// Release unlocks the buffer and drops the caller's reference to it. The
// caller must not touch the buffer afterwards.
func (c *Cache) Release(b *Buffer) error {
	if !b.lock.Holding() {
		return c.lockViolation("brelse", b)
	}
	b.lock.Release()

	c.mu.Lock()
	defer c.mu.Unlock()

	b.refCount--
	if b.refCount == 0 {
		c.unlink(b.slot)
		c.pushFront(b.slot)
	}
	return nil
}

// VerifyChecksum reports whether the buffer's data still matches the checksum
// computed at its last device transfer.
func VerifyChecksum(b *Buffer) bool {
	return Checksum(b.Data[:]) == b.checksum
}

// Sync writes every valid, referenced buffer back to its device. It must not
// be called while the caller holds any buffer lock, since it waits for each
// buffer's lock in turn.
//
// Buffers are pinned under the cache mutex and written with the mutex
// released, so no buffer lock is ever awaited while the mutex is held.
func (c *Cache) Sync() error {
	c.mu.Lock()
	pinned := make([]*Buffer, 0, len(c.buffers))
	for i := range c.buffers {
		b := &c.buffers[i]
		if b.tracked && b.valid && b.refCount > 0 {
			b.refCount++
			pinned = append(pinned, b)
		}
	}
	c.mu.Unlock()

	var result error
	for _, b := range pinned {
		b.lock.Acquire()
		if err := c.flush(b); err != nil {
			result = multierror.Append(result, err)
		}
		c.Release(b)
	}
	if result != nil {
		c.logger.Error("sync failed", "error", result)
	}
	return result
}

// Invalidate drops the cached copy of a block so the next read goes to the
// device. The block must not be referenced.
func (c *Cache) Invalidate(device, block uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	i, ok := c.index[blockKey{device, block}]
	if !ok {
		return nil
	}
	b := &c.buffers[i]
	if b.refCount > 0 {
		return errors.Errorf(errors.EBUSY, "block %d of device %d is in use", block, device)
	}
	delete(c.index, blockKey{device, block})
	b.tracked = false
	b.valid = false
	return nil
}
