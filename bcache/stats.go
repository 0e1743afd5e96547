package bcache

import (
	"fmt"
	"io"

	"github.com/dargueta/xv6fs"
	"github.com/dustin/go-humanize"
)

// Stats is a snapshot of the cache's occupancy and counters.
type Stats struct {
	Slots      int
	InUse      int
	// References is the sum of every buffer's reference count.
	References int
	Valid      int
	Devices    int
	Policy     Policy

	Hits      uint64
	Misses    uint64
	Recycles  uint64
	Exhausted uint64
}

// Stats returns the current state of the cache.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := Stats{
		Slots:     len(c.buffers),
		Devices:   len(c.devices),
		Policy:    c.policy,
		Hits:      c.hits,
		Misses:    c.misses,
		Recycles:  c.recycles,
		Exhausted: c.exhausted,
	}
	for i := range c.buffers {
		if c.buffers[i].refCount > 0 {
			stats.InUse++
			stats.References += c.buffers[i].refCount
		}
		if c.buffers[i].tracked && c.buffers[i].valid {
			stats.Valid++
		}
	}
	return stats
}

// ResidentBlocks returns the block numbers of `device` that currently have a
// buffer, in order from most to least recently released.
func (c *Cache) ResidentBlocks(device uint32) []uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()

	blocks := make([]uint32, 0, len(c.buffers))
	for i := c.next[c.head]; i != c.head; i = c.next[i] {
		b := &c.buffers[i]
		if b.tracked && b.device == device {
			blocks = append(blocks, b.block)
		}
	}
	return blocks
}

// PrintStats writes a human-readable summary of [Cache.Stats] to `w`.
func (c *Cache) PrintStats(w io.Writer) error {
	stats := c.Stats()
	_, err := fmt.Fprintf(
		w,
		"Buffer Cache Stats:\n"+
			"  Total buffers: %d (%s)\n"+
			"  Used buffers: %d\n"+
			"  Valid buffers: %d\n"+
			"  Buffer size: %d bytes\n"+
			"  Recycle policy: %s\n"+
			"  Hits: %s, misses: %s, recycled: %s, exhausted: %s\n",
		stats.Slots,
		humanize.IBytes(uint64(stats.Slots)*xv6fs.BlockSize),
		stats.InUse,
		stats.Valid,
		xv6fs.BlockSize,
		stats.Policy,
		humanize.Comma(int64(stats.Hits)),
		humanize.Comma(int64(stats.Misses)),
		humanize.Comma(int64(stats.Recycles)),
		humanize.Comma(int64(stats.Exhausted)),
	)
	return err
}
