// Package blockstore provides the fixed-size block devices the buffer cache
// reads from and writes to. A store knows nothing about the file system on it;
// it only moves whole blocks in and out.
package blockstore

import (
	"github.com/dargueta/xv6fs/errors"
)

// Store is a device made of a fixed number of equally-sized blocks. Block
// indices begin at 0. Implementations must be safe for concurrent use.
type Store interface {
	// ReadBlock copies the contents of block `index` into `buf`, which must be
	// exactly BlockSize() bytes.
	ReadBlock(index uint32, buf []byte) error
	// WriteBlock replaces the contents of block `index` with `data`, which must
	// be exactly BlockSize() bytes.
	WriteBlock(index uint32, data []byte) error
	TotalBlocks() uint32
	BlockSize() uint
}

// CheckIOBounds verifies that a transfer of `dataLength` bytes to or from block
// `index` is legal for a store of the given geometry.
func CheckIOBounds(index uint32, dataLength int, totalBlocks uint32, blockSize uint) error {
	if index >= totalBlocks {
		return errors.Errorf(
			errors.EINVAL,
			"invalid block ID %d: not in range [0, %d)",
			index,
			totalBlocks,
		)
	}
	if uint(dataLength) != blockSize {
		return errors.Errorf(
			errors.EINVAL,
			"buffer must be exactly one block (%d B), got %d",
			blockSize,
			dataLength,
		)
	}
	return nil
}
