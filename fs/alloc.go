package fs

import (
	"fmt"

	"github.com/boljen/go-bitmap"
	"github.com/dargueta/xv6fs"
	"github.com/dargueta/xv6fs/errors"
	"github.com/dustin/go-humanize"
)

// markRange sets the bits in bitmap block number `bitmapIndex` (counting from
// the start of the bitmap) for every block below `end`.
func markRange(data []byte, bitmapIndex uint32, end uint32) {
	bits := bitmap.Bitmap(data)
	base := bitmapIndex * xv6fs.BitsPerBlock
	for bi := uint32(0); bi < xv6fs.BitsPerBlock && base+bi < end; bi++ {
		bits.Set(int(bi), true)
	}
}

func humanizeBlocks(count uint32) string {
	return humanize.IBytes(uint64(count) * xv6fs.BlockSize)
}

// Balloc allocates the first free block on the volume and returns it zeroed.
func (fs *FileSystem) Balloc() (uint32, error) {
	for base := uint32(0); base < fs.sb.Size; base += xv6fs.BitsPerBlock {
		buf, err := fs.cache.Read(fs.dev, fs.sb.BitmapBlockFor(base))
		if err != nil {
			return 0, err
		}

		bits := bitmap.Bitmap(buf.Data[:])
		for bi := uint32(0); bi < xv6fs.BitsPerBlock && base+bi < fs.sb.Size; bi++ {
			if bits.Get(int(bi)) {
				continue
			}

			bits.Set(int(bi), true)
			err = fs.cache.Write(buf)
			fs.cache.Release(buf)
			if err != nil {
				return 0, err
			}

			// The bitmap buffer is released before the new block is touched.
			block := base + bi
			if err = fs.zeroBlock(block); err != nil {
				return 0, err
			}
			fs.logger.Debug("allocated block", "block", block)
			return block, nil
		}
		fs.cache.Release(buf)
	}

	fs.logger.Warn("out of blocks")
	return 0, errors.ErrNoSpaceOnDevice.WithMessage("balloc: out of blocks")
}

func (fs *FileSystem) zeroBlock(block uint32) error {
	return updateBlock(fs.cache, fs.dev, block, false, func([]byte) error { return nil })
}

// Bfree marks a data block as free. Freeing a block that's already free means
// the bitmap and the inodes disagree, and is reported as corruption.
func (fs *FileSystem) Bfree(block uint32) error {
	if block < fs.sb.DataStart() || block >= fs.sb.Size {
		return errors.Errorf(
			errors.EINVAL,
			"bfree: block %d not in data region [%d, %d)",
			block,
			fs.sb.DataStart(),
			fs.sb.Size,
		)
	}

	buf, err := fs.cache.Read(fs.dev, fs.sb.BitmapBlockFor(block))
	if err != nil {
		return err
	}
	defer fs.cache.Release(buf)

	bits := bitmap.Bitmap(buf.Data[:])
	bi := int(block % xv6fs.BitsPerBlock)
	if !bits.Get(bi) {
		fs.logger.Error("freeing free block", "block", block)
		return errors.ErrFileSystemCorrupted.WithMessage(
			fmt.Sprintf("bfree: block %d is already free", block))
	}

	bits.Set(bi, false)
	if err = fs.cache.Write(buf); err != nil {
		return err
	}
	fs.logger.Debug("freed block", "block", block)
	return nil
}

// IsAllocated reports whether the bitmap marks `block` as in use.
func (fs *FileSystem) IsAllocated(block uint32) (bool, error) {
	if block >= fs.sb.Size {
		return false, errors.Errorf(
			errors.EINVAL, "block %d not in range [0, %d)", block, fs.sb.Size)
	}

	buf, err := fs.cache.Read(fs.dev, fs.sb.BitmapBlockFor(block))
	if err != nil {
		return false, err
	}
	defer fs.cache.Release(buf)
	return bitmap.Bitmap(buf.Data[:]).Get(int(block % xv6fs.BitsPerBlock)), nil
}

// FreeBlockCount returns the number of unallocated blocks.
func (fs *FileSystem) FreeBlockCount() (uint32, error) {
	free := uint32(0)
	for base := uint32(0); base < fs.sb.Size; base += xv6fs.BitsPerBlock {
		buf, err := fs.cache.Read(fs.dev, fs.sb.BitmapBlockFor(base))
		if err != nil {
			return 0, err
		}

		bits := bitmap.Bitmap(buf.Data[:])
		for bi := uint32(0); bi < xv6fs.BitsPerBlock && base+bi < fs.sb.Size; bi++ {
			if !bits.Get(int(bi)) {
				free++
			}
		}
		fs.cache.Release(buf)
	}
	return free, nil
}
