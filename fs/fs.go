// Package fs implements the inode and allocation layer on top of the buffer
// cache: the superblock, the free block bitmap, the in-memory inode cache, a
// flat root directory and the open file table.
//
// Locks are always taken in this order: the namespace lock (directory and
// file table), then an inode's sleep lock, then buffer locks. The inode cache
// mutex is only ever held while waiting on buffer locks, never inode locks.
package fs

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/dargueta/xv6fs"
	"github.com/dargueta/xv6fs/bcache"
	"github.com/dargueta/xv6fs/disks"
	"github.com/dargueta/xv6fs/errors"
	"github.com/dargueta/xv6fs/locks"
	"github.com/google/uuid"
)

const (
	// DefaultInodeSlots is the default size of the in-memory inode cache.
	DefaultInodeSlots = 16
	// DefaultFileSlots is the default size of the open file table.
	DefaultFileSlots = 8
)

// Options configures a mounted [FileSystem].
type Options struct {
	InodeSlots int
	FileSlots  int
	Logger     *slog.Logger
}

// FileSystem is a mounted volume.
type FileSystem struct {
	cache  *bcache.Cache
	dev    uint32
	sb     Superblock
	logger *slog.Logger

	icacheLock locks.Mutex
	inodes     []Inode
	// root stays referenced for as long as the volume is mounted.
	root *Inode

	// nsLock guards the directory and the file table.
	nsLock locks.Mutex
	files  []openFile
}

// Format writes an empty volume with the given geometry to `device`: a
// superblock, a zeroed log and inode table, a bitmap with every metadata block
// marked in use, and an empty root directory.
func Format(cache *bcache.Cache, device uint32, geometry disks.Geometry) (Superblock, error) {
	if err := geometry.Validate(); err != nil {
		return Superblock{}, err
	}

	deviceBlocks, err := cache.DeviceBlocks(device)
	if err != nil {
		return Superblock{}, err
	}
	if deviceBlocks < geometry.TotalBlocks {
		return Superblock{}, errors.Errorf(
			errors.ENOSPC,
			"geometry %q needs %d blocks, device %d has %d",
			geometry.Slug,
			geometry.TotalBlocks,
			device,
			deviceBlocks,
		)
	}

	sb := Superblock{
		Magic:       xv6fs.Magic,
		Size:        geometry.TotalBlocks,
		DataBlocks:  geometry.DataBlocks(),
		Inodes:      geometry.Inodes,
		LogBlocks:   geometry.LogBlocks,
		LogStart:    xv6fs.SuperblockIndex + 1,
		InodeStart:  xv6fs.SuperblockIndex + 1 + geometry.LogBlocks,
		BitmapStart: xv6fs.SuperblockIndex + 1 + geometry.LogBlocks + geometry.InodeBlocks(),
		VolumeID:    uuid.New(),
	}

	metadataBlocks := sb.DataStart()
	for block := uint32(0); block < metadataBlocks; block++ {
		err = updateBlock(cache, device, block, false, func(data []byte) error {
			switch {
			case block == xv6fs.SuperblockIndex:
				return sb.encode(data)
			case block >= sb.BitmapStart:
				markRange(data, block-sb.BitmapStart, metadataBlocks)
			}
			return nil
		})
		if err != nil {
			return Superblock{}, err
		}
	}

	// The root directory starts out empty, with no data blocks.
	root := DiskInode{Type: xv6fs.TypeDirectory, Nlink: 1}
	err = updateBlock(cache, device, sb.InodeBlockFor(xv6fs.RootInode), true,
		func(data []byte) error {
			return root.encodeInto(data, xv6fs.RootInode)
		},
	)
	if err != nil {
		return Superblock{}, err
	}
	return sb, nil
}

// updateBlock runs `modify` on a block and writes it back. If `load` is false
// the block's previous contents are not read and `modify` sees zeroes.
func updateBlock(
	cache *bcache.Cache,
	device, block uint32,
	load bool,
	modify func(data []byte) error,
) error {
	var buf *bcache.Buffer
	var err error

	if load {
		buf, err = cache.Read(device, block)
	} else {
		buf, err = cache.Acquire(device, block)
		if err == nil {
			buf.Data = [xv6fs.BlockSize]byte{}
		}
	}
	if err != nil {
		return err
	}

	err = modify(buf.Data[:])
	if err == nil {
		err = cache.Write(buf)
	}
	if releaseErr := cache.Release(buf); err == nil {
		err = releaseErr
	}
	return err
}

// Mount reads the superblock from `device` and returns the mounted volume.
func Mount(cache *bcache.Cache, device uint32, options Options) (*FileSystem, error) {
	inodeSlots := options.InodeSlots
	if inodeSlots <= 0 {
		inodeSlots = DefaultInodeSlots
	}
	fileSlots := options.FileSlots
	if fileSlots <= 0 {
		fileSlots = DefaultFileSlots
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	deviceBlocks, err := cache.DeviceBlocks(device)
	if err != nil {
		return nil, err
	}

	buf, err := cache.Read(device, xv6fs.SuperblockIndex)
	if err != nil {
		return nil, err
	}
	sb, err := decodeSuperblock(buf.Data[:])
	cache.Release(buf)
	if err != nil {
		return nil, errors.ErrFileSystemCorrupted.Wrap(err)
	}
	if err = sb.Check(deviceBlocks); err != nil {
		return nil, err
	}

	fs := &FileSystem{
		cache:      cache,
		dev:        device,
		sb:         sb,
		logger:     logger.With("component", "fs", "device", device),
		icacheLock: locks.NewMutex(),
		inodes:     make([]Inode, inodeSlots),
		nsLock:     locks.NewMutex(),
		files:      make([]openFile, fileSlots),
	}
	for i := range fs.inodes {
		fs.inodes[i].fs = fs
		fs.inodes[i].lock = locks.NewSleepLock()
	}

	root, err := fs.Iget(xv6fs.RootInode)
	if err != nil {
		return nil, err
	}
	if err = fs.Ilock(root); err != nil {
		fs.Iput(root)
		return nil, err
	}
	rootType := root.disk.Type
	fs.Iunlock(root)

	if rootType != xv6fs.TypeDirectory {
		fs.Iput(root)
		return nil, errors.Errorf(
			errors.EUCLEAN, "root inode has type %s, expected a directory", rootType)
	}
	fs.root = root

	fs.logger.Debug(
		"mounted",
		"volume_id", sb.VolumeID.String(),
		"blocks", sb.Size,
		"inodes", sb.Inodes,
	)
	return fs, nil
}

// Superblock returns a copy of the volume's superblock.
func (fs *FileSystem) Superblock() Superblock {
	return fs.sb
}

// Device returns the device number the volume is mounted from.
func (fs *FileSystem) Device() uint32 {
	return fs.dev
}

// Sync writes every referenced buffer back to the device.
func (fs *FileSystem) Sync() error {
	return fs.cache.Sync()
}

// Unmount releases the root directory and flushes the cache. It fails if any
// file is still open. The file system must not be used afterwards.
func (fs *FileSystem) Unmount() error {
	fs.nsLock.Lock()
	for i := range fs.files {
		if fs.files[i].kind != fileNone {
			fs.nsLock.Unlock()
			return errors.Errorf(
				errors.EBUSY, "descriptor %d is still open", i+xv6fs.FirstDescriptor)
		}
	}
	root := fs.root
	fs.root = nil
	fs.nsLock.Unlock()

	if root != nil {
		if err := fs.Iput(root); err != nil {
			return err
		}
	}
	return fs.Sync()
}

// PrintLayout writes a description of the volume's regions to `w`.
func (fs *FileSystem) PrintLayout(w io.Writer) error {
	sb := fs.sb
	free, err := fs.FreeBlockCount()
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(
		w,
		"xv6 File System Layout:\n"+
			"Block 0: Boot block\n"+
			"Block %d: Superblock\n"+
			"%s: Log blocks (%d blocks)\n"+
			"%s: Inode blocks (%d blocks)\n"+
			"%s: Bitmap block (%d blocks)\n"+
			"%s: Data blocks (%d blocks)\n"+
			"Total blocks: %d (%s)\n"+
			"Block size: %d bytes\n"+
			"Total inodes: %d\n"+
			"Free data blocks: %d (%s)\n"+
			"Volume ID: %s\n",
		xv6fs.SuperblockIndex,
		blockRange(sb.LogStart, sb.LogBlocks),
		sb.LogBlocks,
		blockRange(sb.InodeStart, sb.InodeBlocks()),
		sb.InodeBlocks(),
		blockRange(sb.BitmapStart, sb.BitmapBlocks()),
		sb.BitmapBlocks(),
		blockRange(sb.DataStart(), sb.DataBlocks),
		sb.DataBlocks,
		sb.Size,
		humanizeBlocks(sb.Size),
		xv6fs.BlockSize,
		sb.Inodes,
		free,
		humanizeBlocks(free),
		sb.VolumeID,
	)
	return err
}

func blockRange(start, count uint32) string {
	switch count {
	case 0:
		return "Blocks (none)"
	case 1:
		return fmt.Sprintf("Block %d", start)
	default:
		return fmt.Sprintf("Blocks %d-%d", start, start+count-1)
	}
}

// PrintCacheStats writes the buffer cache's statistics to `w`.
func (fs *FileSystem) PrintCacheStats(w io.Writer) error {
	return fs.cache.PrintStats(w)
}
