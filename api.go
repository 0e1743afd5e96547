// Package xv6fs holds the types and constants shared by every layer of the
// file system stack: the on-disk geometry, open flags, inode types, and the
// interfaces implemented by the driver.
package xv6fs

import (
	"fmt"
	"io"
)

// BlockSize is the size of every block on the device, in bytes.
const BlockSize = 512

const (
	// NumDirect is the number of direct block addresses in an inode.
	NumDirect = 12
	// NumIndirect is the number of block addresses that fit in the indirect block.
	NumIndirect = BlockSize / 4
	// MaxFileBlocks is the largest number of data blocks one inode can address.
	MaxFileBlocks = NumDirect + NumIndirect

	// DiskInodeSize is the encoded size of an inode in the inode table.
	DiskInodeSize = 64
	// InodesPerBlock is the number of inodes stored in a single block.
	InodesPerBlock = BlockSize / DiskInodeSize
	// BitsPerBlock is the number of allocation bits in one bitmap block.
	BitsPerBlock = BlockSize * 8

	// MaxNameLength is the longest name a directory entry can hold.
	MaxNameLength = 14
	// DirentSize is the encoded size of a directory entry.
	DirentSize = 2 + MaxNameLength

	// SuperblockIndex is the block holding the superblock. Block 0 is reserved
	// for a boot sector and never read.
	SuperblockIndex = 1
	// RootInode is the inode number of the root directory.
	RootInode = 1
	// RootDevice is the device number the root file system is attached as.
	RootDevice = 1
	// Magic identifies a formatted volume.
	Magic uint32 = 0x10203040

	// FirstDescriptor is the number handed out for the first descriptor slot.
	// Numbers 0-2 are reserved for the standard streams.
	FirstDescriptor = 3
)

// InodeType is the type field of an inode. The zero value marks a free inode.
type InodeType int16

const (
	TypeFree InodeType = iota
	TypeDirectory
	TypeFile
	TypeDevice
)

func (t InodeType) String() string {
	switch t {
	case TypeFree:
		return "free"
	case TypeDirectory:
		return "dir"
	case TypeFile:
		return "file"
	case TypeDevice:
		return "dev"
	default:
		return fmt.Sprintf("type(%d)", int16(t))
	}
}

// FileStat describes a file as stored in its inode.
type FileStat struct {
	Device uint32
	Inode  uint32
	Type   InodeType
	Nlink  int16
	Size   uint32
}

// Mode returns a POSIX-style mode for the file. The file system has no
// permissions, so every file is reported as readable and writable by everyone.
func (s FileStat) Mode() uint32 {
	var format uint32
	switch s.Type {
	case TypeDirectory:
		format = S_IFDIR
	case TypeDevice:
		format = S_IFCHR
	default:
		format = S_IFREG
	}
	return format | S_IRWXU | S_IRWXG | S_IRWXO
}

// IsDir returns true if the file is a directory.
func (s FileStat) IsDir() bool {
	return s.Type == TypeDirectory
}

// DirectoryEntry is a name in the root directory and the inode it refers to.
type DirectoryEntry struct {
	Name  string
	Inode uint32
}

// ReadingDriver is the interface for drivers supporting read operations.
type ReadingDriver interface {
	ReadDir() ([]DirectoryEntry, error)
	// ReadFile return the contents of the file at the given path.
	ReadFile(path string) ([]byte, error)
	// Stat returns information about the directory entry at the given path.
	Stat(path string) (FileStat, error)
}

// WritingDriver is the interface for drivers supporting write operations.
type WritingDriver interface {
	Remove(path string) error
	WriteFile(path string, data []byte) error
}

// Driver is the interface for drivers implementing all driver capabilities.
type Driver interface {
	ReadingDriver
	WritingDriver

	// OpenFile opens the file at `path` with the given flags.
	OpenFile(path string, flags OpenFlags) (io.ReadWriteCloser, error)

	// Flush writes all changes to the disk image.
	Flush() error

	// Unmount flushes all changes to the disk image and frees all resources. The driver
	// must not be used after this function is called.
	Unmount() error
}
