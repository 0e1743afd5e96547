package fs

import (
	"bytes"
	"encoding/binary"
	"strings"

	"github.com/dargueta/xv6fs"
	"github.com/dargueta/xv6fs/errors"
	"github.com/google/uuid"
	"github.com/noxer/bytewriter"
)

// Superblock describes the layout of a volume. It lives in block 1 and never
// changes after the volume is formatted.
type Superblock struct {
	Magic uint32
	// Size is the total number of blocks in the volume.
	Size uint32
	// DataBlocks is the number of blocks after the bitmap.
	DataBlocks  uint32
	Inodes      uint32
	LogBlocks   uint32
	LogStart    uint32
	InodeStart  uint32
	BitmapStart uint32
	VolumeID    uuid.UUID
}

// BitmapBlocks is the number of blocks in the free block bitmap.
func (sb *Superblock) BitmapBlocks() uint32 {
	return (sb.Size + xv6fs.BitsPerBlock - 1) / xv6fs.BitsPerBlock
}

// DataStart is the first block available for file contents.
func (sb *Superblock) DataStart() uint32 {
	return sb.BitmapStart + sb.BitmapBlocks()
}

// InodeBlocks is the number of blocks in the inode table.
func (sb *Superblock) InodeBlocks() uint32 {
	return sb.BitmapStart - sb.InodeStart
}

// BitmapBlockFor returns the bitmap block holding the bit for block `b`.
func (sb *Superblock) BitmapBlockFor(b uint32) uint32 {
	return b/xv6fs.BitsPerBlock + sb.BitmapStart
}

// InodeBlockFor returns the block of the inode table holding inode `inum`.
func (sb *Superblock) InodeBlockFor(inum uint32) uint32 {
	return inum/xv6fs.InodesPerBlock + sb.InodeStart
}

// Check verifies that the regions described by the superblock are in order
// and fit on a device of `deviceBlocks` blocks.
func (sb *Superblock) Check(deviceBlocks uint32) error {
	if sb.Magic != xv6fs.Magic {
		return errors.ErrWrongMediumType.WithMessage(
			"bad superblock magic")
	}
	if sb.Size > deviceBlocks {
		return errors.Errorf(
			errors.EUCLEAN,
			"superblock claims %d blocks but the device has %d",
			sb.Size,
			deviceBlocks,
		)
	}

	inodeBlocks := (sb.Inodes + xv6fs.InodesPerBlock - 1) / xv6fs.InodesPerBlock
	switch {
	case sb.LogStart != xv6fs.SuperblockIndex+1,
		sb.InodeStart != sb.LogStart+sb.LogBlocks,
		sb.BitmapStart != sb.InodeStart+inodeBlocks,
		sb.DataStart()+sb.DataBlocks != sb.Size:
		return errors.Errorf(
			errors.EUCLEAN,
			"inconsistent layout: log@%d+%d inodes@%d bitmap@%d data %d of %d",
			sb.LogStart,
			sb.LogBlocks,
			sb.InodeStart,
			sb.BitmapStart,
			sb.DataBlocks,
			sb.Size,
		)
	}
	return nil
}

func (sb *Superblock) encode(block []byte) error {
	return binary.Write(bytewriter.New(block), binary.LittleEndian, sb)
}

func decodeSuperblock(block []byte) (Superblock, error) {
	var sb Superblock
	err := binary.Read(bytes.NewReader(block), binary.LittleEndian, &sb)
	return sb, err
}

// DiskInode is an inode as stored in the inode table. The last address is the
// indirect block.
type DiskInode struct {
	Type  xv6fs.InodeType
	Major int16
	Minor int16
	Nlink int16
	Size  uint32
	Addrs [xv6fs.NumDirect + 1]uint32
}

func inodeOffset(inum uint32) int {
	return int(inum%xv6fs.InodesPerBlock) * xv6fs.DiskInodeSize
}

func (d *DiskInode) encodeInto(block []byte, inum uint32) error {
	offset := inodeOffset(inum)
	writer := bytewriter.New(block[offset : offset+xv6fs.DiskInodeSize])
	return binary.Write(writer, binary.LittleEndian, d)
}

func decodeDiskInode(block []byte, inum uint32) (DiskInode, error) {
	var d DiskInode
	offset := inodeOffset(inum)
	err := binary.Read(
		bytes.NewReader(block[offset:offset+xv6fs.DiskInodeSize]),
		binary.LittleEndian,
		&d,
	)
	return d, err
}

type dirent struct {
	Inum uint16
	Name [xv6fs.MaxNameLength]byte
}

func newDirent(inum uint32, name string) dirent {
	entry := dirent{Inum: uint16(inum)}
	copy(entry.Name[:], name)
	return entry
}

func (e *dirent) name() string {
	raw := string(e.Name[:])
	if i := strings.IndexByte(raw, 0); i >= 0 {
		return raw[:i]
	}
	return raw
}

func (e *dirent) encode() []byte {
	out := make([]byte, xv6fs.DirentSize)
	binary.Write(bytewriter.New(out), binary.LittleEndian, e)
	return out
}

func decodeDirent(raw []byte) dirent {
	var entry dirent
	binary.Read(bytes.NewReader(raw), binary.LittleEndian, &entry)
	return entry
}

// ValidateName checks that `name` can be stored in a directory entry.
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." {
		return errors.Errorf(errors.EINVAL, "invalid file name %q", name)
	}
	if len(name) > xv6fs.MaxNameLength {
		return errors.Errorf(
			errors.ENAMETOOLONG,
			"%q is %d bytes, limit is %d",
			name,
			len(name),
			xv6fs.MaxNameLength,
		)
	}
	if strings.ContainsAny(name, "/\x00") {
		return errors.Errorf(errors.EINVAL, "file name %q contains '/' or NUL", name)
	}
	return nil
}
