package fs

import (
	"encoding/binary"
	"fmt"

	"github.com/dargueta/xv6fs"
	"github.com/dargueta/xv6fs/errors"
	"github.com/dargueta/xv6fs/locks"
	"github.com/hashicorp/go-multierror"
)

// Inode is a slot in the in-memory inode cache. Callers get one from
// [FileSystem.Iget] or [FileSystem.Ialloc] and must give it back with
// [FileSystem.Iput]. The cached disk inode may only be read or changed while
// the inode is locked with [FileSystem.Ilock].
type Inode struct {
	Inum uint32

	fs   *FileSystem
	lock locks.SleepLock
	// Guarded by the inode cache mutex.
	ref int
	// Guarded by lock.
	valid bool
	disk  DiskInode
}

// Type returns the inode's type. The inode must be locked.
func (ip *Inode) Type() xv6fs.InodeType {
	return ip.disk.Type
}

// Size returns the file size in bytes. The inode must be locked.
func (ip *Inode) Size() uint32 {
	return ip.disk.Size
}

// Nlink returns the number of directory entries referring to the inode. The
// inode must be locked.
func (ip *Inode) Nlink() int16 {
	return ip.disk.Nlink
}

// Stat returns the inode's metadata. The inode must be locked.
func (ip *Inode) Stat() xv6fs.FileStat {
	return xv6fs.FileStat{
		Device: ip.fs.dev,
		Inode:  ip.Inum,
		Type:   ip.disk.Type,
		Nlink:  ip.disk.Nlink,
		Size:   ip.disk.Size,
	}
}

func (fs *FileSystem) checkInum(inum uint32) error {
	if inum == 0 || inum >= fs.sb.Inodes {
		return errors.Errorf(
			errors.EINVAL, "inode %d not in range [1, %d)", inum, fs.sb.Inodes)
	}
	return nil
}

// Iget returns the cache slot for inode `inum` with its reference count raised.
// It doesn't lock the inode or read it from disk.
func (fs *FileSystem) Iget(inum uint32) (*Inode, error) {
	if err := fs.checkInum(inum); err != nil {
		return nil, err
	}

	fs.icacheLock.Lock()
	defer fs.icacheLock.Unlock()

	var empty *Inode
	for i := range fs.inodes {
		ip := &fs.inodes[i]
		if ip.ref > 0 && ip.Inum == inum {
			ip.ref++
			return ip, nil
		}
		if empty == nil && ip.ref == 0 {
			empty = ip
		}
	}

	if empty == nil {
		fs.logger.Warn("inode cache full", "inum", inum)
		return nil, errors.ErrInodeCacheFull.WithMessage(
			fmt.Sprintf("iget: no slot for inode %d", inum))
	}

	empty.Inum = inum
	empty.ref = 1
	empty.valid = false
	return empty, nil
}

// Idup adds a reference to an inode the caller already holds.
func (fs *FileSystem) Idup(ip *Inode) *Inode {
	fs.icacheLock.Lock()
	defer fs.icacheLock.Unlock()
	ip.ref++
	return ip
}

func (fs *FileSystem) refCount(ip *Inode) int {
	fs.icacheLock.Lock()
	defer fs.icacheLock.Unlock()
	return ip.ref
}

func (fs *FileSystem) lockViolation(operation string, ip *Inode, reason string) error {
	fs.logger.Error("inode lock protocol violated",
		"operation", operation, "inum", ip.Inum, "reason", reason)
	return errors.ErrLockNotHeld.WithMessage(
		fmt.Sprintf("%s: inode %d %s", operation, ip.Inum, reason))
}

// Ilock locks an inode, reading it from disk if the cached copy isn't valid.
func (fs *FileSystem) Ilock(ip *Inode) error {
	if fs.refCount(ip) < 1 {
		return fs.lockViolation("ilock", ip, "has no references")
	}

	ip.lock.Acquire()
	if ip.valid {
		return nil
	}

	buf, err := fs.cache.Read(fs.dev, fs.sb.InodeBlockFor(ip.Inum))
	if err != nil {
		ip.lock.Release()
		return err
	}
	disk, err := decodeDiskInode(buf.Data[:], ip.Inum)
	fs.cache.Release(buf)
	if err != nil {
		ip.lock.Release()
		return errors.ErrFileSystemCorrupted.Wrap(err)
	}

	if disk.Type == xv6fs.TypeFree {
		ip.lock.Release()
		fs.logger.Error("locked a free inode", "inum", ip.Inum)
		return errors.Errorf(errors.EUCLEAN, "ilock: inode %d has no type", ip.Inum)
	}

	ip.disk = disk
	ip.valid = true
	return nil
}

// Iunlock unlocks an inode locked with [FileSystem.Ilock].
func (fs *FileSystem) Iunlock(ip *Inode) error {
	if fs.refCount(ip) < 1 {
		return fs.lockViolation("iunlock", ip, "has no references")
	}
	if !ip.lock.Holding() {
		return fs.lockViolation("iunlock", ip, "is not locked")
	}
	ip.lock.Release()
	return nil
}

// Iupdate writes the cached disk inode back to the inode table. The inode must
// be locked.
func (fs *FileSystem) Iupdate(ip *Inode) error {
	if !ip.lock.Holding() {
		return fs.lockViolation("iupdate", ip, "is not locked")
	}
	return fs.writeDiskInode(ip.Inum, &ip.disk)
}

func (fs *FileSystem) writeDiskInode(inum uint32, disk *DiskInode) error {
	return updateBlock(fs.cache, fs.dev, fs.sb.InodeBlockFor(inum), true,
		func(data []byte) error {
			return disk.encodeInto(data, inum)
		},
	)
}

// Iput drops a reference to an inode. If it was the last reference and no
// directory entry refers to the inode any more, its blocks are freed and the
// inode is returned to the free pool.
//
// The caller must not hold the inode's lock.
func (fs *FileSystem) Iput(ip *Inode) error {
	fs.icacheLock.Lock()
	defer fs.icacheLock.Unlock()

	if ip.ref < 1 {
		return fs.lockViolation("iput", ip, "has no references")
	}

	var result error
	if ip.ref == 1 {
		if ip.lock.Holding() {
			return fs.lockViolation("iput", ip, "is still locked by the caller")
		}

		// Nobody else has a reference, so this never blocks.
		ip.lock.Acquire()
		if ip.valid && ip.disk.Nlink == 0 {
			fs.logger.Debug("freeing inode", "inum", ip.Inum)
			if err := fs.itrunc(ip); err != nil {
				result = multierror.Append(result, err)
			}
			ip.disk.Type = xv6fs.TypeFree
			if err := fs.Iupdate(ip); err != nil {
				result = multierror.Append(result, err)
			}
			ip.valid = false
		}
		ip.lock.Release()
	}

	ip.ref--
	return result
}

// Iunlockput is Iunlock followed by Iput.
func (fs *FileSystem) Iunlockput(ip *Inode) error {
	if err := fs.Iunlock(ip); err != nil {
		return err
	}
	return fs.Iput(ip)
}

// Ialloc finds a free inode in the inode table, marks it as allocated with the
// given type, and returns it with a reference held. The returned inode has a
// link count of 0; the caller must set it once the inode is linked into the
// directory.
func (fs *FileSystem) Ialloc(inodeType xv6fs.InodeType) (*Inode, error) {
	for inum := uint32(1); inum < fs.sb.Inodes; inum++ {
		block := fs.sb.InodeBlockFor(inum)
		buf, err := fs.cache.Read(fs.dev, block)
		if err != nil {
			return nil, err
		}

		disk, err := decodeDiskInode(buf.Data[:], inum)
		if err != nil || disk.Type != xv6fs.TypeFree {
			fs.cache.Release(buf)
			continue
		}

		disk = DiskInode{Type: inodeType}
		err = disk.encodeInto(buf.Data[:], inum)
		if err == nil {
			err = fs.cache.Write(buf)
		}
		fs.cache.Release(buf)
		if err != nil {
			return nil, err
		}

		ip, err := fs.Iget(inum)
		if err != nil {
			// Give the inode back so it isn't leaked on disk.
			free := DiskInode{}
			if undoErr := fs.writeDiskInode(inum, &free); undoErr != nil {
				err = multierror.Append(err, undoErr)
			}
			return nil, err
		}

		ip.lock.Acquire()
		ip.disk = disk
		ip.valid = true
		ip.lock.Release()

		fs.logger.Debug("allocated inode", "inum", inum, "type", inodeType.String())
		return ip, nil
	}

	fs.logger.Warn("out of inodes")
	return nil, errors.ErrOutOfInodes
}

// Itrunc frees every block the inode refers to and sets its size to 0. The
// inode must be locked.
func (fs *FileSystem) Itrunc(ip *Inode) error {
	if !ip.lock.Holding() {
		return fs.lockViolation("itrunc", ip, "is not locked")
	}
	return fs.itrunc(ip)
}

func (fs *FileSystem) itrunc(ip *Inode) error {
	for i := 0; i < xv6fs.NumDirect; i++ {
		if ip.disk.Addrs[i] == 0 {
			continue
		}
		if err := fs.Bfree(ip.disk.Addrs[i]); err != nil {
			return err
		}
		ip.disk.Addrs[i] = 0
	}

	indirect := ip.disk.Addrs[xv6fs.NumDirect]
	if indirect != 0 {
		buf, err := fs.cache.Read(fs.dev, indirect)
		if err != nil {
			return err
		}
		// Copy the addresses out so the indirect block isn't held while the
		// bitmap is updated.
		addrs := decodeAddrs(buf.Data[:])
		fs.cache.Release(buf)

		for _, addr := range addrs {
			if addr == 0 {
				continue
			}
			if err = fs.Bfree(addr); err != nil {
				return err
			}
		}
		if err = fs.Bfree(indirect); err != nil {
			return err
		}
		ip.disk.Addrs[xv6fs.NumDirect] = 0
	}

	ip.disk.Size = 0
	return fs.Iupdate(ip)
}

func decodeAddrs(data []byte) [xv6fs.NumIndirect]uint32 {
	var addrs [xv6fs.NumIndirect]uint32
	for i := range addrs {
		addrs[i] = binary.LittleEndian.Uint32(data[i*4:])
	}
	return addrs
}

// Bmap returns the disk block holding block `bn` of the inode's contents. If
// `alloc` is true, missing blocks (including the indirect block) are
// allocated; otherwise a missing block is returned as 0. The inode must be
// locked, and the caller must call [FileSystem.Iupdate] if the inode's
// addresses changed.
func (fs *FileSystem) Bmap(ip *Inode, bn uint32, alloc bool) (uint32, error) {
	if !ip.lock.Holding() {
		return 0, fs.lockViolation("bmap", ip, "is not locked")
	}
	return fs.bmap(ip, bn, alloc)
}

func (fs *FileSystem) bmap(ip *Inode, bn uint32, alloc bool) (uint32, error) {
	if bn < xv6fs.NumDirect {
		addr := ip.disk.Addrs[bn]
		if addr == 0 && alloc {
			var err error
			if addr, err = fs.Balloc(); err != nil {
				return 0, err
			}
			ip.disk.Addrs[bn] = addr
		}
		return addr, nil
	}

	bn -= xv6fs.NumDirect
	if bn >= xv6fs.NumIndirect {
		return 0, errors.Errorf(
			errors.EFBIG,
			"bmap: block %d of inode %d is past the maximum of %d",
			bn+xv6fs.NumDirect,
			ip.Inum,
			xv6fs.MaxFileBlocks,
		)
	}

	indirect := ip.disk.Addrs[xv6fs.NumDirect]
	if indirect == 0 {
		if !alloc {
			return 0, nil
		}
		var err error
		if indirect, err = fs.Balloc(); err != nil {
			return 0, err
		}
		ip.disk.Addrs[xv6fs.NumDirect] = indirect
	}

	buf, err := fs.cache.Read(fs.dev, indirect)
	if err != nil {
		return 0, err
	}
	defer fs.cache.Release(buf)

	entry := buf.Data[bn*4 : bn*4+4]
	addr := binary.LittleEndian.Uint32(entry)
	if addr == 0 && alloc {
		if addr, err = fs.Balloc(); err != nil {
			return 0, err
		}
		binary.LittleEndian.PutUint32(entry, addr)
		if err = fs.cache.Write(buf); err != nil {
			return 0, err
		}
	}
	return addr, nil
}

// readi copies up to len(dst) bytes of the inode's contents starting at
// `offset`. Holes read as zeroes. The inode must be locked.
func (fs *FileSystem) readi(ip *Inode, dst []byte, offset uint32) (int, error) {
	if offset >= ip.disk.Size {
		return 0, nil
	}
	if uint32(len(dst)) > ip.disk.Size-offset {
		dst = dst[:ip.disk.Size-offset]
	}

	total := 0
	for total < len(dst) {
		pos := offset + uint32(total)
		addr, err := fs.bmap(ip, pos/xv6fs.BlockSize, false)
		if err != nil {
			return total, err
		}

		start := pos % xv6fs.BlockSize
		chunk := dst[total:]
		if uint32(len(chunk)) > xv6fs.BlockSize-start {
			chunk = chunk[:xv6fs.BlockSize-start]
		}

		if addr == 0 {
			clear(chunk)
		} else {
			buf, err := fs.cache.Read(fs.dev, addr)
			if err != nil {
				return total, err
			}
			copy(chunk, buf.Data[start:])
			fs.cache.Release(buf)
		}
		total += len(chunk)
	}
	return total, nil
}

// writei copies `src` into the inode's contents at `offset`, allocating blocks
// as needed, then grows the size and persists the inode. The inode must be
// locked.
func (fs *FileSystem) writei(ip *Inode, src []byte, offset uint32) (int, error) {
	end := uint64(offset) + uint64(len(src))
	if end > xv6fs.MaxFileBlocks*xv6fs.BlockSize {
		return 0, errors.Errorf(
			errors.EFBIG,
			"write of %d bytes at offset %d exceeds the maximum file size",
			len(src),
			offset,
		)
	}

	total := 0
	var result error
	for total < len(src) {
		pos := offset + uint32(total)
		addr, err := fs.bmap(ip, pos/xv6fs.BlockSize, true)
		if err != nil {
			result = err
			break
		}

		start := pos % xv6fs.BlockSize
		buf, err := fs.cache.Read(fs.dev, addr)
		if err != nil {
			result = err
			break
		}
		n := copy(buf.Data[start:], src[total:])
		err = fs.cache.Write(buf)
		fs.cache.Release(buf)
		if err != nil {
			result = err
			break
		}
		total += n
	}

	if newEnd := offset + uint32(total); total > 0 && newEnd > ip.disk.Size {
		ip.disk.Size = newEnd
	}
	// bmap may have changed the addresses even if nothing was written.
	if err := fs.Iupdate(ip); err != nil {
		result = multierror.Append(result, err)
	}
	return total, result
}
