package fs

import (
	"fmt"

	"github.com/dargueta/xv6fs"
	"github.com/dargueta/xv6fs/errors"
	"github.com/hashicorp/go-multierror"
)

type fileKind int

const (
	fileNone fileKind = iota
	fileInode
)

// openFile is a slot in the open file table. The kind, reference count and
// inode are guarded by the namespace lock. The offset is guarded by the
// inode's lock.
type openFile struct {
	kind     fileKind
	ref      int
	readable bool
	writable bool
	ip       *Inode
	offset   uint32
}

// Files are only ever one block long.
const maxFileSize = xv6fs.BlockSize

func (fs *FileSystem) slotFor(fd int) (*openFile, error) {
	index := fd - xv6fs.FirstDescriptor
	if index < 0 || index >= len(fs.files) || fs.files[index].kind == fileNone {
		return nil, errors.Errorf(errors.EBADF, "descriptor %d is not open", fd)
	}
	return &fs.files[index], nil
}

// acquireFile looks up an open descriptor and takes a reference to it so it
// stays valid while the caller works on it outside the namespace lock.
func (fs *FileSystem) acquireFile(fd int) (*openFile, error) {
	fs.nsLock.Lock()
	defer fs.nsLock.Unlock()

	f, err := fs.slotFor(fd)
	if err != nil {
		return nil, err
	}
	f.ref++
	return f, nil
}

// releaseFile drops a reference to a descriptor slot. At zero the slot is
// freed and its inode reference dropped.
func (fs *FileSystem) releaseFile(f *openFile) error {
	fs.nsLock.Lock()
	ip := fs.dropFileLocked(f)
	fs.nsLock.Unlock()

	if ip == nil {
		return nil
	}
	return fs.Iput(ip)
}

// dropFileLocked decrements a slot's reference count and frees the slot at
// zero, returning the inode the caller must put. Must be called with the
// namespace lock held.
func (fs *FileSystem) dropFileLocked(f *openFile) *Inode {
	f.ref--
	if f.ref > 0 {
		return nil
	}
	ip := f.ip
	*f = openFile{}
	return ip
}

// Open opens the file called `name` in the root directory and returns a
// descriptor for it. With [xv6fs.O_CREATE] a missing file is created with one
// data block. A missing file without O_CREATE fails with ENOENT and changes
// nothing.
func (fs *FileSystem) Open(name string, flags xv6fs.OpenFlags) (int, error) {
	if err := ValidateName(name); err != nil {
		return -1, err
	}

	fs.nsLock.Lock()
	defer fs.nsLock.Unlock()

	slot := -1
	for i := range fs.files {
		if fs.files[i].kind == fileNone {
			slot = i
			break
		}
	}
	if slot < 0 {
		fs.logger.Warn("file table full", "name", name)
		return -1, errors.ErrTooManyOpenFilesInSystem.WithMessage(
			fmt.Sprintf("no free descriptor to open %q", name))
	}

	ip, err := fs.lookupOrCreate(name, flags)
	if err != nil {
		return -1, err
	}

	if err = fs.Ilock(ip); err != nil {
		fs.Iput(ip)
		return -1, err
	}
	if ip.disk.Type == xv6fs.TypeDirectory && flags.Writable() {
		fs.Iunlockput(ip)
		return -1, errors.Errorf(errors.EISDIR, "%q is a directory", name)
	}
	if flags.Truncate() && flags.Writable() {
		err = fs.itrunc(ip)
	}
	fs.Iunlock(ip)
	if err != nil {
		fs.Iput(ip)
		return -1, err
	}

	fs.files[slot] = openFile{
		kind:     fileInode,
		ref:      1,
		readable: true,
		writable: flags.Writable(),
		ip:       ip,
	}
	fd := slot + xv6fs.FirstDescriptor
	fs.logger.Debug("opened", "name", name, "fd", fd, "inum", ip.Inum, "flags", flags.String())
	return fd, nil
}

// lookupOrCreate returns a referenced, unlocked inode for `name`. Must be
// called with the namespace lock held.
func (fs *FileSystem) lookupOrCreate(name string, flags xv6fs.OpenFlags) (*Inode, error) {
	dp, err := fs.lockRoot()
	if err != nil {
		return nil, err
	}
	defer fs.Iunlock(dp)

	inum, _, err := fs.dirLookup(dp, name)
	if err == nil {
		return fs.Iget(inum)
	}
	if errors.ErrnoOf(err) != errors.ENOENT || !flags.Create() {
		return nil, err
	}

	ip, err := fs.Ialloc(xv6fs.TypeFile)
	if err != nil {
		return nil, err
	}

	// The inode has no links yet, so dropping it on any failure below frees it
	// and whatever was allocated for it.
	abandon := func(cause error) (*Inode, error) {
		if err := fs.Iput(ip); err != nil {
			cause = multierror.Append(cause, err)
		}
		return nil, cause
	}

	if err = fs.Ilock(ip); err != nil {
		return abandon(err)
	}
	_, err = fs.bmap(ip, 0, true)
	if err == nil {
		ip.disk.Nlink = 1
		err = fs.Iupdate(ip)
	}
	if err == nil {
		err = fs.dirLink(dp, name, ip.Inum)
	}
	if err != nil {
		ip.disk.Nlink = 0
		fs.Iunlock(ip)
		return abandon(err)
	}
	fs.Iunlock(ip)

	fs.logger.Debug("created file", "name", name, "inum", ip.Inum)
	return ip, nil
}

// Read reads from the file's sole data block into `p`, starting at the
// descriptor's offset. It returns 0 at end of file.
func (fs *FileSystem) Read(fd int, p []byte) (int, error) {
	f, err := fs.acquireFile(fd)
	if err != nil {
		return 0, err
	}
	defer fs.releaseFile(f)

	if !f.readable {
		return 0, errors.Errorf(errors.EBADF, "descriptor %d is not open for reading", fd)
	}

	if err = fs.Ilock(f.ip); err != nil {
		return 0, err
	}
	defer fs.Iunlock(f.ip)

	if f.offset >= f.ip.disk.Size || f.offset >= maxFileSize {
		return 0, nil
	}

	count := uint32(len(p))
	if remaining := f.ip.disk.Size - f.offset; count > remaining {
		count = remaining
	}
	if inBlock := maxFileSize - f.offset; count > inBlock {
		count = inBlock
	}

	n, err := fs.readi(f.ip, p[:count], f.offset)
	f.offset += uint32(n)
	return n, err
}

// Write writes `p` into the file's sole data block at the descriptor's offset,
// allocating the block if the file doesn't have one. Data that doesn't fit in
// the block is dropped; writing with the offset already at the end of the
// block fails with EFBIG.
func (fs *FileSystem) Write(fd int, p []byte) (int, error) {
	f, err := fs.acquireFile(fd)
	if err != nil {
		return 0, err
	}
	defer fs.releaseFile(f)

	if !f.writable {
		return 0, errors.Errorf(errors.EBADF, "descriptor %d is not open for writing", fd)
	}
	if len(p) == 0 {
		return 0, nil
	}

	if err = fs.Ilock(f.ip); err != nil {
		return 0, err
	}
	defer fs.Iunlock(f.ip)

	if f.offset >= maxFileSize {
		return 0, errors.Errorf(
			errors.EFBIG, "descriptor %d is at the end of the file's only block", fd)
	}

	count := uint32(len(p))
	if inBlock := maxFileSize - f.offset; count > inBlock {
		count = inBlock
	}

	n, err := fs.writei(f.ip, p[:count], f.offset)
	f.offset += uint32(n)
	return n, err
}

// Seek sets the descriptor's offset. Offsets past the end of the block are
// allowed; reads there return 0 and writes fail.
func (fs *FileSystem) Seek(fd int, offset uint32) error {
	f, err := fs.acquireFile(fd)
	if err != nil {
		return err
	}
	defer fs.releaseFile(f)

	if err = fs.Ilock(f.ip); err != nil {
		return err
	}
	f.offset = offset
	return fs.Iunlock(f.ip)
}

// Close drops a reference to a descriptor. The descriptor is freed when its
// last reference is dropped.
func (fs *FileSystem) Close(fd int) error {
	fs.nsLock.Lock()
	f, err := fs.slotFor(fd)
	if err != nil {
		fs.nsLock.Unlock()
		return err
	}
	ip := fs.dropFileLocked(f)
	fs.nsLock.Unlock()

	if ip == nil {
		return nil
	}
	fs.logger.Debug("closed", "fd", fd, "inum", ip.Inum)
	return fs.Iput(ip)
}

// Dup adds a reference to a descriptor. The descriptor must then be closed one
// more time before it's freed.
func (fs *FileSystem) Dup(fd int) (int, error) {
	fs.nsLock.Lock()
	defer fs.nsLock.Unlock()

	f, err := fs.slotFor(fd)
	if err != nil {
		return -1, err
	}
	f.ref++
	return fd, nil
}

// Fstat returns information about an open file.
func (fs *FileSystem) Fstat(fd int) (xv6fs.FileStat, error) {
	f, err := fs.acquireFile(fd)
	if err != nil {
		return xv6fs.FileStat{}, err
	}
	defer fs.releaseFile(f)

	if err = fs.Ilock(f.ip); err != nil {
		return xv6fs.FileStat{}, err
	}
	defer fs.Iunlock(f.ip)
	return f.ip.Stat(), nil
}

// Stat returns information about the file called `name`.
func (fs *FileSystem) Stat(name string) (xv6fs.FileStat, error) {
	if err := ValidateName(name); err != nil {
		return xv6fs.FileStat{}, err
	}

	fs.nsLock.Lock()
	defer fs.nsLock.Unlock()

	dp, err := fs.lockRoot()
	if err != nil {
		return xv6fs.FileStat{}, err
	}
	inum, _, err := fs.dirLookup(dp, name)
	fs.Iunlock(dp)
	if err != nil {
		return xv6fs.FileStat{}, err
	}

	ip, err := fs.Iget(inum)
	if err != nil {
		return xv6fs.FileStat{}, err
	}
	if err = fs.Ilock(ip); err != nil {
		fs.Iput(ip)
		return xv6fs.FileStat{}, err
	}
	stat := ip.Stat()
	return stat, fs.Iunlockput(ip)
}

// Unlink removes `name` from the directory. The file's inode and blocks are
// freed once no descriptor refers to it any more.
func (fs *FileSystem) Unlink(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}

	fs.nsLock.Lock()
	defer fs.nsLock.Unlock()

	dp, err := fs.lockRoot()
	if err != nil {
		return err
	}
	inum, offset, err := fs.dirLookup(dp, name)
	if err == nil {
		err = fs.dirUnlink(dp, offset)
	}
	fs.Iunlock(dp)
	if err != nil {
		return err
	}

	ip, err := fs.Iget(inum)
	if err != nil {
		return err
	}
	if err = fs.Ilock(ip); err != nil {
		fs.Iput(ip)
		return err
	}
	if ip.disk.Nlink > 0 {
		ip.disk.Nlink--
	}
	err = fs.Iupdate(ip)
	fs.Iunlock(ip)
	if putErr := fs.Iput(ip); err == nil {
		err = putErr
	}

	fs.logger.Debug("unlinked", "name", name, "inum", inum)
	return err
}

// ReadDir lists the entries of the root directory.
func (fs *FileSystem) ReadDir() ([]xv6fs.DirectoryEntry, error) {
	fs.nsLock.Lock()
	defer fs.nsLock.Unlock()

	dp, err := fs.lockRoot()
	if err != nil {
		return nil, err
	}
	defer fs.Iunlock(dp)
	return fs.dirList(dp)
}

// OpenFiles returns the number of descriptors in use.
func (fs *FileSystem) OpenFiles() int {
	fs.nsLock.Lock()
	defer fs.nsLock.Unlock()

	count := 0
	for i := range fs.files {
		if fs.files[i].kind != fileNone {
			count++
		}
	}
	return count
}
