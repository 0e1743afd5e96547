package driver

import (
	"io"

	"github.com/dargueta/xv6fs"
	"github.com/dargueta/xv6fs/errors"
	"github.com/dargueta/xv6fs/fs"
)

// File is an open descriptor on a mounted file system. It implements
// [io.ReadWriteSeeker] and [io.Closer].
type File struct {
	fs     *fs.FileSystem
	fd     int
	name   string
	offset int64
	closed bool
}

// Name returns the name the file was opened with.
func (file *File) Name() string {
	return file.name
}

// Fd returns the file system descriptor backing the file.
func (file *File) Fd() int {
	return file.fd
}

// Read reads up to len(p) bytes. At end of file it returns 0 and [io.EOF].
func (file *File) Read(p []byte) (int, error) {
	if file.closed {
		return 0, errors.ErrInvalidFileDescriptor.WithMessage("file is closed")
	}
	if len(p) == 0 {
		return 0, nil
	}

	n, err := file.fs.Read(file.fd, p)
	file.offset += int64(n)
	if err == nil && n == 0 {
		return 0, io.EOF
	}
	return n, err
}

// Write writes `p` at the current offset. A write that doesn't fit in the
// file's block is cut short and reported with [io.ErrShortWrite].
func (file *File) Write(p []byte) (int, error) {
	if file.closed {
		return 0, errors.ErrInvalidFileDescriptor.WithMessage("file is closed")
	}

	n, err := file.fs.Write(file.fd, p)
	file.offset += int64(n)
	if err == nil && n < len(p) {
		err = io.ErrShortWrite
	}
	return n, err
}

// Seek sets the offset for the next read or write.
func (file *File) Seek(offset int64, whence int) (int64, error) {
	if file.closed {
		return 0, errors.ErrInvalidFileDescriptor.WithMessage("file is closed")
	}

	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = file.offset
	case io.SeekEnd:
		stat, err := file.Stat()
		if err != nil {
			return 0, err
		}
		base = int64(stat.Size)
	default:
		return 0, errors.Errorf(errors.EINVAL, "invalid whence %d", whence)
	}

	target := base + offset
	if target < 0 || target > xv6fs.MaxFileBlocks*xv6fs.BlockSize {
		return 0, errors.Errorf(errors.EINVAL, "can't seek to offset %d", target)
	}
	if err := file.fs.Seek(file.fd, uint32(target)); err != nil {
		return 0, err
	}
	file.offset = target
	return target, nil
}

// Stat returns information about the open file.
func (file *File) Stat() (xv6fs.FileStat, error) {
	if file.closed {
		return xv6fs.FileStat{}, errors.ErrInvalidFileDescriptor.WithMessage("file is closed")
	}
	return file.fs.Fstat(file.fd)
}

// Close releases the descriptor. Closing a file twice fails with EBADF.
func (file *File) Close() error {
	if file.closed {
		return errors.ErrInvalidFileDescriptor.WithMessage("file is already closed")
	}
	file.closed = true
	return file.fs.Close(file.fd)
}
