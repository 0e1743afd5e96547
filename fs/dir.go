package fs

import (
	"fmt"

	"github.com/dargueta/xv6fs"
	"github.com/dargueta/xv6fs/errors"
)

// The root directory is an array of fixed-size entries stored as the root
// inode's contents. An entry with inode number 0 is unused. All functions here
// require the root inode to be locked.

func (fs *FileSystem) readDirent(dp *Inode, offset uint32) (dirent, error) {
	raw := make([]byte, xv6fs.DirentSize)
	n, err := fs.readi(dp, raw, offset)
	if err != nil {
		return dirent{}, err
	}
	if n != xv6fs.DirentSize {
		return dirent{}, errors.Errorf(
			errors.EUCLEAN, "short directory entry at offset %d", offset)
	}
	return decodeDirent(raw), nil
}

// dirLookup returns the inode number of `name` and the offset of its entry,
// or an error with ENOENT.
func (fs *FileSystem) dirLookup(dp *Inode, name string) (uint32, uint32, error) {
	for offset := uint32(0); offset+xv6fs.DirentSize <= dp.disk.Size; offset += xv6fs.DirentSize {
		entry, err := fs.readDirent(dp, offset)
		if err != nil {
			return 0, 0, err
		}
		if entry.Inum != 0 && entry.name() == name {
			return uint32(entry.Inum), offset, nil
		}
	}
	return 0, 0, errors.Errorf(errors.ENOENT, "%q not found", name)
}

// dirLink adds an entry for `name`, reusing the first empty slot if there is
// one.
func (fs *FileSystem) dirLink(dp *Inode, name string, inum uint32) error {
	if _, _, err := fs.dirLookup(dp, name); err == nil {
		return errors.Errorf(errors.EEXIST, "%q already exists", name)
	} else if errors.ErrnoOf(err) != errors.ENOENT {
		return err
	}

	offset := dp.disk.Size
	for off := uint32(0); off+xv6fs.DirentSize <= dp.disk.Size; off += xv6fs.DirentSize {
		entry, err := fs.readDirent(dp, off)
		if err != nil {
			return err
		}
		if entry.Inum == 0 {
			offset = off
			break
		}
	}

	entry := newDirent(inum, name)
	n, err := fs.writei(dp, entry.encode(), offset)
	if err != nil {
		return err
	}
	if n != xv6fs.DirentSize {
		return errors.Errorf(errors.EIO, "dirlink: short write of entry for %q", name)
	}
	return nil
}

// dirUnlink clears the entry at `offset`.
func (fs *FileSystem) dirUnlink(dp *Inode, offset uint32) error {
	empty := dirent{}
	_, err := fs.writei(dp, empty.encode(), offset)
	return err
}

func (fs *FileSystem) dirList(dp *Inode) ([]xv6fs.DirectoryEntry, error) {
	var entries []xv6fs.DirectoryEntry
	for offset := uint32(0); offset+xv6fs.DirentSize <= dp.disk.Size; offset += xv6fs.DirentSize {
		entry, err := fs.readDirent(dp, offset)
		if err != nil {
			return nil, err
		}
		if entry.Inum != 0 {
			entries = append(entries, xv6fs.DirectoryEntry{
				Name:  entry.name(),
				Inode: uint32(entry.Inum),
			})
		}
	}
	return entries, nil
}

func (fs *FileSystem) lockRoot() (*Inode, error) {
	if fs.root == nil {
		return nil, errors.NewWithMessage(errors.ENODEV, "file system is not mounted")
	}
	if err := fs.Ilock(fs.root); err != nil {
		return nil, fmt.Errorf("locking root directory: %w", err)
	}
	return fs.root, nil
}
