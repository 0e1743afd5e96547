// Package driver ties a block store, a buffer cache and a file system together
// behind a path-based API similar to the [os] package.
package driver

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/dargueta/xv6fs"
	"github.com/dargueta/xv6fs/bcache"
	"github.com/dargueta/xv6fs/blockstore"
	"github.com/dargueta/xv6fs/config"
	"github.com/dargueta/xv6fs/disks"
	"github.com/dargueta/xv6fs/errors"
	"github.com/dargueta/xv6fs/fs"
	"github.com/hashicorp/go-multierror"
)

// Options configures a [Driver].
type Options struct {
	CacheSlots  int
	CachePolicy bcache.Policy
	InodeSlots  int
	FileSlots   int
	Logger      *slog.Logger
}

// OptionsFromConfig converts loaded settings into driver options.
func OptionsFromConfig(c config.Config, logger *slog.Logger) Options {
	return Options{
		CacheSlots:  c.CacheSlots,
		CachePolicy: c.Policy(),
		InodeSlots:  c.InodeSlots,
		FileSlots:   c.FileSlots,
		Logger:      logger,
	}
}

// Driver owns the whole stack for one image. It must be formatted or mounted
// before files can be accessed.
type Driver struct {
	store  blockstore.Store
	cache  *bcache.Cache
	fs     *fs.FileSystem
	opts   Options
	logger *slog.Logger
}

var _ xv6fs.Driver = (*Driver)(nil)

// New creates a driver for the image in `store`. The store is attached to a
// fresh buffer cache as [xv6fs.RootDevice].
func New(store blockstore.Store, options Options) (*Driver, error) {
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	options.Logger = logger

	cache := bcache.New(bcache.Options{
		Slots:  options.CacheSlots,
		Policy: options.CachePolicy,
		Logger: logger,
	})
	if err := cache.AttachDevice(xv6fs.RootDevice, store); err != nil {
		return nil, err
	}

	return &Driver{
		store:  store,
		cache:  cache,
		opts:   options,
		logger: logger.With("component", "driver"),
	}, nil
}

// OpenImage mounts the image file at `path`.
func OpenImage(path string, options Options) (*Driver, error) {
	store, err := blockstore.OpenFileStore(path, xv6fs.BlockSize)
	if err != nil {
		return nil, err
	}

	driver, err := New(store, options)
	if err == nil {
		err = driver.Mount()
	}
	if err != nil {
		store.Close()
		return nil, err
	}
	return driver, nil
}

// CreateImage creates (or overwrites) the image file at `path`, sized for
// `geometry`, and formats it.
func CreateImage(path string, geometry disks.Geometry, options Options) (*Driver, error) {
	if err := geometry.Validate(); err != nil {
		return nil, err
	}
	store, err := blockstore.CreateFileStore(path, geometry.TotalBlocks, xv6fs.BlockSize)
	if err != nil {
		return nil, err
	}

	driver, err := New(store, options)
	if err == nil {
		err = driver.Format(geometry)
	}
	if err != nil {
		store.Close()
		return nil, err
	}
	return driver, nil
}

func (driver *Driver) fsOptions() fs.Options {
	return fs.Options{
		InodeSlots: driver.opts.InodeSlots,
		FileSlots:  driver.opts.FileSlots,
		Logger:     driver.opts.Logger,
	}
}

// Format writes an empty file system with the given geometry and mounts it.
func (driver *Driver) Format(geometry disks.Geometry) error {
	if driver.fs != nil {
		return errors.ErrBusy.WithMessage("can't format a mounted image")
	}
	sb, err := fs.Format(driver.cache, xv6fs.RootDevice, geometry)
	if err != nil {
		return err
	}
	driver.logger.Info("formatted image",
		"geometry", geometry.Slug, "volume_id", sb.VolumeID.String())
	return driver.Mount()
}

// Mount reads the file system from the image.
func (driver *Driver) Mount() error {
	if driver.fs != nil {
		return errors.ErrBusy.WithMessage("image is already mounted")
	}
	fileSystem, err := fs.Mount(driver.cache, xv6fs.RootDevice, driver.fsOptions())
	if err != nil {
		return err
	}
	driver.fs = fileSystem
	return nil
}

// FileSystem returns the mounted file system, or an error if nothing is
// mounted.
func (driver *Driver) FileSystem() (*fs.FileSystem, error) {
	if driver.fs == nil {
		return nil, errors.ErrNoDevice.WithMessage("image is not mounted")
	}
	return driver.fs, nil
}

// Cache returns the buffer cache the image is attached to.
func (driver *Driver) Cache() *bcache.Cache {
	return driver.cache
}

// Flush writes all changes to the disk image.
func (driver *Driver) Flush() error {
	return driver.cache.Sync()
}

// Unmount flushes all changes to the disk image and frees all resources. If
// the store can be closed, it's closed too. The driver must not be used after
// this function is called.
func (driver *Driver) Unmount() error {
	var result error
	if driver.fs != nil {
		if err := driver.fs.Unmount(); err != nil {
			return err
		}
		driver.fs = nil
	}
	if err := driver.cache.DetachDevice(xv6fs.RootDevice); err != nil {
		result = multierror.Append(result, err)
	}
	if closer, ok := driver.store.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			result = multierror.Append(result, errors.ErrIOFailed.Wrap(err))
		}
	}
	return result
}

// NormalizePath converts `path` to a name in the root directory. Leading
// slashes are dropped. The file system has no subdirectories, so any other
// slash fails with ENOTDIR.
func NormalizePath(path string) (string, error) {
	name := strings.TrimLeft(path, "/")
	if name == "" {
		return "", errors.ErrIsADirectory.WithMessage(
			fmt.Sprintf("%q is the root directory", path))
	}
	if strings.Contains(name, "/") {
		return "", errors.ErrNotADirectory.WithMessage(
			fmt.Sprintf("%q: subdirectories aren't supported", path))
	}
	if err := fs.ValidateName(name); err != nil {
		return "", err
	}
	return name, nil
}

// OpenFile opens the file at `path` with the given flags.
func (driver *Driver) OpenFile(path string, flags xv6fs.OpenFlags) (io.ReadWriteCloser, error) {
	return driver.Open(path, flags)
}

// Open is like [Driver.OpenFile] but returns the concrete [File].
func (driver *Driver) Open(path string, flags xv6fs.OpenFlags) (*File, error) {
	fileSystem, err := driver.FileSystem()
	if err != nil {
		return nil, err
	}
	name, err := NormalizePath(path)
	if err != nil {
		return nil, err
	}

	fd, err := fileSystem.Open(name, flags)
	if err != nil {
		return nil, err
	}
	return &File{fs: fileSystem, fd: fd, name: name}, nil
}

// ReadFile returns the contents of the file at `path`.
func (driver *Driver) ReadFile(path string) ([]byte, error) {
	file, err := driver.Open(path, xv6fs.O_RDONLY)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(file)
}

// WriteFile replaces the contents of the file at `path` with `data`, creating
// the file if necessary. Files hold at most one block; anything larger fails
// with EFBIG before the file is touched.
func (driver *Driver) WriteFile(path string, data []byte) error {
	if len(data) > xv6fs.BlockSize {
		return errors.Errorf(
			errors.EFBIG,
			"%d bytes won't fit in a file, the limit is %d",
			len(data),
			xv6fs.BlockSize,
		)
	}

	file, err := driver.Open(path, xv6fs.O_CREATE|xv6fs.O_RDWR|xv6fs.O_TRUNC)
	if err != nil {
		return err
	}

	_, err = file.Write(data)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	return err
}

// Remove deletes the file at `path`.
func (driver *Driver) Remove(path string) error {
	fileSystem, err := driver.FileSystem()
	if err != nil {
		return err
	}
	name, err := NormalizePath(path)
	if err != nil {
		return err
	}
	return fileSystem.Unlink(name)
}

// ReadDir lists the root directory.
func (driver *Driver) ReadDir() ([]xv6fs.DirectoryEntry, error) {
	fileSystem, err := driver.FileSystem()
	if err != nil {
		return nil, err
	}
	return fileSystem.ReadDir()
}

// Stat returns information about the file at `path`.
func (driver *Driver) Stat(path string) (xv6fs.FileStat, error) {
	fileSystem, err := driver.FileSystem()
	if err != nil {
		return xv6fs.FileStat{}, err
	}
	name, err := NormalizePath(path)
	if err != nil {
		return xv6fs.FileStat{}, err
	}
	return fileSystem.Stat(name)
}
