package driver_test

import (
	"bytes"
	"io"
	"path/filepath"
	"testing"

	"github.com/dargueta/xv6fs"
	"github.com/dargueta/xv6fs/blockstore"
	"github.com/dargueta/xv6fs/disks"
	"github.com/dargueta/xv6fs/driver"
	"github.com/dargueta/xv6fs/errors"
	dt "github.com/dargueta/xv6fs/testing"
	"github.com/dargueta/xv6fs/utilities/compression"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFormattedDriver(t *testing.T, slug string) *driver.Driver {
	geometry, err := disks.GetPredefinedGeometry(slug)
	require.NoError(t, err)

	store := blockstore.NewMemoryStore(geometry.TotalBlocks, xv6fs.BlockSize)
	d, err := driver.New(store, driver.Options{Logger: dt.DiscardLogger()})
	require.NoError(t, err)
	require.NoError(t, d.Format(geometry))
	return d
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		Path     string
		Expected string
		Error    error
	}{
		{"a.txt", "a.txt", nil},
		{"/a.txt", "a.txt", nil},
		{"//a.txt", "a.txt", nil},
		{"/", "", errors.ErrIsADirectory},
		{"", "", errors.ErrIsADirectory},
		{"/dir/a.txt", "", errors.ErrNotADirectory},
		{"a.txt/", "", errors.ErrNotADirectory},
		{"/..", "", errors.ErrInvalidArgument},
		{"/abcdefghijklmnop", "", errors.ErrNameTooLong},
	}

	for _, test := range tests {
		t.Run(test.Path, func(t *testing.T) {
			name, err := driver.NormalizePath(test.Path)
			if test.Error != nil {
				assert.ErrorIs(t, err, test.Error)
			} else {
				require.NoError(t, err)
				assert.Equal(t, test.Expected, name)
			}
		})
	}
}

func TestWriteFile__ReadFile(t *testing.T) {
	d := newFormattedDriver(t, "tiny")

	require.NoError(t, d.WriteFile("/a.txt", []byte{1, 2, 3, 4, 5}))
	data, err := d.ReadFile("a.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4, 5}, data)

	// Rewriting replaces the old contents rather than overwriting a prefix.
	require.NoError(t, d.WriteFile("a.txt", []byte{9}))
	data, err = d.ReadFile("a.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte{9}, data)

	stat, err := d.Stat("/a.txt")
	require.NoError(t, err)
	assert.EqualValues(t, 1, stat.Size)
	assert.False(t, stat.IsDir())
}

func TestWriteFile__TooLarge(t *testing.T) {
	d := newFormattedDriver(t, "tiny")

	err := d.WriteFile("big", make([]byte, xv6fs.BlockSize+1))
	assert.ErrorIs(t, err, errors.ErrFileTooLarge)

	_, err = d.Stat("big")
	assert.ErrorIs(t, err, errors.ErrNotFound, "failed write created the file")

	require.NoError(t, d.WriteFile("exact", make([]byte, xv6fs.BlockSize)))
}

func TestReadFile__Missing(t *testing.T) {
	d := newFormattedDriver(t, "tiny")
	_, err := d.ReadFile("missing.txt")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestRemove(t *testing.T) {
	d := newFormattedDriver(t, "tiny")
	require.NoError(t, d.WriteFile("a", []byte("a")))
	require.NoError(t, d.WriteFile("b", []byte("b")))

	require.NoError(t, d.Remove("/a"))
	entries, err := d.ReadDir()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "b", entries[0].Name)

	assert.ErrorIs(t, d.Remove("a"), errors.ErrNotFound)
	assert.ErrorIs(t, d.Remove("x/y"), errors.ErrNotADirectory)
}

func TestFile__Streaming(t *testing.T) {
	d := newFormattedDriver(t, "tiny")

	file, err := d.Open("stream", xv6fs.O_CREATE|xv6fs.O_RDWR)
	require.NoError(t, err)
	assert.Equal(t, "stream", file.Name())

	n, err := file.Write([]byte("hello, world"))
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	pos, err := file.Seek(7, io.SeekStart)
	require.NoError(t, err)
	assert.EqualValues(t, 7, pos)

	rest, err := io.ReadAll(file)
	require.NoError(t, err)
	assert.Equal(t, "world", string(rest))

	pos, err = file.Seek(-5, io.SeekEnd)
	require.NoError(t, err)
	assert.EqualValues(t, 7, pos)
	_, err = file.Write([]byte("there"))
	require.NoError(t, err)

	pos, err = file.Seek(-12, io.SeekCurrent)
	require.NoError(t, err)
	assert.EqualValues(t, 0, pos)
	all, err := io.ReadAll(file)
	require.NoError(t, err)
	assert.Equal(t, "hello, there", string(all))

	_, err = file.Seek(-1, io.SeekStart)
	assert.ErrorIs(t, err, errors.ErrInvalidArgument)

	require.NoError(t, file.Close())
	assert.ErrorIs(t, file.Close(), errors.ErrInvalidFileDescriptor)
	_, err = file.Read(make([]byte, 1))
	assert.ErrorIs(t, err, errors.ErrInvalidFileDescriptor)
}

func TestFile__ShortWrite(t *testing.T) {
	d := newFormattedDriver(t, "tiny")

	file, err := d.Open("short", xv6fs.O_CREATE|xv6fs.O_RDWR)
	require.NoError(t, err)
	defer file.Close()

	_, err = file.Seek(500, io.SeekStart)
	require.NoError(t, err)
	n, err := file.Write(bytes.Repeat([]byte{1}, 20))
	assert.Equal(t, 12, n)
	assert.ErrorIs(t, err, io.ErrShortWrite)

	_, err = file.Write([]byte{1})
	assert.ErrorIs(t, err, errors.ErrFileTooLarge)
}

func TestOpenFile__ReadOnly(t *testing.T) {
	d := newFormattedDriver(t, "tiny")
	require.NoError(t, d.WriteFile("ro", []byte("data")))

	rwc, err := d.OpenFile("ro", xv6fs.O_RDONLY)
	require.NoError(t, err)
	defer rwc.Close()

	_, err = rwc.Write([]byte("x"))
	assert.ErrorIs(t, err, errors.ErrInvalidFileDescriptor)
}

func TestDriver__NotMounted(t *testing.T) {
	store := blockstore.NewMemoryStore(128, xv6fs.BlockSize)
	d, err := driver.New(store, driver.Options{})
	require.NoError(t, err)

	_, err = d.ReadDir()
	assert.ErrorIs(t, err, errors.ErrNoDevice)
	assert.ErrorIs(t, d.Mount(), errors.ErrWrongMediumType)
	require.NoError(t, d.Unmount())
}

func TestDriver__AlreadyMounted(t *testing.T) {
	d := newFormattedDriver(t, "tiny")
	assert.ErrorIs(t, d.Mount(), errors.ErrBusy)

	geometry, err := disks.GetPredefinedGeometry("tiny")
	require.NoError(t, err)
	assert.ErrorIs(t, d.Format(geometry), errors.ErrBusy)
}

func TestUnmount__OpenFile(t *testing.T) {
	d := newFormattedDriver(t, "tiny")
	file, err := d.Open("held", xv6fs.O_CREATE)
	require.NoError(t, err)

	assert.ErrorIs(t, d.Unmount(), errors.ErrBusy)
	require.NoError(t, file.Close())
	require.NoError(t, d.Unmount())
}

func TestImageFile__SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	geometry, err := disks.GetPredefinedGeometry("small")
	require.NoError(t, err)

	d, err := driver.CreateImage(path, geometry, driver.Options{Logger: dt.DiscardLogger()})
	require.NoError(t, err)
	require.NoError(t, d.WriteFile("notes.txt", []byte("remember me")))
	require.NoError(t, d.Unmount())

	d, err = driver.OpenImage(path, driver.Options{Logger: dt.DiscardLogger()})
	require.NoError(t, err)
	defer d.Unmount()

	data, err := d.ReadFile("notes.txt")
	require.NoError(t, err)
	assert.Equal(t, "remember me", string(data))

	fileSystem, err := d.FileSystem()
	require.NoError(t, err)
	assert.EqualValues(t, geometry.TotalBlocks, fileSystem.Superblock().Size)
}

func TestOpenImage__Missing(t *testing.T) {
	_, err := driver.OpenImage(filepath.Join(t.TempDir(), "nope.img"), driver.Options{})
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestSnapshot__RestoresIntoStream(t *testing.T) {
	geometry, err := disks.GetPredefinedGeometry("tiny")
	require.NoError(t, err)
	store := blockstore.NewMemoryStore(geometry.TotalBlocks, xv6fs.BlockSize)

	d, err := driver.New(store, driver.Options{Logger: dt.DiscardLogger()})
	require.NoError(t, err)
	require.NoError(t, d.Format(geometry))
	require.NoError(t, d.WriteFile("saved", []byte("snapshot me")))
	require.NoError(t, d.Unmount())

	var snapshot bytes.Buffer
	_, err = compression.CompressImage(bytes.NewReader(store.Bytes()), &snapshot)
	require.NoError(t, err)
	t.Logf("snapshot of %d blocks is %d bytes", geometry.TotalBlocks, snapshot.Len())

	stream := dt.LoadDiskImage(
		t, snapshot.Bytes(), xv6fs.BlockSize, uint(geometry.TotalBlocks))
	restoredStore, err := blockstore.WrapStream(stream, xv6fs.BlockSize)
	require.NoError(t, err)

	restored, err := driver.New(restoredStore, driver.Options{Logger: dt.DiscardLogger()})
	require.NoError(t, err)
	require.NoError(t, restored.Mount())
	defer restored.Unmount()

	data, err := restored.ReadFile("saved")
	require.NoError(t, err)
	assert.Equal(t, "snapshot me", string(data))
}
