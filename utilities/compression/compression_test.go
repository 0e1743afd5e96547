package compression_test

import (
	"bufio"
	"bytes"
	"crypto/rand"
	"io"
	"testing"

	"github.com/dargueta/xv6fs/errors"
	c "github.com/dargueta/xv6fs/utilities/compression"
	"github.com/noxer/bytewriter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type imageC9nTestRunner struct {
	Name     string
	Function func(t *testing.T, d []byte)
}

type imageC9nTestData struct {
	Name string
	Data []byte
}

// compressImageToBytes is a convenience function wrapping [CompressImage]. It
// functions identically, except it returns the compressed data in a new byte
// slice instead of writing to an [io.Writer].
func compressImageToBytes(t *testing.T, input io.Reader) []byte {
	buffer := bytes.Buffer{}
	writer := bufio.NewWriter(&buffer)
	_, err := c.CompressImage(input, writer)
	require.NoError(t, err, "error while compressing")
	require.NoError(t, writer.Flush())
	return buffer.Bytes()
}

func TestRoundTripImageCompression(t *testing.T) {
	testRunners := []imageC9nTestRunner{
		{"to_stream", runRoundTripCompressionTest},
		{"to_bytes", runRoundTripCompressionToBytesTest},
	}

	randomData := make([]byte, 119)
	rand.Read(randomData)

	// Mostly empty, like a freshly formatted volume.
	sparse := make([]byte, 128*512)
	copy(sparse[512:], []byte{0x40, 0x30, 0x20, 0x10, 0x80})
	copy(sparse[6*512:], randomData)

	testData := []imageC9nTestData{
		{"homogenous", bytes.Repeat([]byte{100}, 9174)},
		{"empty", []byte{}},
		{"heterogenous", randomData},
		{"sparse_image", sparse},
	}

	for _, runner := range testRunners {
		t.Run(
			runner.Name,
			func(tSub *testing.T) {
				for _, data := range testData {
					tSub.Run(
						data.Name,
						func(tSubSub *testing.T) {
							runner.Function(tSubSub, data.Data)
						},
					)
				}
			},
		)
	}
}

func runRoundTripCompressionTest(t *testing.T, sourceData []byte) {
	compressedBuffer := make([]byte, 10240)
	compressedWriter := bytewriter.New(compressedBuffer)

	compressedSize, err := c.CompressImage(bytes.NewReader(sourceData), compressedWriter)
	require.NoError(t, err, "unexpected error while compressing")
	t.Logf("image size after compression: %d -> %d", len(sourceData), compressedSize)

	decompressedBuffer := make([]byte, len(sourceData))
	decompressedWriter := bytewriter.New(decompressedBuffer)
	compressedReader := bytes.NewReader(compressedBuffer[:compressedSize])

	n, err := c.DecompressImage(compressedReader, decompressedWriter)
	require.NoError(t, err, "unexpected error while decompressing")
	assert.EqualValues(t, len(sourceData), n, "decompressed image has wrong size")
	assert.Equal(t, sourceData, decompressedBuffer, "decompressed data is wrong")
}

func runRoundTripCompressionToBytesTest(t *testing.T, originalData []byte) {
	compressed := compressImageToBytes(t, bytes.NewReader(originalData))
	t.Logf("image compressed %d -> %d", len(originalData), len(compressed))

	decompressed, err := c.DecompressImageToBytes(bytes.NewReader(compressed))
	require.NoError(t, err, "error while decompressing")

	assert.Equal(
		t, len(originalData), len(decompressed), "decompressed data length is wrong")
	if len(originalData) > 0 {
		assert.Equal(t, originalData, decompressed, "decompressed data is wrong")
	}
}

func TestCompressImage__SparseImageShrinks(t *testing.T) {
	compressed := compressImageToBytes(t, bytes.NewReader(make([]byte, 2000*512)))
	assert.Less(t, len(compressed), 200)
}

func TestDecompressImage__NotASnapshot(t *testing.T) {
	_, err := c.DecompressImageToBytes(bytes.NewReader(bytes.Repeat([]byte{7}, 100)))
	assert.ErrorIs(t, err, errors.ErrWrongMediumType)

	_, err = c.DecompressImageToBytes(bytes.NewReader([]byte("xv6")))
	assert.ErrorIs(t, err, errors.ErrWrongMediumType)
}

func TestDecompressImage__DigestMismatch(t *testing.T) {
	original := bytes.Repeat([]byte("some file system data "), 200)
	compressed := compressImageToBytes(t, bytes.NewReader(original))

	// Byte 16 is the first byte of the digest.
	compressed[16] ^= 0xFF

	_, err := c.DecompressImageToBytes(bytes.NewReader(compressed))
	assert.ErrorIs(t, err, errors.ErrFileSystemCorrupted)
	assert.Equal(t, errors.ClassConsistency, errors.Classify(err))
}

func TestDecompressImage__SizeMismatch(t *testing.T) {
	compressed := compressImageToBytes(t, bytes.NewReader(make([]byte, 4096)))

	// Byte 8 is the low byte of the raw size.
	compressed[8]++

	_, err := c.DecompressImageToBytes(bytes.NewReader(compressed))
	assert.ErrorIs(t, err, errors.ErrFileSystemCorrupted)
}

func TestDecompressImage__TruncatedStream(t *testing.T) {
	original := make([]byte, 8192)
	rand.Read(original)
	compressed := compressImageToBytes(t, bytes.NewReader(original))

	_, err := c.DecompressImageToBytes(bytes.NewReader(compressed[:len(compressed)/2]))
	assert.Error(t, err)
}
