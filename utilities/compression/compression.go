package compression

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/dargueta/xv6fs/errors"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"
)

// snapshotMagic starts every compressed image.
var snapshotMagic = [4]byte{'x', 'v', '6', 'z'}

const snapshotVersion = 1

// snapshotHeader precedes the zstd stream. RawSize and Digest describe the
// uncompressed image.
type snapshotHeader struct {
	Magic    [4]byte
	Version  uint8
	Reserved [3]byte
	RawSize  uint64
	Digest   [32]byte
}

// countingWriter counts the bytes that pass through it.
type countingWriter struct {
	w     io.Writer
	count int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.count += int64(n)
	return n, err
}

// CompressImage compresses a disk image using RLE8 and zstd, behind a header
// recording the image's size and BLAKE3 digest.
//
// The returned int64 gives the number of bytes written to the output stream. If
// an error occurred, the value is undefined and should not be used.
func CompressImage(input io.Reader, output io.Writer) (int64, error) {
	raw, err := io.ReadAll(input)
	if err != nil {
		return 0, errors.ErrIOFailed.Wrap(err)
	}

	header := snapshotHeader{
		Magic:   snapshotMagic,
		Version: snapshotVersion,
		RawSize: uint64(len(raw)),
		Digest:  blake3.Sum256(raw),
	}

	counter := &countingWriter{w: output}
	if err = binary.Write(counter, binary.LittleEndian, &header); err != nil {
		return counter.count, err
	}

	// The images are small, so the best level costs little.
	encoder, err := zstd.NewWriter(counter, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	if err != nil {
		return counter.count, err
	}

	_, err = CompressRLE8(bytes.NewReader(raw), encoder)
	if closeErr := encoder.Close(); err == nil {
		err = closeErr
	}
	return counter.count, err
}

// DecompressImage takes an image written by [CompressImage] and decompresses it
// to the original raw bytes. If the size or digest of the result don't match
// the header, it fails with EUCLEAN; the output may have been partially
// written by then.
//
// The returned int64 gives the number of bytes written to the output (i.e. the
// decompressed size of the image). If an error occurred, the value is undefined
// and should not be used.
func DecompressImage(input io.Reader, output io.Writer) (int64, error) {
	var header snapshotHeader
	err := binary.Read(input, binary.LittleEndian, &header)
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return 0, errors.ErrWrongMediumType.WithMessage(
				"input is too short to be a compressed image")
		}
		return 0, errors.ErrIOFailed.Wrap(err)
	}
	if header.Magic != snapshotMagic {
		return 0, errors.ErrWrongMediumType.WithMessage("not a compressed image")
	}
	if header.Version != snapshotVersion {
		return 0, errors.Errorf(
			errors.ENOTSUP, "unsupported image version %d", header.Version)
	}

	decoder, err := zstd.NewReader(input)
	if err != nil {
		return 0, err
	}
	defer decoder.Close()

	hasher := blake3.New()
	n, err := DecompressRLE8(decoder, io.MultiWriter(output, hasher))
	if err != nil {
		if errors.ErrnoOf(err) == errors.EIO {
			// zstd framing errors surface from the reader as plain errors.
			return n, errors.ErrFileSystemCorrupted.Wrap(err)
		}
		return n, err
	}

	if uint64(n) != header.RawSize {
		return n, errors.Errorf(
			errors.EUCLEAN,
			"image decompressed to %d bytes, header says %d",
			n,
			header.RawSize,
		)
	}

	var digest [32]byte
	copy(digest[:], hasher.Sum(nil))
	if digest != header.Digest {
		return n, errors.NewWithMessage(
			errors.EUCLEAN, "image digest doesn't match its contents")
	}
	return n, nil
}

// DecompressImageToBytes is a convenience function wrapping [DecompressImage].
// It returns the decompressed image in a new byte slice instead of writing to
// an [io.Writer].
func DecompressImageToBytes(input io.Reader) ([]byte, error) {
	var buffer bytes.Buffer
	_, err := DecompressImage(input, &buffer)
	if err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}
