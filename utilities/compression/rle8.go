package compression

import (
	"bufio"
	"bytes"
	"io"

	"github.com/dargueta/xv6fs/errors"
)

// maxRunPerGroup is the longest run one RLE8 group can encode: the byte twice
// plus 255 more.
const maxRunPerGroup = 257

// byteRun is a single run of one byte value. length is at least 1 for a valid
// run.
type byteRun struct {
	value  byte
	length int
}

// runReader splits a byte stream into runs of identical bytes.
type runReader struct {
	rd *bufio.Reader
}

func newRunReader(rd io.Reader) runReader {
	return runReader{rd: bufio.NewReader(rd)}
}

// next returns the next run in the stream, or io.EOF when the stream is
// exhausted.
func (r runReader) next() (byteRun, error) {
	first, err := r.rd.ReadByte()
	if err != nil {
		return byteRun{}, err
	}

	run := byteRun{value: first, length: 1}
	for {
		current, err := r.rd.ReadByte()
		if err == io.EOF {
			return run, nil
		} else if err != nil {
			return byteRun{}, err
		}
		if current != first {
			r.rd.UnreadByte()
			return run, nil
		}
		run.length++
	}
}

// CompressRLE8 reads bytes from `input` and writes RLE8-encoded data to
// `output` until the input is exhausted. The return value is the number of
// bytes written.
func CompressRLE8(input io.Reader, output io.Writer) (int64, error) {
	runs := newRunReader(input)
	written := int64(0)

	for {
		run, err := runs.next()
		if err == io.EOF {
			return written, nil
		} else if err != nil {
			return written, err
		}

		for run.length >= 2 {
			chunk := run.length
			if chunk > maxRunPerGroup {
				chunk = maxRunPerGroup
			}

			n, err := output.Write([]byte{run.value, run.value, byte(chunk - 2)})
			written += int64(n)
			if err != nil {
				return written, err
			}
			run.length -= chunk
		}

		if run.length == 1 {
			n, err := output.Write([]byte{run.value})
			written += int64(n)
			if err != nil {
				return written, err
			}
		}
	}
}

// DecompressRLE8 expands RLE8-encoded data from `input` into `output`. The
// return value is the number of bytes written. A stream that ends between a
// doubled byte and its repeat count fails with an error wrapping
// [io.ErrUnexpectedEOF].
func DecompressRLE8(input io.Reader, output io.Writer) (int64, error) {
	source := bufio.NewReader(input)
	previous := -1
	written := int64(0)

	for {
		current, err := source.ReadByte()
		if err == io.EOF {
			return written, nil
		} else if err != nil {
			return written, errors.ErrIOFailed.Wrap(err)
		}

		var expanded []byte
		if int(current) == previous {
			count, err := source.ReadByte()
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			if err != nil {
				return written, errors.ErrFileSystemCorrupted.Wrap(err).WithMessage(
					"missing repeat count after a doubled byte")
			}

			// The first copy of the byte was already written on the previous
			// iteration.
			expanded = bytes.Repeat([]byte{current}, int(count)+1)
			previous = -1
		} else {
			previous = int(current)
			expanded = []byte{current}
		}

		n, err := output.Write(expanded)
		written += int64(n)
		if err != nil {
			return written, err
		}
	}
}
