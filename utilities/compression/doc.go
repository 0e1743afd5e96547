// Package compression packs file system images into compact snapshots.
//
// Images are broken up into 512-byte blocks, and a freshly formatted volume is
// almost entirely zeroes. Snapshots run-length encode the raw image first, then
// compress the result with zstd. Run-length encoding alone removes most of the
// dead space; zstd then squeezes the repetitive run headers down to a few
// dozen bytes.
//
// There are a variety of run-length encodings; this package uses the one from
// the Microsoft BMP file format, also known as RLE8. If a byte B occurs N times
// where N >= 2, B is written twice, followed by a third (unsigned) byte
// indicating how many additional times B occurred. For example:
//
//	WXXXXXXXXXXXXXXXYZZ
//	W XX 13 Y ZZ 0
//
// This lets one group represent a run of up to 257 bytes. Longer runs are split
// into several groups, so a run of 300 "X" is `XX 255 XX 41`. Since a byte is
// its own escape sequence, a byte occurring exactly twice takes three bytes.
//
// A snapshot starts with a fixed header: the magic "xv6z", a format version,
// the size of the raw image and its BLAKE3 digest. Decompression checks both
// against the expanded image, so a damaged snapshot is reported instead of
// being restored onto a device.
package compression
