package xv6fs

import "strings"

const (
	S_IXOTH = 1 << iota // 00001
	S_IWOTH = 1 << iota // 00002
	S_IROTH = 1 << iota
	S_IXGRP = 1 << iota
	S_IWGRP = 1 << iota // 00010
	S_IRGRP = 1 << iota
	S_IXUSR = 1 << iota
	S_IWUSR = 1 << iota
	S_IRUSR = 1 << iota // 00100
)

const S_IFCHR = 0x2000
const S_IFDIR = 0x4000
const S_IFREG = 0x8000
const S_IFMT = 0xf000

const S_IRWXO = S_IXOTH | S_IWOTH | S_IROTH
const S_IRWXG = S_IXGRP | S_IWGRP | S_IRGRP
const S_IRWXU = S_IXUSR | S_IWUSR | S_IRUSR

// OpenFlags controls how a file is opened. A descriptor is always readable;
// O_RDWR additionally makes it writable.
type OpenFlags int

const O_RDONLY OpenFlags = 0

const (
	O_CREATE OpenFlags = 1 << iota
	O_RDWR
	O_TRUNC
)

// Writable returns true if a descriptor opened with these flags may be written to.
func (f OpenFlags) Writable() bool {
	return f&O_RDWR != 0
}

// Create returns true if the file should be created when it doesn't exist.
func (f OpenFlags) Create() bool {
	return f&O_CREATE != 0
}

// Truncate returns true if an existing file should be emptied on open.
func (f OpenFlags) Truncate() bool {
	return f&O_TRUNC != 0
}

func (f OpenFlags) String() string {
	parts := []string{"O_RDONLY"}
	if f.Writable() {
		parts[0] = "O_RDWR"
	}
	if f.Create() {
		parts = append(parts, "O_CREATE")
	}
	if f.Truncate() {
		parts = append(parts, "O_TRUNC")
	}
	return strings.Join(parts, "|")
}
