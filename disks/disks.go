// Package disks holds the predefined volume geometries that can be used when
// formatting an image.
package disks

import (
	_ "embed"
	"encoding/csv"
	"fmt"
	"sort"
	"strings"

	"github.com/dargueta/xv6fs"
	"github.com/dargueta/xv6fs/errors"
	"github.com/gocarina/gocsv"
)

// DefaultSlug is the geometry used when none is specified.
const DefaultSlug = "xv6-default"

// Geometry describes how a volume is divided into regions. Block 0 is the boot
// block and block 1 is the superblock; the log, inode table, bitmap and data
// regions follow in that order.
type Geometry struct {
	Name        string `csv:"name"`
	Slug        string `csv:"slug"`
	TotalBlocks uint32 `csv:"total_blocks"`
	// Inodes is the number of inodes in the inode table, including the unused
	// inode 0.
	Inodes    uint32 `csv:"inodes"`
	LogBlocks uint32 `csv:"log_blocks"`
	Notes     string `csv:"notes"`
}

// InodeBlocks is the number of blocks taken up by the inode table.
func (g Geometry) InodeBlocks() uint32 {
	return (g.Inodes + xv6fs.InodesPerBlock - 1) / xv6fs.InodesPerBlock
}

// BitmapBlocks is the number of blocks needed for the free block bitmap.
func (g Geometry) BitmapBlocks() uint32 {
	return (g.TotalBlocks + xv6fs.BitsPerBlock - 1) / xv6fs.BitsPerBlock
}

// MetadataBlocks is the number of blocks before the first data block.
func (g Geometry) MetadataBlocks() uint32 {
	return 2 + g.LogBlocks + g.InodeBlocks() + g.BitmapBlocks()
}

// DataBlocks is the number of blocks available for file contents.
func (g Geometry) DataBlocks() uint32 {
	meta := g.MetadataBlocks()
	if meta >= g.TotalBlocks {
		return 0
	}
	return g.TotalBlocks - meta
}

// TotalSizeBytes gives the size of the image file.
func (g Geometry) TotalSizeBytes() int64 {
	return int64(g.TotalBlocks) * xv6fs.BlockSize
}

// Validate checks that a volume with this geometry can hold at least the root
// directory.
func (g Geometry) Validate() error {
	if g.Inodes < 2 {
		return errors.Errorf(
			errors.EINVAL, "geometry %q needs at least 2 inodes, got %d", g.Slug, g.Inodes)
	}
	if g.DataBlocks() < 2 {
		return errors.Errorf(
			errors.EINVAL,
			"geometry %q leaves %d data blocks after %d metadata blocks",
			g.Slug,
			g.DataBlocks(),
			g.MetadataBlocks(),
		)
	}
	return nil
}

//go:embed geometries.csv
var geometriesRawCSV string
var geometries map[string]Geometry

// GetPredefinedGeometry returns the geometry with the given slug.
func GetPredefinedGeometry(slug string) (Geometry, error) {
	geometry, ok := geometries[slug]
	if ok {
		return geometry, nil
	}
	return Geometry{}, errors.Errorf(
		errors.ENOENT, "no predefined geometry exists with slug %q", slug)
}

// Slugs returns the slugs of every predefined geometry, sorted.
func Slugs() []string {
	slugs := make([]string, 0, len(geometries))
	for slug := range geometries {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)
	return slugs
}

func init() {
	csvReader := csv.NewReader(strings.NewReader(geometriesRawCSV))
	csvReader.Comma = '|'

	var rows []Geometry
	if err := gocsv.UnmarshalCSV(csvReader, &rows); err != nil {
		panic(fmt.Errorf("failed to decode geometry table: %w", err))
	}

	geometries = make(map[string]Geometry, len(rows))
	for i, row := range rows {
		_, exists := geometries[row.Slug]
		if exists {
			panic(fmt.Errorf(
				"duplicate definition for geometry %q found on row %d", row.Slug, i+1))
		}
		if err := row.Validate(); err != nil {
			panic(err)
		}
		geometries[row.Slug] = row
	}
}
