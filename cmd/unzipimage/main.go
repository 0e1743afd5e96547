package main

import (
	"fmt"
	"os"

	"github.com/dargueta/xv6fs/utilities/compression"
	"github.com/dustin/go-humanize"
)

func main() {
	if len(os.Args) != 3 {
		fmt.Fprintf(
			os.Stderr,
			"Expand an image snapshot to a raw disk image.\nUsage: %s input-file output-file\n",
			os.Args[0])
		os.Exit(1)
	}

	sourceFilePath := os.Args[1]
	outputFilePath := os.Args[2]

	sourceFile, errSrc := os.Open(sourceFilePath)
	if errSrc != nil {
		fmt.Fprintf(
			os.Stderr, "Failed to open file for reading: `%v`: %s\n", sourceFilePath, errSrc)
		os.Exit(1)
	}
	defer sourceFile.Close()

	// The digest is only checked at the end, so expand into memory before
	// touching the output file.
	raw, err := compression.DecompressImageToBytes(sourceFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error expanding file: %s\n", err)
		os.Exit(2)
	}

	if err = os.WriteFile(outputFilePath, raw, 0o644); err != nil {
		fmt.Fprintf(
			os.Stderr, "Failed to write output file: `%v`: %s\n", outputFilePath, err)
		os.Exit(1)
	}

	fmt.Printf("Expanded snapshot to %s.\n", humanize.IBytes(uint64(len(raw))))
}
