// Package device provides access to the disk image under rescue. All
// reads are seek-and-read of exactly the requested range; nothing in this
// package ever scans the image, since the medium behind it may be slow,
// failing, or only partially copied.
package device

import (
	"fmt"
	"io"
	"os"
)

// Image is a raw disk image (or block device) opened read-only, with an
// optional partition offset for full-disk images.
type Image struct {
	file           *os.File
	size           int64
	partitionStart int64
}

// OpenImage opens the image file read-only. partitionStart is the byte
// offset of the filesystem partition within the image; zero for
// partition images.
func OpenImage(path string, partitionStart int64) (*Image, error) {
	if partitionStart < 0 {
		return nil, fmt.Errorf("negative partition start %d", partitionStart)
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat image: %w", err)
	}
	return &Image{file: file, size: stat.Size(), partitionStart: partitionStart}, nil
}

// ReadAt reads length bytes at the partition-relative offset. Short reads
// past the end of a truncated image file are zero padded: the rescue map,
// not the file length, decides whether bytes are trustworthy.
func (img *Image) ReadAt(off, length int64) ([]byte, error) {
	if off < 0 || length < 0 {
		return nil, fmt.Errorf("invalid read range [%d, %d)", off, off+length)
	}
	buf := make([]byte, length)
	n, err := img.file.ReadAt(buf, img.partitionStart+off)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("image read at %d failed: %w", img.partitionStart+off, err)
	}
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
	return buf, nil
}

// Size returns the image file size in bytes.
func (img *Image) Size() int64 { return img.size }

// PartitionStart returns the configured partition byte offset.
func (img *Image) PartitionStart() int64 { return img.partitionStart }

// Close releases the underlying file.
func (img *Image) Close() error { return img.file.Close() }
