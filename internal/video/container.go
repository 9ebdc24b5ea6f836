package video

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

var ebmlMagic = []byte{0x1a, 0x45, 0xdf, 0xa3}

// VerifyContainer checks that path starts with an ISO-BMFF (MP4/MOV) or
// Matroska/WebM signature.
func VerifyContainer(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open output: %w", err)
	}
	defer f.Close()

	head := make([]byte, 12)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF {
		return fmt.Errorf("read output header: %w", err)
	}
	head = head[:n]

	switch {
	case len(head) >= 8 && bytes.Equal(head[4:8], []byte("ftyp")):
		return nil
	case len(head) >= 4 && bytes.Equal(head[:4], ebmlMagic):
		return nil
	}
	return fmt.Errorf("%s: unrecognized container signature", path)
}
