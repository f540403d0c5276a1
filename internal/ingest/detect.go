package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/amperelab/cellkit/internal/cellerr"
)

// Format tags the supported source formats.
type Format string

const (
	// FormatText is a delimited text export.
	FormatText Format = "text"
	// FormatMPR is a module-structured binary export.
	FormatMPR Format = "mpr"
	// FormatRES is an Access-container export read via an external
	// conversion utility.
	FormatRES Format = "res"
	// FormatXLSX is an Excel workbook export.
	FormatXLSX Format = "xlsx"
)

var (
	// mprMagic opens every module-structured binary export.
	mprMagic = []byte("MODULE")
	// oleMagic is the compound-file header shared by Access containers.
	oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
	// zipMagic opens xlsx workbooks (they are zip archives).
	zipMagic = []byte{'P', 'K', 0x03, 0x04}
)

// Detect sniffs the file header and returns the format tag, or an
// UnsupportedFormatError when the structure is not recognised.
func Detect(path string) (Format, error) {
	f, err := FS.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s for detection: %w", path, err)
	}
	defer f.Close()

	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	switch {
	case errors.Is(err, io.EOF):
		return "", &cellerr.UnsupportedFormatError{Path: path, Diagnostic: "empty file", Err: err}
	case err != nil && !errors.Is(err, io.ErrUnexpectedEOF):
		return "", fmt.Errorf("reading %s header: %w", path, err)
	}
	head = head[:n]

	switch {
	case bytes.HasPrefix(head, mprMagic):
		return FormatMPR, nil
	case bytes.HasPrefix(head, oleMagic):
		return FormatRES, nil
	case bytes.HasPrefix(head, zipMagic):
		return FormatXLSX, nil
	case looksLikeText(head):
		return FormatText, nil
	}
	return "", &cellerr.UnsupportedFormatError{Path: path, Diagnostic: "unrecognised file header"}
}

// looksLikeText accepts headers that decode as UTF-8 without NUL bytes.
func looksLikeText(head []byte) bool {
	if bytes.IndexByte(head, 0x00) >= 0 {
		return false
	}
	// Trailing bytes may cut a rune; trim up to 3 bytes before checking.
	for i := 0; i < 4 && len(head) > 0; i++ {
		if utf8.Valid(head) {
			return true
		}
		head = head[:len(head)-1]
	}
	return false
}
