package client

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // registers the GIF decoder for .image
	_ "image/jpeg" // registers the JPEG decoder for .image
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	imagesDir       = "images"
	filesDir        = "files"
	defaultFilename = "unknown.bin"
	timestampLayout = "2006-01-02-15:04:05"
)

// ErrFileOperation marks failures reading or writing local files. They are
// reported to the user without ending the session.
var ErrFileOperation = errors.New("file operation failed")

// Basename strips any directory part from a sender-provided file name so a
// received file can never be written outside its directory.
func Basename(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	switch base {
	case "", ".", "..", "/":
		return defaultFilename
	}
	return base
}

// imageFilename names a received image after the time it arrived.
func imageFilename(now time.Time) string {
	return now.Format(timestampLayout) + ".png"
}

// saveReceived writes data to dir/name, creating dir when needed, and
// returns the path written.
func saveReceived(dir, name string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: create directory %s: %w", ErrFileOperation, dir, err)
	}
	path := filepath.Join(dir, Basename(name))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("%w: write %s: %w", ErrFileOperation, path, err)
	}
	return path, nil
}

// readFile reads a file to send.
func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFileOperation, err)
	}
	return data, nil
}

// readImage reads an image to send. PNG files are sent as they are; any
// other decodable format is converted to PNG first.
func readImage(path string) ([]byte, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(filepath.Ext(path), ".png") {
		return data, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", ErrFileOperation, path, err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("%w: encode %s as png: %w", ErrFileOperation, path, err)
	}
	return buf.Bytes(), nil
}
