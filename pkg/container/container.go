// Package container converts between collections of raw messages and standard mailbox files:
// mbox, babyl, mmdf, maildir, mh, and zip archives of eml, maildir or mh.
package container

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// Format is a container format tag.
type Format string

// Supported formats.  Directory formats are always exchanged as a zip of the directory tree.
const (
	EML        Format = "eml"
	Mbox       Format = "mbox"
	Babyl      Format = "babyl"
	MMDF       Format = "mmdf"
	Maildir    Format = "maildir"
	MH         Format = "mh"
	ZipEML     Format = "zip[eml]"
	ZipMaildir Format = "zip[maildir]"
	ZipMH      Format = "zip[mh]"
)

var (
	// ErrUnsupportedFormat indicates an unknown format tag, or a format that cannot be used in
	// the requested direction.
	ErrUnsupportedFormat = errors.New("unsupported container format")

	// ErrCorrupt indicates a container that does not have the shape its format requires.
	ErrCorrupt = errors.New("corrupt container")
)

// FormatError reports a container problem together with the format involved.
type FormatError struct {
	Format string
	Err    error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("container format %q: %v", e.Format, e.Err)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

// corrupt wraps a low level parse error as a FormatError matching ErrCorrupt.
func corrupt(f Format, err error) error {
	return &FormatError{Format: string(f), Err: fmt.Errorf("%w: %v", ErrCorrupt, err)}
}

var extensions = map[Format]string{
	EML:        ".eml",
	Mbox:       ".mbox",
	Babyl:      ".babyl",
	MMDF:       ".mmdf",
	Maildir:    ".zip",
	MH:         ".zip",
	ZipEML:     ".zip",
	ZipMaildir: ".zip",
	ZipMH:      ".zip",
}

// ParseFormat converts a case-insensitive tag into a Format.  Unknown tags are always an error.
func ParseFormat(tag string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(tag)))
	if _, ok := extensions[f]; !ok {
		return "", &FormatError{Format: tag, Err: ErrUnsupportedFormat}
	}
	return f, nil
}

// Formats lists every supported format, in a stable order.
func Formats() []Format {
	return []Format{EML, Mbox, Babyl, MMDF, Maildir, MH, ZipEML, ZipMaildir, ZipMH}
}

// Extension returns the file name extension for the format, including the dot.
func (f Format) Extension() string {
	return extensions[f]
}

// CanExport reports whether collections can be written in this format.
func (f Format) CanExport() bool {
	_, ok := extensions[f]
	return ok && f != EML
}

// Item is one message offered for export.
type Item struct {
	Name string
	Date time.Time
	Open func() (io.ReadCloser, error)
}

// ExportResult summarizes an export.  Skipped lists the items whose content could not be found.
type ExportResult struct {
	Written int
	Skipped []string
}
