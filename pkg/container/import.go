package container

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/emersion/go-mbox"
)

// Visitor receives the raw bytes of each imported message.  Returning an error stops the import.
type Visitor func(raw []byte) error

// ImportFile opens path and imports it, see Import.
func ImportFile(ctx context.Context, path string, format Format, visit Visitor) (int, error) {
	format, err := ParseFormat(string(format))
	if err != nil {
		return 0, err
	}
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = f.Close()
	}()
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return Import(ctx, f, info.Size(), format, visit)
}

// Import reads the container held by r and calls visit for every message in it, returning the
// number of messages visited.  A container that does not match its format is reported as a
// FormatError wrapping ErrCorrupt.
func Import(ctx context.Context, r io.ReaderAt, size int64, format Format, visit Visitor) (int, error) {
	format, err := ParseFormat(string(format))
	if err != nil {
		return 0, err
	}
	im := &importer{ctx: ctx, visit: visit, format: format}
	switch format {
	case EML:
		err = im.eml(io.NewSectionReader(r, 0, size))
	case Mbox:
		err = im.mbox(io.NewSectionReader(r, 0, size))
	case Babyl:
		err = im.babyl(io.NewSectionReader(r, 0, size))
	case MMDF:
		err = im.mmdf(io.NewSectionReader(r, 0, size))
	case ZipEML, Maildir, ZipMaildir, MH, ZipMH:
		err = im.zip(r, size)
	}
	return im.count, err
}

// importer holds the state of one import run.
type importer struct {
	ctx    context.Context
	visit  Visitor
	format Format
	count  int
}

func (im *importer) emit(raw []byte) error {
	if err := im.ctx.Err(); err != nil {
		return err
	}
	if err := im.visit(raw); err != nil {
		return err
	}
	im.count++
	return nil
}

func (im *importer) eml(r io.Reader) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return corrupt(im.format, errors.New("empty message"))
	}
	return im.emit(raw)
}

func (im *importer) mbox(r io.Reader) error {
	mr := mbox.NewReader(r)
	for {
		msg, err := mr.NextMessage()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return corrupt(im.format, err)
		}
		raw, err := io.ReadAll(msg)
		if err != nil {
			return corrupt(im.format, err)
		}
		if err := im.emit(raw); err != nil {
			return err
		}
	}
}

func (im *importer) mmdf(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	delim := []byte(mmdfDelimiter)
	if !bytes.HasPrefix(data, delim) {
		return corrupt(im.format, errors.New("missing message delimiter"))
	}
	// Messages are enclosed in pairs of delimiters.
	chunks := bytes.Split(data, delim)
	for i := 1; i < len(chunks); i += 2 {
		if i+1 >= len(chunks) {
			return corrupt(im.format, errors.New("unterminated message"))
		}
		if err := im.emit(chunks[i]); err != nil {
			return err
		}
	}
	return nil
}

func (im *importer) babyl(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if !bytes.HasPrefix(data, []byte("BABYL OPTIONS:")) {
		return corrupt(im.format, errors.New("missing BABYL OPTIONS header"))
	}
	entries := bytes.Split(data, []byte("\x1f"))
	// The first entry is the options header; the last follows the final terminator.
	for _, entry := range entries[1:] {
		entry = bytes.TrimLeft(entry, "\n")
		if len(entry) == 0 {
			continue
		}
		raw, err := babylMessage(entry)
		if err != nil {
			return corrupt(im.format, err)
		}
		if err := im.emit(raw); err != nil {
			return err
		}
	}
	return nil
}

// babylMessage rebuilds a message from a babyl entry: the original header block followed by
// the body that comes after the visible headers.
func babylMessage(entry []byte) ([]byte, error) {
	if !bytes.HasPrefix(entry, []byte("\x0c\n")) {
		return nil, errors.New("entry does not start with form feed")
	}
	entry = entry[2:]
	// Skip the attribute and label line.
	nl := bytes.IndexByte(entry, '\n')
	if nl < 0 {
		return nil, errors.New("truncated entry")
	}
	entry = entry[nl+1:]
	eooh := bytes.Index(entry, []byte(babylEOOH))
	if eooh < 0 {
		return nil, errors.New("missing end of original headers")
	}
	original := entry[:eooh]
	_, body := splitMessage(entry[eooh+len(babylEOOH):])
	raw := make([]byte, 0, len(original)+1+len(body))
	raw = append(raw, original...)
	raw = append(raw, '\n')
	return append(raw, body...), nil
}

func (im *importer) zip(r io.ReaderAt, size int64) error {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return corrupt(im.format, err)
	}
	switch im.format {
	case ZipEML:
		for _, f := range zr.File {
			if f.FileInfo().IsDir() {
				continue
			}
			if err := im.zipEntry(f); err != nil {
				return err
			}
		}
		return nil
	case Maildir, ZipMaildir:
		return im.zipTree(zr, maildirMessages)
	default:
		return im.zipTree(zr, mhMessages)
	}
}

func (im *importer) zipEntry(f *zip.File) error {
	rc, err := f.Open()
	if err != nil {
		return corrupt(im.format, err)
	}
	raw, err := io.ReadAll(rc)
	_ = rc.Close()
	if err != nil {
		return corrupt(im.format, err)
	}
	return im.emit(raw)
}

// messageLister picks the message entries of one mailbox directory, in import order.  Entry
// names are relative to the mailbox directory.
type messageLister func(entries map[string]*zip.File) ([]*zip.File, error)

// zipTree imports every top level directory of the archive as a mailbox of the format.
func (im *importer) zipTree(zr *zip.Reader, list messageLister) error {
	boxes := make(map[string]map[string]*zip.File)
	for _, f := range zr.File {
		name := strings.TrimPrefix(path.Clean("/"+f.Name), "/")
		top, rest, found := strings.Cut(name, "/")
		if !found && !f.FileInfo().IsDir() {
			// Files at the archive root are not part of any mailbox.
			continue
		}
		if boxes[top] == nil {
			boxes[top] = make(map[string]*zip.File)
		}
		if rest != "" {
			boxes[top][rest] = f
		}
	}
	if len(boxes) == 0 {
		return corrupt(im.format, errors.New("no mailbox directory in archive"))
	}
	names := make([]string, 0, len(boxes))
	for name := range boxes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		files, err := list(boxes[name])
		if err != nil {
			return corrupt(im.format, fmt.Errorf("%s: %w", name, err))
		}
		for _, f := range files {
			if err := im.zipEntry(f); err != nil {
				return err
			}
		}
	}
	return nil
}

// maildirMessages requires cur and new subdirectories, and returns the messages of new followed
// by those of cur.
func maildirMessages(entries map[string]*zip.File) ([]*zip.File, error) {
	var out []*zip.File
	for _, sub := range []string{"new", "cur"} {
		found := false
		var names []string
		for name, f := range entries {
			dir, file, _ := strings.Cut(name, "/")
			if dir != sub {
				continue
			}
			found = true
			if file != "" && !strings.Contains(file, "/") && !strings.HasPrefix(file, ".") &&
				!f.FileInfo().IsDir() {
				names = append(names, name)
			}
		}
		if !found {
			return nil, fmt.Errorf("missing %s directory", sub)
		}
		sort.Strings(names)
		for _, name := range names {
			out = append(out, entries[name])
		}
	}
	return out, nil
}

// mhMessages returns the numbered files of an mh directory in numeric order.
func mhMessages(entries map[string]*zip.File) ([]*zip.File, error) {
	type numbered struct {
		n int
		f *zip.File
	}
	var msgs []numbered
	for name, f := range entries {
		n, err := strconv.Atoi(name)
		if err != nil || n <= 0 || f.FileInfo().IsDir() {
			continue
		}
		msgs = append(msgs, numbered{n, f})
	}
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].n < msgs[j].n })
	out := make([]*zip.File, len(msgs))
	for i, m := range msgs {
		out[i] = m.f
	}
	return out, nil
}
