package container

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/mail"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-mbox"
	"github.com/inbucket/mailvault/pkg/storage"
	"github.com/inbucket/mailvault/pkg/stringutil"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	mmdfDelimiter = "\x01\x01\x01\x01\n"
	babylHeader   = "BABYL OPTIONS:\nVersion: 5\nLabels:\nNote:   This is the header of an rmail file.\n\x1f"
	babylEOOH     = "*** EOOH ***\n"
	defaultSender = "MAILER-DAEMON"
)

// Exporter writes message collections into containers.
type Exporter struct {
	// DirName names the mailbox directory inside maildir and mh archives.
	DirName string
	// TempDir is where directory trees are built before zipping, os.TempDir when empty.
	TempDir string
	Logger  zerolog.Logger
}

// NewExporter returns an Exporter logging through the package logger.
func NewExporter(dirName string) *Exporter {
	return &Exporter{
		DirName: dirName,
		Logger:  log.With().Str("module", "container").Logger(),
	}
}

// ExportFile creates path and writes the items into it.  The target is dot-locked for the
// duration of the export, and removed again when the export fails.
func (e *Exporter) ExportFile(
	ctx context.Context,
	path string,
	format Format,
	items []Item,
) (*ExportResult, error) {
	if !format.CanExport() {
		return nil, &FormatError{Format: string(format), Err: ErrUnsupportedFormat}
	}
	lock := path + ".lock"
	lf, err := os.OpenFile(lock, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("%s is locked by another export", path)
		}
		return nil, err
	}
	_ = lf.Close()
	defer func() {
		_ = os.Remove(lock)
	}()

	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	res, err := e.Export(ctx, f, format, items)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return nil, err
	}
	return res, nil
}

// Export writes the items to w in the given format.  Items whose content is missing are skipped
// and listed in the result; any other failure aborts the export.
func (e *Exporter) Export(
	ctx context.Context,
	w io.Writer,
	format Format,
	items []Item,
) (*ExportResult, error) {
	if !format.CanExport() {
		return nil, &FormatError{Format: string(format), Err: ErrUnsupportedFormat}
	}
	x := &export{ctx: ctx, items: items, logger: e.Logger, result: &ExportResult{}}
	var err error
	switch format {
	case Mbox:
		err = x.mbox(w)
	case Babyl:
		err = x.babyl(w)
	case MMDF:
		err = x.mmdf(w)
	case ZipEML:
		err = x.zipEML(w)
	case Maildir, ZipMaildir:
		err = x.tree(w, e.TempDir, e.dirName(), maildirLayout)
	case MH, ZipMH:
		err = x.tree(w, e.TempDir, e.dirName(), mhLayout)
	}
	if err != nil {
		return nil, err
	}
	return x.result, nil
}

func (e *Exporter) dirName() string {
	if e.DirName == "" {
		return "mailbox"
	}
	return stringutil.SafeFileName(e.DirName)
}

// export holds the state of one export run.
type export struct {
	ctx    context.Context
	items  []Item
	logger zerolog.Logger
	result *ExportResult
}

// each calls f with the content of every item that can be read, in order.
func (x *export) each(f func(i int, item Item, raw []byte) error) error {
	for i, item := range x.items {
		if err := x.ctx.Err(); err != nil {
			return err
		}
		raw, err := readItem(item)
		if err != nil {
			if errors.Is(err, storage.ErrNotExist) || errors.Is(err, fs.ErrNotExist) {
				x.logger.Warn().Str("item", item.Name).Err(err).Msg("Skipping message with missing content")
				x.result.Skipped = append(x.result.Skipped, item.Name)
				continue
			}
			return fmt.Errorf("reading %s: %w", item.Name, err)
		}
		if err := f(i, item, raw); err != nil {
			return err
		}
		x.result.Written++
	}
	return nil
}

func (x *export) mbox(w io.Writer) error {
	mw := mbox.NewWriter(w)
	err := x.each(func(_ int, item Item, raw []byte) error {
		msg, err := mw.CreateMessage(envelopeSender(raw), itemDate(item, raw))
		if err != nil {
			return err
		}
		_, err = msg.Write(toUnix(raw))
		return err
	})
	if err != nil {
		return err
	}
	return mw.Close()
}

func (x *export) mmdf(w io.Writer) error {
	return x.each(func(_ int, _ Item, raw []byte) error {
		raw = ensureNewline(toUnix(raw))
		for _, b := range [][]byte{[]byte(mmdfDelimiter), raw, []byte(mmdfDelimiter)} {
			if _, err := w.Write(b); err != nil {
				return err
			}
		}
		return nil
	})
}

func (x *export) babyl(w io.Writer) error {
	if _, err := io.WriteString(w, babylHeader); err != nil {
		return err
	}
	return x.each(func(_ int, _ Item, raw []byte) error {
		header, body := splitMessage(toUnix(raw))
		var buf bytes.Buffer
		buf.WriteString("\x0c\n1,,\n")
		buf.Write(header)
		buf.WriteString(babylEOOH)
		buf.Write(header)
		buf.WriteString("\n")
		buf.Write(body)
		buf.WriteString("\x1f")
		_, err := w.Write(buf.Bytes())
		return err
	})
}

func (x *export) zipEML(w io.Writer) error {
	zw := zip.NewWriter(w)
	err := x.each(func(i int, item Item, raw []byte) error {
		fw, err := zw.CreateHeader(&zip.FileHeader{
			Name:     emlName(i, item.Name),
			Method:   zip.Deflate,
			Modified: itemDate(item, raw),
		})
		if err != nil {
			return err
		}
		_, err = fw.Write(raw)
		return err
	})
	if err != nil {
		return err
	}
	return zw.Close()
}

// layout creates a mailbox directory and stores messages in it.
type layout struct {
	prepare func(dir string) error
	store   func(dir string, n int, item Item, raw []byte) error
}

var (
	maildirLayout = layout{prepare: prepareMaildir, store: storeMaildir}
	mhLayout      = layout{prepare: prepareMH, store: storeMH}
)

// tree builds a mailbox directory in a temporary location, then zips it into w.
func (x *export) tree(w io.Writer, tempDir, name string, l layout) error {
	root, err := os.MkdirTemp(tempDir, "mailvault-export-")
	if err != nil {
		return err
	}
	defer func() {
		_ = os.RemoveAll(root)
	}()
	dir := filepath.Join(root, name)
	if err := l.prepare(dir); err != nil {
		return err
	}
	n := 0
	err = x.each(func(_ int, item Item, raw []byte) error {
		n++
		return l.store(dir, n, item, raw)
	})
	if err != nil {
		return err
	}
	return zipDir(w, root)
}

func prepareMaildir(dir string) error {
	for _, sub := range []string{"cur", "new", "tmp"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0700); err != nil {
			return err
		}
	}
	return nil
}

// storeMaildir delivers messages straight into cur, marked as seen.
func storeMaildir(dir string, n int, item Item, raw []byte) error {
	name := fmt.Sprintf("%d.%d.mailvault:2,S", itemDate(item, raw).Unix(), n)
	return os.WriteFile(filepath.Join(dir, "cur", name), raw, 0600)
}

func prepareMH(dir string) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, ".mh_sequences"), nil, 0600)
}

func storeMH(dir string, n int, _ Item, raw []byte) error {
	return os.WriteFile(filepath.Join(dir, strconv.Itoa(n)), raw, 0600)
}

// zipDir writes every directory and file below root into a zip archive.
func zipDir(w io.Writer, root string) error {
	zw := zip.NewWriter(w)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || path == root {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if d.IsDir() {
			_, err := zw.Create(name + "/")
			return err
		}
		fw, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer func() {
			_ = f.Close()
		}()
		_, err = io.Copy(fw, f)
		return err
	})
	if err != nil {
		return err
	}
	return zw.Close()
}

func readItem(item Item) ([]byte, error) {
	if item.Open == nil {
		return nil, fmt.Errorf("%w: no content", storage.ErrNotExist)
	}
	r, err := item.Open()
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = r.Close()
	}()
	return io.ReadAll(r)
}

// itemDate returns the item date, the message Date header, or the current time.
func itemDate(item Item, raw []byte) time.Time {
	if !item.Date.IsZero() {
		return item.Date
	}
	if msg, err := mail.ReadMessage(bytes.NewReader(raw)); err == nil {
		if d, err := msg.Header.Date(); err == nil {
			return d
		}
	}
	return time.Now()
}

// envelopeSender returns the bare From address of a message, for mbox separator lines.
func envelopeSender(raw []byte) string {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return defaultSender
	}
	addrs, err := msg.Header.AddressList("From")
	if err != nil || len(addrs) == 0 || addrs[0].Address == "" {
		return defaultSender
	}
	return addrs[0].Address
}

// emlName builds a unique zip entry name for the i-th message.
func emlName(i int, name string) string {
	return fmt.Sprintf("%04d_%s.eml", i+1, stringutil.SafeFileName(strings.Trim(name, "<>")))
}

// toUnix converts CRLF line endings to LF, as single file mailbox formats expect.
func toUnix(raw []byte) []byte {
	return bytes.ReplaceAll(raw, []byte("\r\n"), []byte("\n"))
}

func ensureNewline(raw []byte) []byte {
	if len(raw) > 0 && raw[len(raw)-1] != '\n' {
		return append(raw, '\n')
	}
	return raw
}

// splitMessage separates the header block, including its final newline, from the body.
func splitMessage(raw []byte) (header, body []byte) {
	if bytes.HasPrefix(raw, []byte("\n")) {
		return nil, raw[1:]
	}
	if i := bytes.Index(raw, []byte("\n\n")); i >= 0 {
		return raw[:i+1], raw[i+2:]
	}
	return ensureNewline(raw), nil
}
