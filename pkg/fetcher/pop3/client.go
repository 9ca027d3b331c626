package pop3

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/inbucket/mailvault/pkg/account"
	"github.com/inbucket/mailvault/pkg/fetcher"
)

// dialFunc opens the transport connection to the account.
type dialFunc func(ctx context.Context, acct *account.Account, useTLS bool) (net.Conn, error)

func dialConn(ctx context.Context, acct *account.Account, useTLS bool) (net.Conn, error) {
	d := &net.Dialer{Timeout: acct.OperationTimeout()}
	conn, err := d.DialContext(ctx, "tcp", acct.Addr())
	if err != nil {
		return nil, err
	}
	if !useTLS {
		return conn, nil
	}
	tconn := tls.Client(conn, &tls.Config{
		ServerName:         acct.Host,
		InsecureSkipVerify: acct.AllowInsecure, // #nosec G402
	})
	if err := tconn.HandshakeContext(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return tconn, nil
}

// listEntry is one line of a LIST response.
type listEntry struct {
	num  int
	size int64
}

// client is a minimal RFC 1939 client.
type client struct {
	conn    net.Conn
	text    *textproto.Conn
	timeout time.Duration
}

// newClient wraps conn and consumes the server greeting.
func newClient(ctx context.Context, conn net.Conn, timeout time.Duration) (*client, error) {
	c := &client{conn: conn, text: textproto.NewConn(conn), timeout: timeout}
	defer c.arm(ctx)()
	if _, err := c.status("greeting"); err != nil {
		_ = c.text.Close()
		return nil, err
	}
	return c, nil
}

func (c *client) arm(ctx context.Context) func() {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.timeout)
	}
	_ = c.conn.SetDeadline(deadline)
	return func() { _ = c.conn.SetDeadline(time.Time{}) }
}

// status reads a single status line, returning the text after +OK.
func (c *client) status(op string) (string, error) {
	line, err := c.text.ReadLine()
	if err != nil {
		return "", err
	}
	switch {
	case strings.HasPrefix(line, "+OK"):
		return strings.TrimSpace(strings.TrimPrefix(line, "+OK")), nil
	default:
		return "", &fetcher.BadServerResponseError{Op: op, Response: line}
	}
}

// cmd sends one command and reads its status line.
func (c *client) cmd(ctx context.Context, op, format string, args ...any) (string, error) {
	defer c.arm(ctx)()
	if err := c.text.PrintfLine(format, args...); err != nil {
		return "", err
	}
	return c.status(op)
}

// multiline reads a dot-terminated response body, undoing dot-stuffing and keeping CRLF
// line endings.
func (c *client) multiline() ([]byte, error) {
	var buf bytes.Buffer
	for {
		line, err := c.text.ReadLineBytes()
		if err != nil {
			return nil, err
		}
		if len(line) == 1 && line[0] == '.' {
			return buf.Bytes(), nil
		}
		if len(line) > 0 && line[0] == '.' {
			line = line[1:]
		}
		buf.Write(line)
		buf.WriteString("\r\n")
	}
}

func (c *client) login(ctx context.Context, user, pass string) error {
	if _, err := c.cmd(ctx, "USER", "USER %s", user); err != nil {
		return err
	}
	_, err := c.cmd(ctx, "PASS", "PASS %s", pass)
	return err
}

func (c *client) noop(ctx context.Context) error {
	_, err := c.cmd(ctx, "NOOP", "NOOP")
	return err
}

func (c *client) list(ctx context.Context) ([]listEntry, error) {
	defer c.arm(ctx)()
	if err := c.text.PrintfLine("LIST"); err != nil {
		return nil, err
	}
	if _, err := c.status("LIST"); err != nil {
		return nil, err
	}
	body, err := c.multiline()
	if err != nil {
		return nil, err
	}
	var entries []listEntry
	for _, line := range strings.Split(strings.TrimSpace(string(body)), "\r\n") {
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, &fetcher.BadServerResponseError{Op: "LIST", Response: line}
		}
		num, err1 := strconv.Atoi(fields[0])
		size, err2 := strconv.ParseInt(fields[1], 10, 64)
		if err1 != nil || err2 != nil {
			return nil, &fetcher.BadServerResponseError{Op: "LIST", Response: line}
		}
		entries = append(entries, listEntry{num: num, size: size})
	}
	return entries, nil
}

func (c *client) retr(ctx context.Context, num int) ([]byte, error) {
	defer c.arm(ctx)()
	if err := c.text.PrintfLine("RETR %d", num); err != nil {
		return nil, err
	}
	if _, err := c.status(fmt.Sprintf("RETR %d", num)); err != nil {
		return nil, err
	}
	return c.multiline()
}

func (c *client) quit() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	_, err := c.cmd(ctx, "QUIT", "QUIT")
	if cerr := c.text.Close(); err == nil {
		err = cerr
	}
	return err
}
