// Package dap implements the Debug Adapter Protocol client used to talk to
// C/C++ debug adapters (cppdbg, CodeLLDB, lldb-dap, cppvsdbg).
package dap

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

// Transport represents a DAP transport layer.
type Transport interface {
	// Send sends a message to the debug adapter.
	Send(msg *Message) error

	// Receive receives a message from the debug adapter.
	Receive() (*Message, error)

	// Close closes the transport.
	Close() error
}

// Message represents a DAP message with headers and content.
type Message struct {
	// ContentLength is the length of the content.
	ContentLength int

	// ContentType is the MIME type (optional).
	ContentType string

	// Content is the JSON content.
	Content json.RawMessage
}

// MaxContentLength bounds a single DAP message. readMemory responses carry
// base64 payloads, so this must comfortably exceed 4/3 of the largest chunk.
const MaxContentLength = 16 * 1024 * 1024

// framer holds the shared write lock and buffered reader of every stream
// transport.
type framer struct {
	w      io.Writer
	reader *bufio.Reader
	mu     sync.Mutex
}

func newFramer(r io.Reader, w io.Writer) framer {
	return framer{w: w, reader: bufio.NewReaderSize(r, 64*1024)}
}

// Send writes one framed message.
func (f *framer) Send(msg *Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return writeMessage(f.w, msg)
}

// Receive reads one framed message.
func (f *framer) Receive() (*Message, error) {
	return readMessage(f.reader)
}

// StdioTransport implements Transport over stdin/stdout of an adapter process.
type StdioTransport struct {
	framer
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

// NewStdioTransport starts cmd and frames DAP messages over its pipes.
func NewStdioTransport(cmd *exec.Cmd) (*StdioTransport, error) {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("get stdin pipe: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("get stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		return nil, fmt.Errorf("start %s: %w", cmd.Path, err)
	}

	return &StdioTransport{
		framer: newFramer(stdout, stdin),
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
	}, nil
}

// Close closes the pipes and kills the adapter process.
func (t *StdioTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stdin.Close()
	t.stdout.Close()

	if t.cmd.Process != nil {
		t.cmd.Process.Kill()
	}

	// The adapter was killed on purpose; its exit status carries no information.
	_ = t.cmd.Wait()
	return nil
}

// SocketTransport implements Transport over a TCP connection, as used by
// CodeLLDB and by adapters started in server mode.
type SocketTransport struct {
	framer
	conn net.Conn
}

// DialSocketTransport connects to a listening adapter. The dial honours ctx.
func DialSocketTransport(ctx context.Context, address string) (*SocketTransport, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}
	return NewSocketTransportFromConn(conn), nil
}

// NewSocketTransportFromConn creates a socket transport from an existing connection.
func NewSocketTransportFromConn(conn net.Conn) *SocketTransport {
	return &SocketTransport{
		framer: newFramer(conn, conn),
		conn:   conn,
	}
}

// Close closes the socket connection.
func (t *SocketTransport) Close() error {
	return t.conn.Close()
}

// RawTransport wraps any io.ReadWriteCloser as a Transport.
type RawTransport struct {
	framer
	rwc io.ReadWriteCloser
}

// NewRawTransport creates a transport from any ReadWriteCloser.
func NewRawTransport(rwc io.ReadWriteCloser) *RawTransport {
	return &RawTransport{
		framer: newFramer(rwc, rwc),
		rwc:    rwc,
	}
}

// Close closes the underlying connection.
func (t *RawTransport) Close() error {
	return t.rwc.Close()
}

// writeMessage writes a Content-Length framed message in a single write so
// that a concurrent reader on the other side never sees a torn header.
func writeMessage(w io.Writer, msg *Message) error {
	var b strings.Builder
	b.Grow(64 + len(msg.Content))
	b.WriteString("Content-Length: ")
	b.WriteString(strconv.Itoa(len(msg.Content)))
	b.WriteString("\r\n")
	if msg.ContentType != "" {
		b.WriteString("Content-Type: ")
		b.WriteString(msg.ContentType)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	b.Write(msg.Content)

	if _, err := io.WriteString(w, b.String()); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// readMessage reads a DAP message from the reader.
func readMessage(r *bufio.Reader) (*Message, error) {
	var contentLength int
	var contentType string

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("read header: %w", err)
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}

		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("invalid header: %s", line)
		}
		value = strings.TrimSpace(value)

		switch strings.ToLower(strings.TrimSpace(name)) {
		case "content-length":
			length, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("invalid content-length: %w", err)
			}
			if length < 0 || length > MaxContentLength {
				return nil, fmt.Errorf("content-length %d exceeds maximum allowed %d", length, MaxContentLength)
			}
			contentLength = length
		case "content-type":
			contentType = value
		}
	}

	if contentLength == 0 {
		return nil, fmt.Errorf("missing Content-Length header")
	}

	content := make([]byte, contentLength)
	if _, err := io.ReadFull(r, content); err != nil {
		return nil, fmt.Errorf("read content: %w", err)
	}

	return &Message{
		ContentLength: contentLength,
		ContentType:   contentType,
		Content:       content,
	}, nil
}
