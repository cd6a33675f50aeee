// Package wire implements the tixd message format.
//
// Every message travels as a frame "<length>|<body>", where <length> is the
// decimal byte length of <body>. Bodies are short text commands:
//
//	DID <node-id>                    identity, first frame on a peer link
//	BUY <tickets>                    client purchase, first frame on a client link
//	SUCCESS | FAIL                   reply to a client
//	REQUEST|<tickets>|<timestamp>    peer protocol
//	REPLY|<tickets>|<timestamp>
//	RELEASE|<tickets>|<timestamp>
package wire

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
)

// MaxFrame bounds the body length accepted by ReadFrame.
const MaxFrame = 1 << 16

// maxHeader is the number of digits allowed before the '|' separator.
const maxHeader = 10

// ErrMalformed is returned for frames or bodies that do not parse.
var ErrMalformed = errors.New("malformed message")

// WriteFrame writes body as one frame.
func WriteFrame(w io.Writer, body string) error {
	if len(body) > MaxFrame {
		return fmt.Errorf("%w: body of %d bytes exceeds %d", ErrMalformed, len(body), MaxFrame)
	}
	_, err := io.WriteString(w, strconv.Itoa(len(body))+"|"+body)
	return err
}

// ReadFrame reads one frame and returns its body. A clean EOF before the
// first header byte is returned as io.EOF.
func ReadFrame(r *bufio.Reader) (string, error) {
	var header []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) && len(header) > 0 {
				return "", io.ErrUnexpectedEOF
			}
			return "", err
		}
		if b == '|' {
			break
		}
		if b < '0' || b > '9' || len(header) == maxHeader {
			return "", fmt.Errorf("%w: bad frame header %q", ErrMalformed, append(header, b))
		}
		header = append(header, b)
	}
	if len(header) == 0 {
		return "", fmt.Errorf("%w: empty frame header", ErrMalformed)
	}
	n, err := strconv.Atoi(string(header))
	if err != nil || n > MaxFrame {
		return "", fmt.Errorf("%w: frame length %q", ErrMalformed, header)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return "", err
	}
	return string(body), nil
}

// Conn carries frames over a byte stream. Send is safe for concurrent use;
// Recv must be called from a single goroutine.
type Conn struct {
	rwc io.ReadWriteCloser
	r   *bufio.Reader
	wmu sync.Mutex
}

// NewConn wraps a reliable, ordered byte stream.
func NewConn(rwc io.ReadWriteCloser) *Conn {
	return &Conn{rwc: rwc, r: bufio.NewReader(rwc)}
}

// Send writes body as one frame.
func (c *Conn) Send(body string) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return WriteFrame(c.rwc, body)
}

// Recv reads the next frame body.
func (c *Conn) Recv() (string, error) { return ReadFrame(c.r) }

// Close closes the underlying stream.
func (c *Conn) Close() error { return c.rwc.Close() }
