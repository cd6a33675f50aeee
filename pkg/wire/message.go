package wire

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/daviddao/tixd/pkg/model"
)

// Kind is the type of a peer protocol message.
type Kind string

const (
	KindRequest Kind = "REQUEST"
	KindReply   Kind = "REPLY"
	KindRelease Kind = "RELEASE"
)

// Client replies.
const (
	Success = "SUCCESS"
	Fail    = "FAIL"
)

// Message is a peer protocol message. Tickets is echoed and unused in REPLY.
type Message struct {
	Kind      Kind
	Tickets   int64
	Timestamp int64
}

// Encode returns the message body.
func (m Message) Encode() string {
	return fmt.Sprintf("%s|%d|%d", m.Kind, m.Tickets, m.Timestamp)
}

// ParseMessage parses a peer protocol body.
func ParseMessage(body string) (Message, error) {
	parts := strings.Split(body, "|")
	if len(parts) != 3 {
		return Message{}, fmt.Errorf("%w: %q", ErrMalformed, body)
	}
	m := Message{Kind: Kind(parts[0])}
	switch m.Kind {
	case KindRequest, KindReply, KindRelease:
	default:
		return Message{}, fmt.Errorf("%w: unknown kind in %q", ErrMalformed, body)
	}
	var err error
	if m.Tickets, err = parseCount(parts[1]); err != nil {
		return Message{}, fmt.Errorf("%w: tickets in %q", ErrMalformed, body)
	}
	if m.Timestamp, err = parseCount(parts[2]); err != nil {
		return Message{}, fmt.Errorf("%w: timestamp in %q", ErrMalformed, body)
	}
	return m, nil
}

// HelloKind tells a peer link from a client link by its first frame.
type HelloKind int

const (
	HelloPeer HelloKind = iota + 1
	HelloBuy
)

// Hello is the first frame on an inbound connection.
type Hello struct {
	Kind    HelloKind
	Node    model.NodeID // HelloPeer
	Tickets int64        // HelloBuy
}

// Identity returns the DID body announcing id.
func Identity(id model.NodeID) string { return fmt.Sprintf("DID %d", id) }

// Buy returns the BUY body for n tickets.
func Buy(n int64) string { return fmt.Sprintf("BUY %d", n) }

// ParseHello parses a DID or BUY body.
func ParseHello(body string) (Hello, error) {
	verb, arg, ok := strings.Cut(body, " ")
	if !ok {
		return Hello{}, fmt.Errorf("%w: %q", ErrMalformed, body)
	}
	n, err := parseCount(arg)
	if err != nil {
		return Hello{}, fmt.Errorf("%w: %q", ErrMalformed, body)
	}
	switch verb {
	case "DID":
		return Hello{Kind: HelloPeer, Node: model.NodeID(n)}, nil
	case "BUY":
		return Hello{Kind: HelloBuy, Tickets: n}, nil
	}
	return Hello{}, fmt.Errorf("%w: unknown greeting %q", ErrMalformed, body)
}

func parseCount(s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("negative value %d", n)
	}
	return n, nil
}
