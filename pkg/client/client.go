// Package client buys tickets from a datacenter.
package client

import (
	"context"
	"fmt"
	"net"

	"github.com/daviddao/tixd/pkg/model"
	"github.com/daviddao/tixd/pkg/wire"
)

// Buy asks the datacenter at addr for tickets and waits for its decision.
// A denial is a normal outcome, not an error.
func Buy(ctx context.Context, addr string, tickets int64) (model.Outcome, error) {
	var d net.Dialer
	raw, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", fmt.Errorf("dial %s: %w", addr, err)
	}
	conn := wire.NewConn(raw)
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := conn.Send(wire.Buy(tickets)); err != nil {
		return "", fmt.Errorf("send: %w", err)
	}
	resp, err := conn.Recv()
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("receive: %w", err)
	}
	switch resp {
	case wire.Success:
		return model.OutcomeGranted, nil
	case wire.Fail:
		return model.OutcomeDenied, nil
	}
	return "", fmt.Errorf("%w: unexpected response %q", wire.ErrMalformed, resp)
}
