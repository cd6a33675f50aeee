package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/daviddao/tixd/pkg/model"
)

// app holds defaults shared by all subcommands, resolved from the
// environment once at startup.
type app struct {
	journalPath string        // TIX_JOURNAL
	peerDelay   time.Duration // TIX_PEER_DELAY
	clientID    string        // TIX_CLIENT_ID
}

func newApp() (*app, error) {
	delay, err := time.ParseDuration(envOr("TIX_PEER_DELAY", "0s"))
	if err != nil {
		return nil, fmt.Errorf("TIX_PEER_DELAY: %w", err)
	}
	if delay < 0 {
		return nil, fmt.Errorf("TIX_PEER_DELAY: negative delay %s", delay)
	}
	return &app{
		journalPath: envOr("TIX_JOURNAL", ""),
		peerDelay:   delay,
		clientID:    envOr("TIX_CLIENT_ID", ""),
	}, nil
}

// resolveClient returns the client id from the argument (if non-empty),
// falling back to TIX_CLIENT_ID and then to the process id.
func (a *app) resolveClient(arg string) string {
	if arg != "" {
		return arg
	}
	if a.clientID != "" {
		return a.clientID
	}
	return strconv.Itoa(os.Getpid())
}

func parseNodeID(s string) (model.NodeID, error) {
	id, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid datacenter id %q", s)
	}
	return model.NodeID(id), nil
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
