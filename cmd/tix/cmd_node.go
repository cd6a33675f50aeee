package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/daviddao/tixd/pkg/config"
	"github.com/daviddao/tixd/pkg/journal"
	"github.com/daviddao/tixd/pkg/node"
)

func (a *app) cmdNode(args []string) int {
	flags := flag.NewFlagSet("node", flag.ContinueOnError)
	journalPath := flags.String("journal", a.journalPath, "SQLite decision journal (empty = none)")
	delay := flags.Duration("delay", a.peerDelay, "delay before every message to a peer")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	if flags.NArg() < 2 {
		fmt.Fprintln(os.Stderr, "usage: tix node [--journal PATH] [--delay D] <id> <config>")
		return 1
	}
	if *delay < 0 {
		fmt.Fprintf(os.Stderr, "tix: node: negative delay %s\n", *delay)
		return 1
	}

	id, err := parseNodeID(flags.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "tix: node: %v\n", err)
		return 1
	}
	cluster, err := config.Load(flags.Arg(1))
	if err != nil {
		fmt.Fprintf(os.Stderr, "tix: node: %v\n", err)
		return 1
	}

	cfg := node.Config{
		ID:        id,
		Cluster:   cluster,
		Logger:    log.New(os.Stderr, "", log.Ltime|log.Lmicroseconds),
		PeerDelay: *delay,
	}
	if *journalPath != "" {
		s, err := journal.Open(*journalPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "tix: node: %v\n", err)
			return 1
		}
		defer s.Close()
		cfg.Journal = s
	}

	n, err := node.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tix: node: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	runErr := n.Run(ctx)

	st := n.Status()
	cfg.Logger.Printf("[%d][%d] stopped: %d tickets left, %d decisions applied, queue %v",
		st.Clock, st.ID, st.Remaining, st.Applied, st.Queue)
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "tix: node: %v\n", runErr)
		return 1
	}
	if st.Fault != "" {
		fmt.Fprintf(os.Stderr, "tix: node: halted: %s\n", st.Fault)
		return 1
	}
	return 0
}
