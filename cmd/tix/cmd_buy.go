package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/daviddao/tixd/pkg/client"
	"github.com/daviddao/tixd/pkg/model"
)

func (a *app) cmdBuy(args []string) int {
	flags := flag.NewFlagSet("buy", flag.ContinueOnError)
	timeout := flags.Duration("timeout", 0, "give up after this long (0 = wait for the decision)")
	jsonOut := flags.Bool("json", false, "JSON output")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	if flags.NArg() < 4 {
		fmt.Fprintln(os.Stderr, "usage: tix buy [--timeout D] [--json] <n> <host> <port> <target-id> [client-id]")
		return 1
	}

	count, err := strconv.ParseInt(flags.Arg(0), 10, 64)
	if err != nil || count < 0 {
		fmt.Fprintf(os.Stderr, "tix: buy: invalid ticket count %q\n", flags.Arg(0))
		return 1
	}
	if _, err := strconv.Atoi(flags.Arg(2)); err != nil {
		fmt.Fprintf(os.Stderr, "tix: buy: invalid port %q\n", flags.Arg(2))
		return 1
	}
	target, err := parseNodeID(flags.Arg(3))
	if err != nil {
		fmt.Fprintf(os.Stderr, "tix: buy: %v\n", err)
		return 1
	}
	clientID := a.resolveClient(flags.Arg(4))

	ctx := context.Background()
	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}
	outcome, err := client.Buy(ctx, net.JoinHostPort(flags.Arg(1), flags.Arg(2)), count)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tix: buy: %v\n", err)
		return 1
	}

	if *jsonOut {
		printJSON(map[string]interface{}{
			"client":  clientID,
			"target":  target,
			"tickets": count,
			"outcome": outcome,
			"at":      time.Now().UTC(),
		})
	} else {
		printOutcome(clientID, target, count, outcome)
	}
	if outcome != model.OutcomeGranted {
		return 2
	}
	return 0
}

func printOutcome(clientID string, target model.NodeID, count int64, outcome model.Outcome) {
	if outcome == model.OutcomeGranted {
		fmt.Printf("client %s: bought %d tickets from datacenter %d\n", clientID, count, target)
		return
	}
	fmt.Printf("client %s: denied %d tickets by datacenter %d\n", clientID, count, target)
}
