// Command tix runs and exercises a replicated ticket inventory: a fixed set
// of datacenters that agree on the order of purchases with Lamport's
// distributed mutual exclusion, so no replica ever oversells.
package main

import (
	"fmt"
	"os"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "--help", "-h", "help":
		printUsage()
		return
	case "--version", "-v", "version":
		fmt.Println("tix", version)
		return
	}

	a, err := newApp()
	if err != nil {
		fatal("%v", err)
	}

	switch os.Args[1] {
	case "node":
		os.Exit(a.cmdNode(os.Args[2:]))
	case "buy":
		os.Exit(a.cmdBuy(os.Args[2:]))
	case "journal":
		os.Exit(a.cmdJournal(os.Args[2:]))

	default:
		fmt.Fprintf(os.Stderr, "tix: unknown command %q\n", os.Args[1])
		fmt.Fprintln(os.Stderr, "Run 'tix --help' for usage.")
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`tix - replicated ticket inventory

Every datacenter holds a full copy of the inventory. Purchases are ordered
with Lamport clocks and a request queue; a datacenter sells only when its
request heads the queue and every peer has replied.

Usage:
  tix <command> [flags] <args>

Commands:
  node [--journal PATH] [--delay D] <id> <config>
                            Run datacenter <id> of the cluster in <config>
  buy [--timeout D] [--json] <n> <host> <port> <target-id> [client-id]
                            Buy <n> tickets from a datacenter
  journal [--config PATH] [--node ID] [--json] [journal]
                            List, replay and cross-check recorded decisions

Config file:
  <tickets>
  <id> <host> <port>        one line per datacenter

Environment:
  TIX_JOURNAL      SQLite decision journal (default: none)
  TIX_PEER_DELAY   delay before every message to a peer, e.g. 5s (default: 0)
  TIX_CLIENT_ID    default client id for buy

Exit codes:
  0  success
  1  error
  2  purchase denied / journals diverged
`)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "tix: "+format+"\n", args...)
	os.Exit(1)
}
