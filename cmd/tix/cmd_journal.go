package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/daviddao/tixd/pkg/config"
	"github.com/daviddao/tixd/pkg/journal"
	"github.com/daviddao/tixd/pkg/model"
)

// nodeReport is one datacenter's view of the journal.
type nodeReport struct {
	Node      model.NodeID     `json:"node"`
	Decisions []model.Decision `json:"decisions"`
	Remaining *int64           `json:"remaining,omitempty"`
	Error     string           `json:"error,omitempty"`
}

func (a *app) cmdJournal(args []string) int {
	flags := flag.NewFlagSet("journal", flag.ContinueOnError)
	cfgPath := flags.String("config", "", "cluster config; replays each log against its ticket count")
	only := flags.Int("node", 0, "show only this datacenter (0 = all)")
	jsonOut := flags.Bool("json", false, "JSON output")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	path := a.journalPath
	if flags.NArg() > 0 {
		path = flags.Arg(0)
	}
	if path == "" {
		fmt.Fprintln(os.Stderr, "usage: tix journal [--config PATH] [--node ID] [--json] [journal]")
		fmt.Fprintln(os.Stderr, "tix: journal: no journal: pass a path or set TIX_JOURNAL")
		return 1
	}

	var initial *int64
	if *cfgPath != "" {
		cluster, err := config.Load(*cfgPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "tix: journal: %v\n", err)
			return 1
		}
		initial = &cluster.Tickets
	}

	s, err := journal.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tix: journal: %v\n", err)
		return 1
	}
	defer s.Close()

	nodes, err := s.Nodes()
	if err != nil {
		fmt.Fprintf(os.Stderr, "tix: journal: %v\n", err)
		return 1
	}
	logs := make(map[model.NodeID][]model.Decision, len(nodes))
	for _, id := range nodes {
		ds, err := s.List(id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "tix: journal: %v\n", err)
			return 1
		}
		logs[id] = ds
	}

	reports, diverged := checkJournal(nodes, logs, initial)
	if *only != 0 {
		filtered := reports[:0]
		for _, r := range reports {
			if r.Node == model.NodeID(*only) {
				filtered = append(filtered, r)
			}
		}
		reports = filtered
	}

	if *jsonOut {
		printJSON(map[string]interface{}{"nodes": reports, "diverged": diverged})
	} else {
		if len(reports) == 0 {
			fmt.Println("no decisions")
		}
		for _, r := range reports {
			fmt.Printf("datacenter %d: %d decisions\n", r.Node, len(r.Decisions))
			for _, d := range r.Decisions {
				printDecision(d)
			}
			if r.Remaining != nil {
				fmt.Printf("  replay: %d tickets left\n", *r.Remaining)
			}
			if r.Error != "" {
				fmt.Printf("  DIVERGED: %s\n", r.Error)
			}
		}
	}
	if diverged {
		return 2
	}
	return 0
}

// checkJournal replays every log (when the initial count is known) and
// compares each against the lowest datacenter's order of decisions.
func checkJournal(nodes []model.NodeID, logs map[model.NodeID][]model.Decision, initial *int64) ([]nodeReport, bool) {
	diverged := false
	reports := make([]nodeReport, 0, len(nodes))
	for i, id := range nodes {
		r := nodeReport{Node: id, Decisions: logs[id]}
		if initial != nil {
			if rem, err := journal.Replay(*initial, logs[id]); err != nil {
				r.Error = err.Error()
			} else {
				r.Remaining = &rem
			}
		}
		if r.Error == "" && i > 0 {
			if err := journal.CheckOrder(logs[nodes[0]], logs[id]); err != nil {
				r.Error = fmt.Sprintf("against datacenter %d: %v", nodes[0], err)
			}
		}
		if r.Error != "" {
			diverged = true
		}
		reports = append(reports, r)
	}
	return reports, diverged
}

func printDecision(d model.Decision) {
	verb := "sold"
	if d.Outcome() == model.OutcomeDenied {
		verb = "denied"
	}
	fmt.Printf("  #%d [ts=%d] dc%d %s %d/%d tickets, %d left\n",
		d.Seq, d.Timestamp, d.Owner, verb, d.Consumed, d.Requested, d.Remaining)
}
