// snapledger-queue inspects and maintains the durable offline queue without
// going through the daemon. It operates on the same bbolt file, so stop
// snapledgerd before pointing it at a live database.
package main

import (
	"fmt"
	"os"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/snapledger/snapledger/internal/resilience"
)

func main() {
	fs := ff.NewFlagSet("snapledger-queue")
	var (
		dbPath = fs.StringLong("queue-db", "snapledger-queue.db", "Offline queue database file path")
		key    = fs.StringLong("key", resilience.QueueKeyOffline, "Queue key to operate on")
		clear  = fs.BoolLong("clear", "Delete every item under the key instead of listing")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("SNAPLEDGER"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	queue, err := resilience.NewBoltQueue(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: opening queue: %v\n", err)
		os.Exit(1)
	}
	defer queue.Close()

	if *clear {
		if err := queue.Clear(*key); err != nil {
			fmt.Fprintf(os.Stderr, "error: clearing %s: %v\n", *key, err)
			os.Exit(1)
		}
		fmt.Printf("cleared %s\n", *key)
		return
	}

	items, err := queue.Items(*key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: reading %s: %v\n", *key, err)
		os.Exit(1)
	}
	if len(items) == 0 {
		fmt.Printf("%s: empty\n", *key)
		return
	}
	for _, item := range items {
		fmt.Printf("%s  queued=%s  needs_sync=%t  %d bytes\n",
			item.ID, item.QueuedAt.Format("2006-01-02 15:04:05"), item.NeedsSync, len(item.Payload))
	}
	fmt.Printf("%d item(s) under %s\n", len(items), *key)
}
