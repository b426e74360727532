// Command chainverify checks an exported audit chain. It reads the export from the
// file named on the command line, or stdin, and exits 1 when the chain is broken.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/MrEthical07/authtrail/audit"
)

const (
	exitOK     = 0
	exitBroken = 1
	exitUsage  = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("chainverify", flag.ContinueOnError)
	fs.SetOutput(stderr)
	latest := fs.Int("latest", 0, "print the newest N entries after verifying")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	var (
		data []byte
		err  error
	)
	switch fs.NArg() {
	case 0:
		data, err = io.ReadAll(stdin)
	case 1:
		data, err = os.ReadFile(fs.Arg(0))
	default:
		fmt.Fprintln(stderr, "usage: chainverify [-latest N] [export.json]")
		return exitUsage
	}
	if err != nil {
		fmt.Fprintf(stderr, "read export: %v\n", err)
		return exitUsage
	}

	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	chain, err := audit.Import(data, audit.WithLogger(logger))
	if err != nil {
		fmt.Fprintf(stderr, "import export: %v\n", err)
		return exitUsage
	}

	if err := chain.Verify(); err != nil {
		var ie *audit.IntegrityError
		if errors.As(err, &ie) {
			fmt.Fprintf(stdout, "BROKEN at index %d (entry %s): %s\n", ie.Index, ie.EntryID, ie.Reason)
			return exitBroken
		}
		fmt.Fprintf(stderr, "verify: %v\n", err)
		return exitBroken
	}

	fmt.Fprintf(stdout, "OK %d entries, head %s\n", chain.Len(), chain.LastHash())
	for _, e := range chain.Latest(*latest) {
		if *latest <= 0 {
			break
		}
		fmt.Fprintf(stdout, "%s %s %s/%s %s\n",
			e.Timestamp().Format(audit.TimestampLayout), e.Action(), e.ResourceType(), e.ResourceID(), e.Status())
	}
	return exitOK
}
