package main

import (
	"flag"
	"fmt"
	"os"
	"time"
)

// crash-after runs for a bit then exits non-zero, so supervision and
// exit-info capture have something deterministic to observe.
func main() {
	var after time.Duration
	var code int
	flag.DurationVar(&after, "after", 250*time.Millisecond, "Duration before exit")
	flag.IntVar(&code, "code", 3, "Exit code")
	flag.Parse()

	_, _ = fmt.Fprintf(os.Stderr, "crash-after starting (after=%s code=%d)\n", after, code)
	_, _ = fmt.Fprintln(os.Stdout, "crash-after: running")
	time.Sleep(after)
	_, _ = fmt.Fprintln(os.Stderr, "crash-after: giving up")
	os.Exit(code)
}
