package main

import (
	"flag"
	"fmt"
	"os"
	"time"
)

// log-spewer emits a steady stream on both streams, then idles. Used to
// exercise log capture and bounded tailing.
func main() {
	var interval time.Duration
	var count int
	flag.DurationVar(&interval, "interval", 50*time.Millisecond, "Delay between lines")
	flag.IntVar(&count, "count", 50, "Number of lines to emit before idling")
	flag.Parse()

	for i := 0; i < count; i++ {
		_, _ = fmt.Fprintf(os.Stdout, "%s stdout line %d\n", time.Now().Format(time.RFC3339), i)
		_, _ = fmt.Fprintf(os.Stderr, "%s stderr line %d\n", time.Now().Format(time.RFC3339), i)
		time.Sleep(interval)
	}
	select {}
}
