package main

// Replays one fuzz input: fuzzmain <file>

import (
	"flag"
	"os"

	"v.io/x/lib/vlog"

	"github.com/covasquezv/go-ctscan/fuzzseries"
)

func main() {
	flag.Parse()
	vlog.ConfigureLibraryLoggerFromFlags()
	fuzzData, err := os.ReadFile(flag.Arg(0))
	if err != nil {
		vlog.Fatalf("%s: %v", flag.Arg(0), err)
	}
	fuzzseries.Fuzz(fuzzData)
}
