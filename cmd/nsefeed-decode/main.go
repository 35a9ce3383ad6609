package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"nsefeed/internal/decode"
	"nsefeed/internal/util"
)

// nsefeed-decode decodes local feed files to JSON on stdout: snapshot
// archives (.mkt.gz/.ind.gz/.ca2.gz), Securities.dat, or a bhavcopy text
// file. Useful for inspecting files pulled by hand.
func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <file>...\n", filepath.Base(os.Args[0]))
		os.Exit(2)
	}

	logger := util.NewLogger(os.Getenv("LOG_LEVEL"))
	dec := decode.New(logger)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	for _, path := range os.Args[1:] {
		raw, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "reading %s: %v\n", path, err)
			os.Exit(1)
		}

		name := filepath.Base(path)
		var out any
		switch {
		case strings.HasPrefix(name, "CMBhavcopy_"):
			rows, err := dec.Bhavcopy(name, raw)
			if err != nil {
				fmt.Fprintf(os.Stderr, "decoding %s: %v\n", path, err)
				os.Exit(1)
			}
			out = rows
		case strings.EqualFold(name, "Securities.dat"):
			out = dec.Securities(raw)
		default:
			batch, err := dec.Snapshot(path, raw)
			if err != nil {
				fmt.Fprintf(os.Stderr, "decoding %s: %v\n", path, err)
				os.Exit(1)
			}
			out = batch
		}

		if err := enc.Encode(out); err != nil {
			fmt.Fprintf(os.Stderr, "encoding %s: %v\n", path, err)
			os.Exit(1)
		}
	}
}
