package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"block-auction/internal/scenario"
)

func main() {
	var (
		outputFormat = flag.String("format", "text", "Output format: text or json")
		help         = flag.Bool("help", false, "Show usage information")
	)
	flag.Parse()

	if *help || flag.NArg() == 0 {
		showUsage()
		if *help {
			os.Exit(0)
		}
		os.Exit(1)
	}

	failed := 0
	for _, path := range flag.Args() {
		s, err := scenario.LoadFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(2)
		}

		report, err := scenario.Run(s)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error replaying %s: %v\n", path, err)
			os.Exit(2)
		}

		if *outputFormat == "json" {
			printJSON(report)
		} else {
			printText(path, report)
		}
		failed += len(report.Failed())
	}

	if failed > 0 {
		os.Exit(1)
	}
}

func printText(path string, report *scenario.Report) {
	fmt.Printf("%s (%s)\n", report.Name, path)
	for _, o := range report.Outcomes {
		status := "PASS"
		if !o.OK() {
			status = "FAIL"
		}
		what := "finalize"
		if !o.Action.Finalize {
			what = fmt.Sprintf("bid %s %s", o.Action.Bidder, o.Action.Amount)
		}
		fmt.Printf("  %s #%d step=%d phase=%s %s", status, o.Index, o.Action.Step, o.Phase, what)
		if o.Result != nil && o.Result.Winner != nil {
			fmt.Printf(" winner=%s amount=%s", o.Result.Winner.Bidder, o.Result.Winner.Amount)
		}
		if !o.OK() {
			fmt.Printf(" (%s)", o.Mismatch)
		}
		fmt.Println()
	}
}

func printJSON(report *scenario.Report) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding report: %v\n", err)
		os.Exit(2)
	}
}

func showUsage() {
	fmt.Fprintf(os.Stderr, `auctionctl replays auction scenarios against the bid engine.

Usage:
  auctionctl [--format text|json] scenario.yaml [...]

Exit codes:
  0  every action matched its expectation
  1  at least one action did not match
  2  a scenario could not be read or replayed
`)
}
