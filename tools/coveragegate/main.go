package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"golang.org/x/tools/cover"
)

type coverage struct {
	covered int
	total   int
}

// coreFiles hold the deterministic state machine and must stay near fully
// covered.
var coreFiles = []string{
	"msgbus/backoff.go",
	"msgbus/endpoint.go",
	"msgbus/errors.go",
	"msgbus/frame.go",
	"msgbus/heartbeat.go",
	"msgbus/outbound.go",
	"msgbus/pending.go",
	"msgbus/registry.go",
	"msgbus/router.go",
	"msgbus/state.go",
	"msgbus/internal/clock/clock.go",
	"msgbus/internal/testutil/fakes.go",
}

// ioFiles talk to goroutines, timers or sockets.
var ioFiles = []string{
	"msgbus/bus.go",
	"msgbus/connection.go",
	"msgbus/loop.go",
	"msgbus/transport/wstransport/wstransport.go",
}

type thresholds struct {
	overall float64
	core    float64
	io      float64
}

func summarize(profiles []*cover.Profile) map[string]coverage {
	result := map[string]coverage{}
	for _, profile := range profiles {
		entry := result[profile.FileName]
		for _, block := range profile.Blocks {
			entry.total += block.NumStmt
			if block.Count > 0 {
				entry.covered += block.NumStmt
			}
		}
		result[profile.FileName] = entry
	}
	return result
}

func findCoverage(files map[string]coverage, suffix string) (coverage, bool) {
	for fileName, cov := range files {
		if strings.HasSuffix(fileName, suffix) {
			return cov, true
		}
	}
	return coverage{}, false
}

func pct(c coverage) float64 {
	if c.total == 0 {
		return 0
	}
	return (float64(c.covered) * 100.0) / float64(c.total)
}

// evaluate returns the aggregate coverage and the sorted list of failures.
func evaluate(files map[string]coverage, limits thresholds) (coverage, []string) {
	total := coverage{}
	for _, fileCov := range files {
		total.covered += fileCov.covered
		total.total += fileCov.total
	}

	failures := make([]string, 0)
	if overall := pct(total); overall+1e-9 < limits.overall {
		failures = append(failures, fmt.Sprintf("aggregate coverage %.1f%% is below %.1f%%", overall, limits.overall))
	}

	check := func(kind string, names []string, minimum float64) {
		for _, fileName := range names {
			fileCov, ok := findCoverage(files, fileName)
			if !ok {
				failures = append(failures, fmt.Sprintf("%s file %s is missing from coverage profile", kind, fileName))
				continue
			}
			if filePct := pct(fileCov); filePct+1e-9 < minimum {
				failures = append(failures, fmt.Sprintf("%s file %s is %.1f%% (required %.1f%%)", kind, fileName, filePct, minimum))
			}
		}
	}
	check("core", coreFiles, limits.core)
	check("io", ioFiles, limits.io)

	sort.Strings(failures)
	return total, failures
}

func report(out io.Writer, total coverage, failures []string) bool {
	fmt.Fprintf(out, "aggregate: %.1f%% (%d/%d)\n", pct(total), total.covered, total.total)
	if len(failures) == 0 {
		fmt.Fprintln(out, "coverage gate: PASS")
		return true
	}
	fmt.Fprintln(out, "coverage gate: FAIL")
	for _, failure := range failures {
		fmt.Fprintf(out, "- %s\n", failure)
	}
	return false
}

func main() {
	profilePath := flag.String("profile", "coverage.out", "path to go coverage profile")
	overallThreshold := flag.Float64("overall", 85.0, "minimum aggregate coverage percentage")
	coreThreshold := flag.Float64("core", 95.0, "minimum core file coverage percentage")
	ioThreshold := flag.Float64("io", 75.0, "minimum io file coverage percentage")
	flag.Parse()

	profiles, err := cover.ParseProfiles(*profilePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "coverage gate failed reading profile: %v\n", err)
		os.Exit(1)
	}

	total, failures := evaluate(summarize(profiles), thresholds{
		overall: *overallThreshold,
		core:    *coreThreshold,
		io:      *ioThreshold,
	})
	if !report(os.Stdout, total, failures) {
		os.Exit(2)
	}
}
