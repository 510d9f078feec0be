package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"
	"time"
)

// CLI flags
var (
	apiURL = flag.String("api-url", "http://localhost:8080", "otakuscrape API base URL")
	apiKey = flag.String("api-key", "", "API key for authenticated requests")
	runs   = flag.Int("runs", 3, "Number of runs per endpoint; the first is usually a cache miss")
	output = flag.String("output", "benchmark-results.json", "JSON output file path")
)

// Catalog endpoints covering listings, details and search on each site.
var targets = []struct {
	Label  string
	Path   string
	Params url.Values
}{
	{"Listing", "manhwaindo/latest", nil},
	{"Filtered", "manhwaindo/series-list", url.Values{"order": {"popular"}, "page": {"2"}}},
	{"Detail", "manhwaindo/series", url.Values{"slug": {"solo-leveling"}}},
	{"Anime", "otakudesu/ongoing", nil},
	{"Search", "otakudesu/search", url.Values{"q": {"one piece"}}},
	{"Anoboy", "anoboy/ongoing", nil},
}

// --- Response types (mirrors models package) ---

type resourceResponse struct {
	Success     bool         `json:"success"`
	Degraded    bool         `json:"degraded"`
	Missing     []string     `json:"missing"`
	Strategy    string       `json:"strategy"`
	CacheStatus string       `json:"cache_status"`
	Attempts    []attempt    `json:"attempts"`
	Timing      timingInfo   `json:"timing"`
	Error       *errorDetail `json:"error,omitempty"`
}

type attempt struct {
	Strategy string `json:"strategy"`
	Outcome  string `json:"outcome"`
}

type timingInfo struct {
	TotalMs   int64 `json:"total_ms"`
	FetchMs   int64 `json:"fetch_ms"`
	ExtractMs int64 `json:"extract_ms"`
}

type errorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// --- Benchmark result types ---

type runResult struct {
	Run         int    `json:"run"`
	TotalMs     int64  `json:"total_ms"`
	FetchMs     int64  `json:"fetch_ms"`
	ExtractMs   int64  `json:"extract_ms"`
	WallMs      int64  `json:"wall_ms"`
	Strategy    string `json:"strategy"`
	CacheStatus string `json:"cache_status"`
	Attempts    int    `json:"attempts"`
	Degraded    bool   `json:"degraded"`
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
}

type targetAverages struct {
	MissMs    float64 `json:"miss_ms"`
	HitMs     float64 `json:"hit_ms"`
	ExtractMs float64 `json:"extract_ms"`
}

type targetResult struct {
	Path     string          `json:"path"`
	Label    string          `json:"label"`
	Runs     []runResult     `json:"runs"`
	Averages *targetAverages `json:"averages,omitempty"`
}

type benchmarkReport struct {
	Timestamp     string         `json:"timestamp"`
	APIURL        string         `json:"api_url"`
	RunsPerTarget int            `json:"runs_per_target"`
	Results       []targetResult `json:"results"`
}

func main() {
	flag.Parse()

	fmt.Println("=== otakuscrape Benchmark Suite ===")
	fmt.Printf("API URL:      %s\n", *apiURL)
	fmt.Printf("Runs/target:  %d\n", *runs)
	fmt.Printf("Output:       %s\n", *output)
	fmt.Println()

	// Quick connectivity check.
	if err := checkAPI(*apiURL); err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot reach API at %s: %v\n", *apiURL, err)
		fmt.Fprintf(os.Stderr, "Make sure otakuscrape is running (e.g. go run ./cmd/otakuscrape)\n")
		os.Exit(1)
	}

	report := benchmarkReport{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		APIURL:        *apiURL,
		RunsPerTarget: *runs,
	}

	for _, t := range targets {
		fmt.Printf("Benchmarking [%s] %s ...\n", t.Label, t.Path)
		tr := targetResult{Path: t.Path, Label: t.Label}

		for i := 1; i <= *runs; i++ {
			fmt.Printf("  Run %d/%d ... ", i, *runs)
			rr := benchmarkTarget(t.Path, t.Params, i)
			switch {
			case !rr.Success:
				fmt.Printf("FAILED: %s\n", rr.Error)
			case rr.Degraded:
				fmt.Printf("DEGRADED  %dms  %s  cache %s\n", rr.TotalMs, rr.Strategy, rr.CacheStatus)
			default:
				fmt.Printf("OK  %dms  %s  cache %s\n", rr.TotalMs, rr.Strategy, rr.CacheStatus)
			}
			tr.Runs = append(tr.Runs, rr)
		}

		tr.Averages = computeAverages(tr.Runs)
		report.Results = append(report.Results, tr)
		fmt.Println()
	}

	// Print summary table.
	printTable(report.Results)

	// Write JSON report.
	if err := writeJSON(*output, report); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing JSON output: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("\nDetailed results written to %s\n", *output)
}

func checkAPI(baseURL string) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(baseURL + "/api/v1/health")
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func benchmarkTarget(path string, params url.Values, run int) runResult {
	rr := runResult{Run: run}

	target := *apiURL + "/api/v1/sites/" + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, target, nil)
	if err != nil {
		rr.Error = fmt.Sprintf("request error: %v", err)
		return rr
	}
	if *apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+*apiKey)
	}

	client := &http.Client{Timeout: 130 * time.Second}
	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		rr.Error = fmt.Sprintf("request failed: %v", err)
		return rr
	}
	defer resp.Body.Close()

	var sr resourceResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		rr.Error = fmt.Sprintf("decode error: %v", err)
		return rr
	}
	rr.WallMs = time.Since(start).Milliseconds()

	rr.Success = sr.Success
	rr.Degraded = sr.Degraded
	rr.Strategy = sr.Strategy
	rr.CacheStatus = sr.CacheStatus
	rr.Attempts = len(sr.Attempts)
	rr.TotalMs = sr.Timing.TotalMs
	rr.FetchMs = sr.Timing.FetchMs
	rr.ExtractMs = sr.Timing.ExtractMs

	if sr.Error != nil {
		rr.Error = fmt.Sprintf("[%s] %s", sr.Error.Kind, sr.Error.Message)
	}

	return rr
}

func computeAverages(runs []runResult) *targetAverages {
	var misses, hits, extracts int
	var avg targetAverages

	for _, r := range runs {
		if !r.Success {
			continue
		}
		if r.CacheStatus == "hit" {
			hits++
			avg.HitMs += float64(r.TotalMs)
			continue
		}
		misses++
		avg.MissMs += float64(r.TotalMs)
		extracts++
		avg.ExtractMs += float64(r.ExtractMs)
	}

	if misses+hits == 0 {
		return nil
	}
	if misses > 0 {
		avg.MissMs /= float64(misses)
	}
	if hits > 0 {
		avg.HitMs /= float64(hits)
	}
	if extracts > 0 {
		avg.ExtractMs /= float64(extracts)
	}
	return &avg
}

func printTable(results []targetResult) {
	fmt.Println(strings.Repeat("─", 85))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Endpoint\tMiss\tHit\tExtract\tStrategy\n")
	fmt.Fprintf(w, "────────\t────\t───\t───────\t────────\n")

	for _, r := range results {
		if r.Averages == nil {
			fmt.Fprintf(w, "%s\tFAILED\t-\t-\t-\n", r.Path)
			continue
		}

		fmt.Fprintf(w, "%s\t%dms\t%dms\t%dms\t%s\n",
			r.Path,
			int64(r.Averages.MissMs),
			int64(r.Averages.HitMs),
			int64(r.Averages.ExtractMs),
			dominantStrategy(r.Runs),
		)
	}

	w.Flush()
	fmt.Println(strings.Repeat("─", 85))
}

func dominantStrategy(runs []runResult) string {
	counts := map[string]int{}
	for _, r := range runs {
		if r.Success && r.CacheStatus != "hit" {
			counts[r.Strategy]++
		}
	}
	best, bestCount := "-", 0
	for name, count := range counts {
		if count > bestCount {
			best = name
			bestCount = count
		}
	}
	return best
}

func writeJSON(path string, report benchmarkReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
