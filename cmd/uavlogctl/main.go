package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"example.com/uavlog/internal/common"
	"example.com/uavlog/internal/flight"
	"example.com/uavlog/internal/report"
	"example.com/uavlog/internal/store"
	"example.com/uavlog/internal/timeseries"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		return
	}
	cmd := os.Args[1]
	switch cmd {
	case "decode":
		decodeCmd(os.Args[2:])
	case "modes":
		modesCmd(os.Args[2:])
	case "summary":
		summaryCmd(os.Args[2:])
	case "export":
		exportCmd(os.Args[2:])
	case "report":
		reportCmd(os.Args[2:])
	case "cache":
		cacheCmd(os.Args[2:])
	default:
		usage()
	}
}

func usage() {
	fmt.Printf(`uavlogctl %s (built %s) <command> [options]

Commands:
  decode   --in <file.bin|file.ulg> [--out <rows.ndjson>] [--stride <n>] [--metrics] [--progress]
  modes    --in <file>
  summary  --in <file> [--json]
  export   --in <file> --out <rows.csv> [--stride <n>] [--columns <comma-separated>]
  report   --in <file> --pdf <report.pdf> [--json <summary.json>]
  cache    <list|add|show> [...]
`, version, buildDate)
}

// decodeLog runs the decoder with optional throughput reporting. Every
// subcommand funnels through here so --metrics and --progress behave the
// same everywhere.
func decodeLog(path string, withMetrics, withProgress bool) (*flight.Result, *common.Metrics) {
	var metrics *common.Metrics
	if withMetrics || withProgress {
		metrics = common.NewMetrics()
		if info, err := os.Stat(path); err == nil {
			metrics.SetTotalBytes(info.Size())
		}
	}
	var stopProgress func()
	if metrics != nil && withProgress {
		stopProgress = common.StartProgressPrinter(os.Stderr, metrics, 500*time.Millisecond)
	}
	res, err := flight.DecodeWithMetrics(path, metrics)
	if stopProgress != nil {
		stopProgress()
	}
	if err != nil {
		fmt.Println("decode:", err)
		os.Exit(1)
	}
	return res, metrics
}

func printMetrics(metrics *common.Metrics) {
	if metrics == nil {
		return
	}
	snap := metrics.Snapshot()
	mbPerSec := snap.ThroughputBytesPerSecond() / 1_000_000
	fmt.Printf("Metrics: duration=%s messages=%d rows=%d resyncs=%d processed=%s throughput=%.2f MB/s\n",
		snap.Duration.Round(10*time.Millisecond),
		snap.Messages,
		snap.Rows,
		snap.Resyncs,
		common.FormatBytes(snap.Bytes),
		mbPerSec,
	)
}

func decodeCmd(args []string) {
	fs := flag.NewFlagSet("decode", flag.ExitOnError)
	in := fs.String("in", "", "input flight log (.bin or .ulg)")
	out := fs.String("out", "", "NDJSON output file (default stdout)")
	stride := fs.Int("stride", 1, "keep every n-th row")
	metricsFlag := fs.Bool("metrics", false, "print decode throughput metrics")
	progressFlag := fs.Bool("progress", false, "display decode progress updates")
	fs.Parse(args)

	if *in == "" {
		fmt.Println("required: --in")
		os.Exit(1)
	}

	res, metrics := decodeLog(*in, *metricsFlag, *progressFlag)
	if res.Empty() {
		fmt.Println("no decodable data in", *in)
		return
	}
	table := res.Table
	if *stride > 1 {
		table = table.Stride(*stride)
	}

	w := os.Stdout
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			fmt.Println("create output:", err)
			os.Exit(1)
		}
		defer f.Close()
		w = f
	}
	enc := json.NewEncoder(w)
	for i := 0; i < table.Len(); i++ {
		if err := enc.Encode(table.Row(i)); err != nil {
			fmt.Println("write row:", err)
			os.Exit(1)
		}
	}
	if *out != "" {
		fmt.Printf("Wrote %d rows to %s\n", table.Len(), *out)
	}
	printMetrics(metrics)
}

func modesCmd(args []string) {
	fs := flag.NewFlagSet("modes", flag.ExitOnError)
	in := fs.String("in", "", "input flight log (.bin or .ulg)")
	fs.Parse(args)

	if *in == "" {
		fmt.Println("required: --in")
		os.Exit(1)
	}

	res, _ := decodeLog(*in, false, false)
	if res.Empty() {
		fmt.Println("no decodable data in", *in)
		return
	}
	segments := res.Modes()
	if len(segments) == 0 {
		fmt.Println("No mode data recorded")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MODE\tSTART\tEND\tDURATION")
	for _, seg := range segments {
		fmt.Fprintf(w, "%s\t%.2fs\t%.2fs\t%.2fs\n", seg.Mode, seg.Start, seg.End, seg.End-seg.Start)
	}
	w.Flush()
}

func summaryCmd(args []string) {
	fs := flag.NewFlagSet("summary", flag.ExitOnError)
	in := fs.String("in", "", "input flight log (.bin or .ulg)")
	asJSON := fs.Bool("json", false, "print the summary as JSON")
	fs.Parse(args)

	if *in == "" {
		fmt.Println("required: --in")
		os.Exit(1)
	}

	res, _ := decodeLog(*in, false, false)
	sum := flight.Summarize(res)
	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(sum); err != nil {
			fmt.Println("encode summary:", err)
			os.Exit(1)
		}
		return
	}
	if res.Empty() {
		fmt.Println("no decodable data in", *in)
		return
	}
	size := int64(0)
	if info, err := os.Stat(*in); err == nil {
		size = info.Size()
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Log\t%s (%s)\n", sum.Path, humanize.Bytes(uint64(size)))
	fmt.Fprintf(w, "Firmware\t%s\n", sum.Firmware)
	fmt.Fprintf(w, "Rows\t%s\n", humanize.Comma(int64(sum.Rows)))
	fmt.Fprintf(w, "Duration\t%.1f s\n", sum.Duration)
	fmt.Fprintf(w, "Max relative altitude\t%.1f m\n", sum.MaxRelativeAlt)
	if sum.HasVibration {
		fmt.Fprintf(w, "Max vibration\t%.1f m/s/s (%s)\n", sum.MaxVibration, sum.VibeVerdict)
		fmt.Fprintf(w, "Accelerometer clips\t%.0f\n", sum.ClipCount)
	}
	fmt.Fprintf(w, "GPS\t%s\n", presence(sum.HasGPS))
	fmt.Fprintf(w, "Rates\t%s\n", presence(sum.HasRates))
	fmt.Fprintf(w, "Optical flow\t%s\n", presence(sum.HasFlow))
	fmt.Fprintf(w, "Mode segments\t%d\n", len(sum.Modes))
	w.Flush()
}

func presence(ok bool) string {
	if ok {
		return "present"
	}
	return "absent"
}

func exportCmd(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	in := fs.String("in", "", "input flight log (.bin or .ulg)")
	out := fs.String("out", "", "CSV output file")
	stride := fs.Int("stride", 1, "keep every n-th row")
	columnsFlag := fs.String("columns", "", "comma-separated column subset")
	fs.Parse(args)

	if *in == "" || *out == "" {
		fmt.Println("required: --in, --out")
		os.Exit(1)
	}

	res, _ := decodeLog(*in, false, false)
	if res.Empty() {
		fmt.Println("no decodable data in", *in)
		os.Exit(1)
	}
	table := res.Table
	if *stride > 1 {
		table = table.Stride(*stride)
	}

	columns := table.Columns()
	if *columnsFlag != "" {
		var selected []string
		for _, name := range strings.Split(*columnsFlag, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			if !table.HasColumn(name) {
				fmt.Printf("unknown column %q; have: %s\n", name, strings.Join(columns, ", "))
				os.Exit(1)
			}
			selected = append(selected, name)
		}
		if len(selected) == 0 {
			fmt.Println("no columns selected")
			os.Exit(1)
		}
		columns = selected
	}

	f, err := os.Create(*out)
	if err != nil {
		fmt.Println("create output:", err)
		os.Exit(1)
	}
	defer f.Close()
	cw := csv.NewWriter(f)

	header := append([]string{"timestamp"}, columns...)
	if err := cw.Write(header); err != nil {
		fmt.Println("write header:", err)
		os.Exit(1)
	}
	record := make([]string, len(header))
	for i := 0; i < table.Len(); i++ {
		record[0] = strconv.FormatFloat(table.Time(i), 'f', -1, 64)
		for j, name := range columns {
			record[j+1] = cellString(table.At(name, i))
		}
		if err := cw.Write(record); err != nil {
			fmt.Println("write row:", err)
			os.Exit(1)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		fmt.Println("flush csv:", err)
		os.Exit(1)
	}
	fmt.Printf("Wrote %d rows to %s\n", table.Len(), *out)
}

// cellString renders one table cell for CSV. Invalid cells export as empty
// fields, matching how spreadsheet tools read missing data.
func cellString(v timeseries.Value) string {
	if !v.Valid() {
		return ""
	}
	if v.Kind() == timeseries.KindString {
		return v.String()
	}
	return strconv.FormatFloat(v.Float(), 'f', -1, 64)
}

func reportCmd(args []string) {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	in := fs.String("in", "", "input flight log (.bin or .ulg)")
	pdfPath := fs.String("pdf", "", "output flight report PDF")
	jsonPath := fs.String("json", "", "output summary JSON")
	fs.Parse(args)

	if *in == "" {
		fmt.Println("required: --in")
		os.Exit(1)
	}
	if *pdfPath == "" && *jsonPath == "" {
		fmt.Println("required: --pdf or --json")
		os.Exit(1)
	}

	res, _ := decodeLog(*in, false, false)
	sum := flight.Summarize(res)
	sha, _, err := common.Sha256OfFile(*in)
	if err != nil {
		fmt.Println("hash input:", err)
		os.Exit(1)
	}
	if *jsonPath != "" {
		if err := report.SaveSummaryJSON(sum, *jsonPath); err != nil {
			fmt.Println("write summary:", err)
			os.Exit(1)
		}
		fmt.Println("Wrote summary:", *jsonPath)
	}
	if *pdfPath != "" {
		if err := report.SaveFlightPDF(sum, sha, *pdfPath); err != nil {
			fmt.Println("write pdf:", err)
			os.Exit(1)
		}
		fmt.Println("Wrote PDF:", *pdfPath)
	}
	fmt.Println("SHA256:", sha)
}

func cacheCmd(args []string) {
	if len(args) == 0 {
		cacheUsage()
		os.Exit(1)
	}
	sub := args[0]
	switch sub {
	case "list":
		cacheListCmd(args[1:])
	case "add":
		cacheAddCmd(args[1:])
	case "show":
		cacheShowCmd(args[1:])
	default:
		fmt.Println("unknown cache subcommand")
		cacheUsage()
		os.Exit(1)
	}
}

func cacheUsage() {
	fmt.Println("cache commands:")
	fmt.Println("  list --db <flights.db>")
	fmt.Println("  add  --db <flights.db> --in <file.bin|file.ulg>")
	fmt.Println("  show --db <flights.db> --sha <sha256>")
}

func cacheListCmd(args []string) {
	fs := flag.NewFlagSet("cache list", flag.ExitOnError)
	dbPath := fs.String("db", "flights.db", "cache database path")
	fs.Parse(args)

	db := store.New(*dbPath)
	defer db.Close()
	flights, err := db.List(context.Background())
	if err != nil {
		fmt.Println("list cache:", err)
		os.Exit(1)
	}
	if len(flights) == 0 {
		fmt.Println("No cached flights")
		return
	}
	sort.Slice(flights, func(i, j int) bool { return flights[i].Path < flights[j].Path })
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "LOG\tFIRMWARE\tROWS\tDURATION\tVIBE\tMODES")
	for _, sum := range flights {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.1fs\t%s\t%d\n",
			sum.Path,
			sum.Firmware,
			humanize.Comma(int64(sum.Rows)),
			sum.Duration,
			sum.VibeVerdict,
			len(sum.Modes),
		)
	}
	w.Flush()
}

func cacheAddCmd(args []string) {
	fs := flag.NewFlagSet("cache add", flag.ExitOnError)
	dbPath := fs.String("db", "flights.db", "cache database path")
	in := fs.String("in", "", "input flight log (.bin or .ulg)")
	fs.Parse(args)

	if *in == "" {
		fmt.Println("required: --in")
		os.Exit(1)
	}

	sha, size, err := common.Sha256OfFile(*in)
	if err != nil {
		fmt.Println("hash input:", err)
		os.Exit(1)
	}
	res, _ := decodeLog(*in, false, false)
	if res.Empty() {
		fmt.Println("no decodable data in", *in)
		os.Exit(1)
	}
	sum := flight.Summarize(res)

	db := store.New(*dbPath)
	defer db.Close()
	if err := db.Put(context.Background(), sha, size, res, sum); err != nil {
		fmt.Println("cache put:", err)
		os.Exit(1)
	}
	fmt.Printf("Cached %s (%s, %s rows) as %s\n", sum.Path, humanize.Bytes(uint64(size)), humanize.Comma(int64(sum.Rows)), sha)
}

func cacheShowCmd(args []string) {
	fs := flag.NewFlagSet("cache show", flag.ExitOnError)
	dbPath := fs.String("db", "flights.db", "cache database path")
	sha := fs.String("sha", "", "content hash of the cached flight")
	fs.Parse(args)

	if *sha == "" {
		fmt.Println("required: --sha")
		os.Exit(1)
	}

	db := store.New(*dbPath)
	defer db.Close()
	cached, ok, err := db.Get(context.Background(), *sha)
	if err != nil {
		fmt.Println("cache get:", err)
		os.Exit(1)
	}
	if !ok {
		fmt.Println("flight not cached")
		os.Exit(1)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(cached.Summary); err != nil {
		fmt.Println("encode summary:", err)
		os.Exit(1)
	}
}
