package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Hazard804/mdcx/internal/config"
	"github.com/Hazard804/mdcx/internal/crawler"
	"github.com/Hazard804/mdcx/internal/events"
	"github.com/Hazard804/mdcx/internal/fanout"
	"github.com/Hazard804/mdcx/internal/httpclient"
	"github.com/Hazard804/mdcx/internal/model"
	"github.com/Hazard804/mdcx/internal/output"
	"github.com/Hazard804/mdcx/internal/refiner"
	"github.com/Hazard804/mdcx/internal/sites/dmm"
	"github.com/Hazard804/mdcx/internal/sites/missav"
)

var version = "1.0.0"

// flags holds all parsed CLI options.
type flags struct {
	number     string
	configFile string
	output     string
	useBrowser bool
	silent     bool
	verbose    bool
	noColor    bool

	showHelp    bool
	showVersion bool
}

func main() {
	enableANSI()
	f := parseFlags()

	if f.showVersion {
		fmt.Printf("mdcxfetch v%s\n", version)
		os.Exit(0)
	}

	if f.showHelp || f.number == "" {
		printUsage()
		if f.number == "" && !f.showHelp {
			os.Exit(1)
		}
		os.Exit(0)
	}

	cfg, err := config.Load(f.configFile)
	if err != nil {
		fatal("config error: %v", err)
	}

	logger := zap.NewNop()
	if f.verbose {
		logger, _ = zap.NewDevelopment()
	} else if !f.silent {
		logger, _ = zap.NewProduction()
	}
	bus := events.NewBus(events.WithLogger(logger))

	client, err := httpclient.New(httpclient.Config{
		Proxy:         cfg.Proxy,
		Retry:         cfg.Retry,
		Timeout:       cfg.Timeout(),
		BypassBaseURL: cfg.BypassBaseURL,
		RespectRobots: cfg.RespectRobots,
	}, bus)
	if err != nil {
		fatal("http client init failed: %v", err)
	}

	var browser crawler.BrowserPool
	if f.useBrowser {
		b, err := crawler.NewBrowser(crawler.BrowserConfig{})
		if err != nil {
			fmt.Fprintf(os.Stderr, "  %s browser unavailable, digital-category sites may fail: %v\n", clr("yellow", "!"), err)
		} else {
			browser = b
			defer b.Close()
		}
	}

	engine := fanout.New(fanout.Config{
		Sites:             []crawler.Site{dmm.New(""), missav.New("")},
		Client:            client,
		Browser:           browser,
		Priority:          fanout.FieldPriority(cfg.FieldPriority),
		Bus:               bus,
		GlobalConcurrency: cfg.GlobalConcurrency,
		PerRequestTimeout: cfg.Timeout(),
		Retry:             cfg.Retry,
	})

	ctx, stop := signalContext()
	defer stop()

	if !f.silent {
		printBanner()
		fmt.Printf("\n  %s %s\n\n", clr("cyan", "Number:"), f.number)
	}

	start := time.Now()
	record, results := engine.Lookup(ctx, model.Input{Number: strings.ToUpper(f.number)})
	elapsed := time.Since(start)

	refineRecord(ctx, client, record)

	if !f.silent {
		printResults(record, results, elapsed)
	}

	if f.output != "" {
		w := output.NewTextWriter(f.output)
		if err := w.WriteResult(record, results, elapsed); err != nil {
			fmt.Fprintf(os.Stderr, "  %s failed to write output: %v\n", clr("red", "✗"), err)
		}
	}

	_ = bus.Sync()
}

// refineRecord applies C6 post-merge refinement in place: escalating a DMM
// trailer to the highest reachable rung of its quality ladder (rather than
// just re-checking the single URL a site already returned) and upgrading a
// DMM thumbnail to its AWS-mirror original-resolution form.
func refineRecord(ctx context.Context, client *httpclient.Client, record *model.MergedRecord) {
	if record.Trailer != "" {
		candidates := []string{record.Trailer}
		if cid := dmm.CIDFromTrailerURL(record.Trailer); cid != "" {
			candidates = append(candidates, dmm.TrailerLadder(cid)...)
		}
		if best, rank, err := refiner.ProbeBestTrailer(ctx, client, candidates); err == nil {
			record.Trailer = best
			record.TrailerQualityRank = rank
		}
	}
	if record.Thumb != "" {
		record.Thumb = refiner.UpgradeToAWSMirror(ctx, client, record.Thumb)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	registerSignals(sig)
	go func() {
		<-sig
		fmt.Fprintf(os.Stderr, "\n\n%s Interrupt received, stopping...\n", clr("yellow", "!"))
		cancel()
	}()
	return ctx, func() {
		signal.Stop(sig)
		cancel()
	}
}

func printResults(record *model.MergedRecord, results []fanout.SiteResult, elapsed time.Duration) {
	fmt.Printf("  %s %s\n", clr("dim", "Title:"), record.Title)
	fmt.Printf("  %s %s\n", clr("dim", "Studio:"), record.Studio)
	fmt.Printf("  %s %s (%s)\n", clr("dim", "Release:"), record.Release, record.Year)
	if len(record.Actors) > 0 {
		fmt.Printf("  %s %s\n", clr("dim", "Actors:"), strings.Join(record.Actors, ", "))
	}
	fmt.Println()
	fmt.Printf("  %s\n", strings.Repeat("-", 50))
	ok, failed := 0, 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			fmt.Printf("  %s %-10s %v\n", clr("red", "✗"), r.Site, r.Err)
			continue
		}
		ok++
		fmt.Printf("  %s %-10s\n", clr("green", "●"), r.Site)
	}
	fmt.Printf("\n  %s %d succeeded, %d failed in %s\n\n", clr("green", "✓"), ok, failed, fmtDur(elapsed))
}

// ---------- Flag parsing ----------

func parseFlags() *flags {
	f := &flags{}

	args := os.Args[1:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		next := func() string {
			if i+1 < len(args) {
				i++
				return args[i]
			}
			fatal("flag %s requires an argument", arg)
			return ""
		}

		switch arg {
		case "-n", "--number":
			f.number = next()
		case "--config":
			f.configFile = next()
		case "-o", "--output":
			f.output = next()
		case "-b", "--browser":
			f.useBrowser = true
		case "-si", "--silent":
			f.silent = true
		case "-v", "--verbose":
			f.verbose = true
		case "-nc", "--no-color":
			f.noColor = true
		case "-h", "--help":
			f.showHelp = true
		case "-V", "--version":
			f.showVersion = true
		default:
			if !strings.HasPrefix(arg, "-") && f.number == "" {
				f.number = arg
			} else {
				fmt.Fprintf(os.Stderr, "Unknown flag: %s (use --help for usage)\n", arg)
				os.Exit(1)
			}
		}
	}
	return f
}

// ---------- Help / banner ----------

func printUsage() {
	printBanner()
	fmt.Print(`
USAGE:
  mdcxfetch [flags] <number>
  mdcxfetch -n SSIS-497
  mdcxfetch -n SSIS-497 -b -o report.txt

TARGET:
  -n,    --number <string>    catalog number to look up (e.g. SSIS-497)

REQUEST:
         --config <string>    path to a YAML config file
  -b,    --browser            enable the headless browser for sites that need JS rendering

OUTPUT:
  -o,    --output <string>    save a plain-text report to file
  -si,   --silent             suppress all output except errors
  -v,    --verbose            enable debug-level logging
  -nc,   --no-color           disable colored output

META:
  -h,    --help                show this help message
  -V,    --version             show version

`)
}

func printBanner() {
	banner := `
  ███╗   ███╗██████╗  ██████╗██╗  ██╗
  ████╗ ████║██╔══██╗██╔════╝╚██╗██╔╝
  ██╔████╔██║██║  ██║██║      ╚███╔╝
  ██║╚██╔╝██║██║  ██║██║      ██╔██╗
  ██║ ╚═╝ ██║██████╔╝╚██████╗██╔╝ ██╗
  ╚═╝     ╚═╝╚═════╝  ╚═════╝╚═╝  ╚═╝`
	fmt.Println(clr("cyan", banner))
	fmt.Printf("  %s  %s\n", clr("dim", "Metadata fetcher for adult video catalog numbers"), clr("dim", "v"+version))
	fmt.Printf("  %s\n", clr("dim", strings.Repeat("-", 58)))
}

// ---------- Utilities ----------

func fmtDur(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	m := int(d.Minutes())
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dm%ds", m, s)
}

func clr(color, text string) string {
	codes := map[string]string{
		"red":    "\033[31m",
		"green":  "\033[32m",
		"yellow": "\033[33m",
		"cyan":   "\033[36m",
		"dim":    "\033[2m",
		"bold":   "\033[1m",
		"reset":  "\033[0m",
	}
	c, ok := codes[color]
	if !ok {
		return text
	}
	return c + text + codes["reset"]
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "\n  %s %s\n\n", clr("red", "ERROR:"), fmt.Sprintf(format, args...))
	os.Exit(1)
}
