// Command signaltrace analyzes log files offline and prints ranked incidents.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/go-core/cfg"
	"github.com/linnemanlabs/go-core/log"
	v "github.com/linnemanlabs/go-core/version"

	"github.com/linnemanlabs/signaltrace/internal/evidence"
	"github.com/linnemanlabs/signaltrace/internal/explain"
	"github.com/linnemanlabs/signaltrace/internal/llm/claude"
	"github.com/linnemanlabs/signaltrace/internal/scoring"
	"github.com/linnemanlabs/signaltrace/internal/textdecode"
	"github.com/linnemanlabs/signaltrace/internal/triage"
)

const appName = "signaltrace"
const component = "cli"

// exitThreshold is the exit code when -fail-on is met.
const exitThreshold = 2

var errThreshold = errors.New("incident priority threshold reached")

func main() {
	v.AppName = appName
	v.Component = component

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	switch {
	case err == nil:
	case errors.Is(err, errThreshold):
		os.Exit(exitThreshold)
	case errors.Is(err, flag.ErrHelp):
		os.Exit(0)
	default:
		fmt.Fprintln(os.Stderr, "signaltrace:", err)
		os.Exit(1)
	}
}

type options struct {
	json          bool
	verbose       bool
	maxSamples    int
	workers       int
	scoringConfig string
	claudeAPIKey  string
	claudeModel   string
	failOn        string
	logCfg        log.Config
}

func (o *options) registerFlags(fs *flag.FlagSet) {
	fs.BoolVar(&o.json, "json", false, "print JSON instead of a table")
	fs.BoolVar(&o.verbose, "v", false, "log pipeline progress to stderr")
	fs.IntVar(&o.maxSamples, "max-samples", evidence.DefaultMaxSamples, "maximum sample lines per evidence bundle")
	fs.IntVar(&o.workers, "workers", 4, "concurrent per-incident workers")
	fs.StringVar(&o.scoringConfig, "scoring-config", "", "YAML file overlaying the default scoring weights and thresholds")
	fs.StringVar(&o.claudeAPIKey, "claude-api-key", "", "API key for the Claude explainer (empty = deterministic fallback only)")
	fs.StringVar(&o.claudeModel, "claude-model", claude.DefaultModel, "Claude model to use")
	fs.StringVar(&o.failOn, "fail-on", "", "exit 2 if any incident is at or above this priority (P0..P3)")
	o.logCfg.RegisterFlags(fs)
}

func (o *options) validate() error {
	var errs []error
	if o.maxSamples < evidence.MinSamples {
		errs = append(errs, fmt.Errorf("-max-samples must be at least %d, got %d", evidence.MinSamples, o.maxSamples))
	}
	if o.workers < 1 {
		errs = append(errs, fmt.Errorf("-workers must be positive, got %d", o.workers))
	}
	if o.failOn != "" {
		if _, ok := scoring.ParsePriority(o.failOn); !ok {
			errs = append(errs, fmt.Errorf("-fail-on must be P0..P3, got %q", o.failOn))
		}
	}
	if o.verbose {
		errs = append(errs, o.logCfg.Validate())
	}
	return errors.Join(errs...)
}

// fileReport is the result for one input file.
type fileReport struct {
	File      string             `json:"file"`
	Encoding  string             `json:"encoding"`
	NumLines  int                `json:"num_lines"`
	Duration  float64            `json:"duration_seconds"`
	Incidents []*triage.Incident `json:"incidents"`
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var opts options
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	fs.SetOutput(stderr)
	opts.registerFlags(fs)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: %s [flags] FILE...\n", appName)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg.FillFromEnv(fs, "SIGNALTRACE_", func(format string, args ...any) {
		fmt.Fprintf(stderr, format+"\n", args...)
	})

	if err := opts.validate(); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("no input files")
	}

	L := log.Nop()
	if opts.verbose {
		lg, err := log.New(opts.logCfg.ToOptions(appName))
		if err != nil {
			return fmt.Errorf("logger init: %w", err)
		}
		defer func() { _ = lg.Sync() }()
		L = lg.With("component", component)
	}

	engine, err := newEngine(&opts, L)
	if err != nil {
		return err
	}

	reports := make([]*fileReport, 0, fs.NArg())
	for _, path := range fs.Args() {
		rep, err := analyzeFile(ctx, engine, path)
		if err != nil {
			return err
		}
		reports = append(reports, rep)
	}

	if opts.json {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(reports); err != nil {
			return fmt.Errorf("write json: %w", err)
		}
	} else if err := writeTable(stdout, reports); err != nil {
		return fmt.Errorf("write table: %w", err)
	}

	if opts.failOn != "" {
		threshold, _ := scoring.ParsePriority(opts.failOn)
		for _, rep := range reports {
			for _, inc := range rep.Incidents {
				if inc.Priority.AtLeast(threshold) {
					return errThreshold
				}
			}
		}
	}
	return nil
}

func newEngine(opts *options, L log.Logger) (*triage.Engine, error) {
	scoringCfg, err := scoring.LoadConfig(opts.scoringConfig)
	if err != nil {
		return nil, err
	}
	scorer, err := scoring.New(scoringCfg)
	if err != nil {
		return nil, err
	}

	var explainer explain.Explainer
	if opts.claudeAPIKey != "" {
		explainer = claude.New(opts.claudeAPIKey, opts.claudeModel)
	}
	guardrail := explain.NewGuardrail(explainer, explain.WithLogger(L))

	return triage.NewEngine(scorer, evidence.New(opts.maxSamples), guardrail, L, triage.EngineHooks{},
		triage.WithWorkers(opts.workers),
	), nil
}

func analyzeFile(ctx context.Context, engine *triage.Engine, path string) (*fileReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	text, enc := textdecode.Decode(data)

	start := time.Now()
	a, err := engine.Analyze(ctx, ulid.Make().String(), text)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &fileReport{
		File:      path,
		Encoding:  enc,
		NumLines:  a.NumLines,
		Duration:  time.Since(start).Seconds(),
		Incidents: a.Incidents,
	}, nil
}

func writeTable(w io.Writer, reports []*fileReport) error {
	for i, rep := range reports {
		if i > 0 {
			if _, err := fmt.Fprintln(w); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(w, "%s: %d lines, %d incidents (%s)\n", rep.File, rep.NumLines, len(rep.Incidents), rep.Encoding); err != nil {
			return err
		}
		if len(rep.Incidents) == 0 {
			continue
		}

		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "RANK\tPRIORITY\tSCORE\tSEVERITY\tCOUNT\tSERVICES\tTITLE")
		for _, inc := range rep.Incidents {
			fmt.Fprintf(tw, "%d\t%s\t%.4f\t%s\t%d\t%s\t%s\n",
				inc.Rank, inc.Priority, inc.Score, inc.Severity, inc.Count,
				strings.Join(inc.Services, ","), inc.Title)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	return nil
}
