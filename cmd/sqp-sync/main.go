// sqp-sync is the operator CLI: one-shot syncs, dry runs, inspections,
// warehouse-vs-store comparisons, and connectivity tests.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/ignite/sqp-sync/internal/config"
	"github.com/ignite/sqp-sync/internal/domain"
	"github.com/ignite/sqp-sync/internal/scheduler"
	"github.com/ignite/sqp-sync/internal/store"
	"github.com/ignite/sqp-sync/internal/syncer"
	"github.com/ignite/sqp-sync/internal/validate"
	"github.com/ignite/sqp-sync/internal/warehouse"
)

const usage = `usage: sqp-sync <command> [flags]

commands:
  sync      run one sync pass (supports -dry-run)
  inspect   analyze a window without writing anything
  compare   compare warehouse and store aggregates for a window
  test      check warehouse and store connectivity

run 'sqp-sync <command> -h' for command flags`

type cliFlags struct {
	configPath string
	start      string
	end        string
	period     string
	strategy   string
	count      int
	asins      string
}

func registerCommon(fs *flag.FlagSet, f *cliFlags) {
	fs.StringVar(&f.configPath, "config", "config/config.yaml", "config file path")
	fs.StringVar(&f.start, "start", "", "window start date (YYYY-MM-DD, default: last completed period)")
	fs.StringVar(&f.end, "end", "", "window end date (YYYY-MM-DD)")
	fs.StringVar(&f.period, "period", "", "period type: weekly, monthly, quarterly, yearly")
	fs.StringVar(&f.strategy, "strategy", "all", "asin filter: all, top, specific, representative")
	fs.IntVar(&f.count, "count", 0, "asin count for top/representative strategies")
	fs.StringVar(&f.asins, "asins", "", "comma-separated ASIN list for the specific strategy")
}

func main() {
	log.SetFlags(0)
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "sync":
		err = runSync(os.Args[2:])
	case "inspect":
		err = runInspect(os.Args[2:])
	case "compare":
		err = runCompare(os.Args[2:])
	case "test":
		err = runTest(os.Args[2:])
	case "-h", "--help", "help":
		fmt.Println(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n%s\n", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("error: %v", err)
	}
}

// resolveWindow turns CLI date flags into a window, defaulting to the most
// recent completed period when no dates are given.
func resolveWindow(f *cliFlags, cfg *config.Config) (domain.Window, error) {
	periodStr := f.period
	if periodStr == "" {
		periodStr = cfg.Sync.PeriodType
	}
	pt, err := domain.ParsePeriodType(periodStr)
	if err != nil {
		return domain.Window{}, err
	}

	if f.start == "" && f.end == "" {
		end := scheduler.LastCompletedBoundary(time.Now(), pt)
		var start time.Time
		switch pt {
		case domain.PeriodWeekly:
			start = end.AddDate(0, 0, -6)
		case domain.PeriodMonthly:
			start = time.Date(end.Year(), end.Month(), 1, 0, 0, 0, 0, time.UTC)
		case domain.PeriodQuarterly:
			start = end.AddDate(0, -3, 0).AddDate(0, 0, 1)
		case domain.PeriodYearly:
			start = time.Date(end.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
		}
		return domain.NewWindow(start, end, pt), nil
	}

	if f.start == "" || f.end == "" {
		return domain.Window{}, fmt.Errorf("-start and -end must be given together")
	}
	start, err := time.Parse("2006-01-02", f.start)
	if err != nil {
		return domain.Window{}, fmt.Errorf("invalid -start: %w", err)
	}
	end, err := time.Parse("2006-01-02", f.end)
	if err != nil {
		return domain.Window{}, fmt.Errorf("invalid -end: %w", err)
	}
	w := domain.NewWindow(start, end, pt)
	if !w.IsValid() {
		return domain.Window{}, fmt.Errorf("invalid window %s", w)
	}
	return w, nil
}

func parseStrategy(f *cliFlags) (syncer.FilterStrategy, error) {
	var asins []string
	if f.asins != "" {
		for _, a := range strings.Split(f.asins, ",") {
			if a = strings.TrimSpace(a); a != "" {
				asins = append(asins, a)
			}
		}
	}
	return syncer.ParseStrategy(f.strategy, f.count, asins)
}

// connect builds the warehouse client and store from config. Either side can
// be skipped by the caller closing it immediately; both are cheap to open.
func connect(cfg *config.Config) (*warehouse.Client, *store.Store, error) {
	wh, err := warehouse.NewClient(warehouse.Config{
		Account:        cfg.Warehouse.Account,
		User:           cfg.Warehouse.User,
		Password:       cfg.Warehouse.Password,
		Database:       cfg.Warehouse.Database,
		Schema:         cfg.Warehouse.Schema,
		Warehouse:      cfg.Warehouse.Warehouse,
		SourceTable:    cfg.Warehouse.SourceTable,
		MaxConnections: cfg.Warehouse.MaxConnections,
		IdleTimeout:    time.Duration(cfg.Warehouse.IdleTimeoutMillis) * time.Millisecond,
		QueryTimeout:   time.Duration(cfg.Warehouse.QueryTimeoutSeconds) * time.Second,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("warehouse: %w", err)
	}
	st, err := store.Open(cfg.Store.DatabaseURL, cfg.Sync.SummaryTable, cfg.Store.MaxOpenConns, cfg.Store.MaxIdleConns)
	if err != nil {
		wh.Close()
		return nil, nil, fmt.Errorf("store: %w", err)
	}
	return wh, st, nil
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadFromEnv(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func printJSON(v interface{}) {
	out, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(out))
}

func runSync(args []string) error {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	var f cliFlags
	registerCommon(fs, &f)
	dryRun := fs.Bool("dry-run", false, "extract and transform, write nothing")
	validateData := fs.Bool("validate", false, "run quality checks after the sync")
	fs.Parse(args)

	cfg, err := loadConfig(f.configPath)
	if err != nil {
		return err
	}
	w, err := resolveWindow(&f, cfg)
	if err != nil {
		return err
	}
	strategy, err := parseStrategy(&f)
	if err != nil {
		return err
	}

	wh, st, err := connect(cfg)
	if err != nil {
		return err
	}
	defer wh.Close()
	defer st.Close()

	validator := validate.New(st, wh)
	svc := syncer.New(wh, st, validator, cfg.Sync.BatchSize)

	res, err := svc.SyncPeriodData(context.Background(), w.PeriodType, w.Start, w.End, syncer.Options{
		DryRun:       *dryRun,
		ValidateData: *validateData,
		Strategy:     strategy,
	})
	if res != nil {
		printJSON(res)
	}
	return err
}

func runInspect(args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	var f cliFlags
	registerCommon(fs, &f)
	format := fs.String("format", "markdown", "output format: markdown, html, json")
	fs.Parse(args)

	cfg, err := loadConfig(f.configPath)
	if err != nil {
		return err
	}
	w, err := resolveWindow(&f, cfg)
	if err != nil {
		return err
	}
	strategy, err := parseStrategy(&f)
	if err != nil {
		return err
	}

	wh, st, err := connect(cfg)
	if err != nil {
		return err
	}
	defer wh.Close()
	defer st.Close()

	svc := syncer.New(wh, st, nil, cfg.Sync.BatchSize)
	res, err := svc.SyncPeriodData(context.Background(), w.PeriodType, w.Start, w.End, syncer.Options{
		DryRun:   true,
		Inspect:  true,
		Strategy: strategy,
	})
	if err != nil {
		return err
	}

	switch *format {
	case "markdown":
		fmt.Println(res.Inspection.RenderMarkdown(w))
	case "html":
		html, err := res.Inspection.RenderHTML(w)
		if err != nil {
			return err
		}
		fmt.Println(html)
	case "json":
		printJSON(res.Inspection)
	default:
		return fmt.Errorf("unknown format %q", *format)
	}
	return nil
}

func runCompare(args []string) error {
	fs := flag.NewFlagSet("compare", flag.ExitOnError)
	var f cliFlags
	registerCommon(fs, &f)
	threshold := fs.Float64("threshold", validate.DefaultThresholdPct, "discrepancy percentage that flags a metric")
	fs.Parse(args)

	cfg, err := loadConfig(f.configPath)
	if err != nil {
		return err
	}
	w, err := resolveWindow(&f, cfg)
	if err != nil {
		return err
	}

	wh, st, err := connect(cfg)
	if err != nil {
		return err
	}
	defer wh.Close()
	defer st.Close()

	cmp, err := validate.NewComparator(st, wh, *threshold).Compare(context.Background(), w, nil)
	if err != nil {
		return err
	}
	printJSON(cmp)
	if cmp.Flagged {
		os.Exit(1)
	}
	return nil
}

func runTest(args []string) error {
	fs := flag.NewFlagSet("test", flag.ExitOnError)
	var f cliFlags
	registerCommon(fs, &f)
	fs.Parse(args)

	cfg, err := loadConfig(f.configPath)
	if err != nil {
		return err
	}

	failed := false
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	wh, err := warehouse.NewClient(warehouse.Config{
		Account:        cfg.Warehouse.Account,
		User:           cfg.Warehouse.User,
		Password:       cfg.Warehouse.Password,
		Database:       cfg.Warehouse.Database,
		Schema:         cfg.Warehouse.Schema,
		Warehouse:      cfg.Warehouse.Warehouse,
		SourceTable:    cfg.Warehouse.SourceTable,
		MaxConnections: 1,
	})
	if err != nil {
		fmt.Printf("warehouse: FAIL (%v)\n", err)
		failed = true
	} else {
		if err := wh.Ping(ctx); err != nil {
			fmt.Printf("warehouse: FAIL (%v)\n", err)
			failed = true
		} else {
			fmt.Println("warehouse: OK")
			// Round-trip through the source table, not just the session.
			w := domain.NewWindow(time.Now().AddDate(0, 0, -7), time.Now(), domain.PeriodWeekly)
			if agg, err := wh.WindowAggregates(ctx, w, nil); err != nil {
				fmt.Printf("warehouse query: FAIL (%v)\n", err)
				failed = true
			} else {
				fmt.Printf("warehouse query: OK (%d impressions in the last 7 days)\n", agg.TotalImpressions)
			}
		}
		wh.Close()
	}

	st, err := store.Open(cfg.Store.DatabaseURL, cfg.Sync.SummaryTable, 2, 1)
	if err != nil {
		fmt.Printf("store: FAIL (%v)\n", err)
		failed = true
	} else {
		if err := st.Ping(ctx); err != nil {
			fmt.Printf("store: FAIL (%v)\n", err)
			failed = true
		} else {
			fmt.Println("store: OK")
			if end, ok, err := st.LatestSyncedPeriodEnd(ctx, domain.PeriodType(cfg.Sync.PeriodType)); err != nil {
				fmt.Printf("store query: FAIL (%v)\n", err)
				failed = true
			} else if ok {
				fmt.Printf("store query: OK (synced through %s)\n", end.Format("2006-01-02"))
			} else {
				fmt.Println("store query: OK (no synced data yet)")
			}
		}
		st.Close()
	}

	if failed {
		os.Exit(1)
	}
	return nil
}
