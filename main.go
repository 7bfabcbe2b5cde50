package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/log"
	"github.com/mattn/go-runewidth"

	"papers-crawler/pkg/catalog"
	"papers-crawler/pkg/config"
	"papers-crawler/pkg/db"
	"papers-crawler/pkg/logger"
	"papers-crawler/pkg/pipeline"
	"papers-crawler/pkg/progress"
	"papers-crawler/pkg/replication"
)

// Globals are flags shared by every command.
type Globals struct {
	Config   string `help:"Path to the YAML config file." short:"c" type:"path"`
	LogLevel string `help:"Log level: debug, info, warn or error. Overrides the config file."`
}

// CLI flags structure
type CLI struct {
	Globals

	Crawl     CrawlCmd     `cmd:"" default:"withargs" help:"Crawl journal listings and save open access articles."`
	Journals  JournalsCmd  `cmd:"" help:"List the journals found on the publisher's site index."`
	Runs      RunsCmd      `cmd:"" help:"List runs recorded in the resume index."`
	Replicate ReplicateCmd `cmd:"" help:"Copy indexed records into the configured database sinks."`
}

func (g *Globals) load() (*config.Config, *log.Logger, error) {
	cfg, err := config.LoadConfig(g.Config)
	if err != nil {
		return nil, nil, err
	}
	if g.LogLevel != "" {
		cfg.Logging.Level = g.LogLevel
	}
	return cfg, logger.New(cfg.Logging.Level), nil
}

type CrawlCmd struct {
	Targets     []string `arg:"" optional:"" help:"Journal slugs to crawl, e.g. nature ncomms."`
	TargetsFile string   `help:"File with one journal slug per line." type:"existingfile"`
	AllJournals bool     `help:"Crawl every journal of the site index."`
	Site        string   `help:"Site adapter: nature or generic."`
	YearFrom    int      `help:"Oldest publication year to keep."`
	YearTo      int      `help:"Newest publication year to keep."`
	Out         string   `short:"o" help:"Output directory."`
	Limit       int      `default:"-1" help:"Stop after this many articles (0 = unlimited, -1 = config value)."`
	Workers     int      `help:"Targets processed concurrently."`
	PacingMs    int      `default:"-1" help:"Delay after every article in milliseconds (-1 = config value)."`
	NoBrowser   bool     `help:"Fetch pages over plain HTTP instead of a headless browser."`
	Headful     bool     `help:"Show the browser window."`
	NoResume    bool     `help:"Ignore articles saved by earlier runs."`
	Quiet       bool     `short:"q" help:"Disable the progress display."`
}

func (c *CrawlCmd) apply(cfg *config.Config) {
	cfg.Crawl.Targets = append(cfg.Crawl.Targets, c.Targets...)
	if c.TargetsFile != "" {
		cfg.Crawl.TargetsFile = c.TargetsFile
	}
	if c.Site != "" {
		cfg.Crawl.Site = c.Site
	}
	if c.YearFrom != 0 {
		cfg.Crawl.YearFrom = c.YearFrom
	}
	if c.YearTo != 0 {
		cfg.Crawl.YearTo = c.YearTo
	}
	if c.Out != "" {
		cfg.Crawl.OutRoot = c.Out
	}
	if c.Limit >= 0 {
		cfg.Crawl.Limit = c.Limit
	}
	if c.Workers != 0 {
		cfg.Crawl.Workers = c.Workers
	}
	if c.PacingMs >= 0 {
		cfg.Crawl.PacingMs = c.PacingMs
	}
	if c.NoBrowser {
		cfg.Browser.Enabled = false
	}
	if c.Headful {
		cfg.Browser.Headless = false
	}
	if c.NoResume {
		cfg.Crawl.Resume = false
	}
}

func (c *CrawlCmd) Run(g *Globals) error {
	cfg, l, err := g.load()
	if err != nil {
		return err
	}
	c.apply(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if c.AllJournals {
		journals, err := catalog.New(pipeline.BuildOpener(cfg, l), cfg.Catalog.CacheDir, catalog.WithLogger(l)).
			Journals(ctx, cfg.Catalog.ForceRefresh)
		if err != nil {
			return fmt.Errorf("discover journals: %w", err)
		}
		cfg.Crawl.Targets = append(cfg.Crawl.Targets, catalog.Slugs(journals)...)
	}

	storage, err := pipeline.OpenStorage(ctx, cfg, l)
	if err != nil {
		return err
	}
	defer storage.Close()

	opts := pipeline.Options{
		Config:  cfg,
		Index:   storage.Index,
		Sinks:   storage.Sinks,
		Seeders: storage.Seeders,
		Logger:  l,
	}

	var sp *progress.Spinner
	if !c.Quiet {
		sp = progress.NewSpinner(os.Stdout)
		opts.OnFile = sp.OnFile
		opts.OnTotal = sp.OnTotal
	}

	p, err := pipeline.New(opts)
	if err != nil {
		return err
	}

	if sp != nil {
		sp.Start()
	}
	res, err := p.Run(ctx)
	if sp != nil {
		sp.Stop("")
	}
	if res != nil {
		printResult(os.Stdout, res)
	}
	return err
}

type JournalsCmd struct {
	Refresh bool `help:"Ignore the cached list and fetch the site index again."`
}

func (c *JournalsCmd) Run(g *Globals) error {
	cfg, l, err := g.load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cat := catalog.New(pipeline.BuildOpener(cfg, l), cfg.Catalog.CacheDir, catalog.WithLogger(l))
	journals, err := cat.Journals(ctx, c.Refresh || cfg.Catalog.ForceRefresh)
	if err != nil {
		return err
	}

	rows := make([][]string, len(journals))
	for i, j := range journals {
		rows[i] = []string{j.Slug, j.Name}
	}
	printTable(os.Stdout, []string{"SLUG", "NAME"}, rows)
	return nil
}

type RunsCmd struct {
	Index string `help:"Path of the resume index. Defaults to the config value." type:"path"`
}

func (c *RunsCmd) Run(g *Globals) error {
	cfg, _, err := g.load()
	if err != nil {
		return err
	}
	path := cfg.Storage.IndexPath
	if c.Index != "" {
		path = c.Index
	}

	idx, err := db.OpenIndex(path)
	if err != nil {
		return err
	}
	defer idx.Close()

	runs, err := idx.Runs(context.Background())
	if err != nil {
		return err
	}

	rows := make([][]string, len(runs))
	for i, r := range runs {
		rows[i] = []string{r.RunID, r.StartedAt, r.FinishedAt.String, strconv.Itoa(r.Persisted)}
	}
	printTable(os.Stdout, []string{"RUN", "STARTED", "FINISHED", "SAVED"}, rows)
	return nil
}

type ReplicateCmd struct {
	Workers int `default:"5" help:"Batches copied concurrently per sink."`
}

func (c *ReplicateCmd) Run(g *Globals) error {
	cfg, l, err := g.load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	storage, err := pipeline.OpenStorage(ctx, cfg, l)
	if err != nil {
		return err
	}
	defer storage.Close()
	if storage.Index == nil {
		return fmt.Errorf("storage.index_path is not set")
	}

	targets := make([]replication.Target, 0, len(storage.Sinks))
	for _, sink := range storage.Sinks {
		if t, ok := sink.(replication.Target); ok {
			targets = append(targets, t)
		}
	}

	r, err := replication.NewReplicator(replication.Config{
		Source:  storage.Index,
		Targets: targets,
		Workers: c.Workers,
		Logger:  l,
	})
	if err != nil {
		return err
	}

	reports, err := r.Replicate(ctx)
	rows := make([][]string, len(reports))
	for i, rep := range reports {
		rows[i] = []string{rep.Target, strconv.Itoa(rep.Processed), strconv.Itoa(rep.Replicated), strconv.Itoa(rep.Missing)}
	}
	printTable(os.Stdout, []string{"SINK", "INDEXED", "COPIED", "MISSING"}, rows)
	return err
}

func printResult(w io.Writer, res *pipeline.Result) {
	rows := make([][]string, 0, len(res.Targets))
	for _, t := range res.Targets {
		status := "ok"
		switch {
		case t.Skipped:
			status = "skipped"
		case t.Err != nil:
			status = runewidth.Truncate(t.Err.Error(), 50, "...")
		}
		rows = append(rows, []string{
			t.Target,
			strconv.Itoa(t.Pages),
			strconv.Itoa(t.Candidates),
			strconv.Itoa(t.Saved),
			strconv.Itoa(t.Failed),
			status,
		})
	}
	printTable(w, []string{"TARGET", "PAGES", "CANDIDATES", "SAVED", "FAILED", "STATUS"}, rows)

	fmt.Fprintf(w, "\nRun %s: %d articles saved\n", res.RunID, len(res.Paths))
	for i, title := range res.Titles {
		fmt.Fprintf(w, "  %3d. %s\n", i+1, runewidth.Truncate(title, 90, "..."))
	}
	if res.Summary.ManifestPath != "" {
		fmt.Fprintf(w, "Manifest: %s\n", res.Summary.ManifestPath)
	}
	if res.Summary.ArchivePath != "" {
		fmt.Fprintf(w, "Archive:  %s (%.1f MB)\n", res.Summary.ArchivePath, float64(res.Summary.ArchiveSize)/(1024*1024))
	}
}

// printTable aligns columns by display width, so CJK and accented titles
// line up.
func printTable(w io.Writer, header []string, rows [][]string) {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = runewidth.StringWidth(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], runewidth.StringWidth(cell))
		}
	}

	line := func(cells []string) {
		for i, cell := range cells {
			if i == len(cells)-1 {
				fmt.Fprintln(w, cell)
				break
			}
			fmt.Fprint(w, runewidth.FillRight(cell, widths[i]+2))
		}
	}
	line(header)
	for _, row := range rows {
		line(row)
	}
}

func main() {
	var cli CLI

	// Parse command line flags using kong
	ctx := kong.Parse(&cli,
		kong.Name("papers-crawler"),
		kong.Description("Crawl publisher journal listings and save open access articles as structured JSON."),
		kong.UsageOnError(),
	)
	err := ctx.Run(&cli.Globals)
	ctx.FatalIfErrorf(err)
}
