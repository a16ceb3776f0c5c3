// Package main is the asil CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/asil/internal/analysis"
	"github.com/hyperjump/asil/internal/cli"
	"github.com/hyperjump/asil/internal/config"
	"github.com/hyperjump/asil/internal/extract"
	"github.com/hyperjump/asil/internal/faq"
	"github.com/hyperjump/asil/internal/keyword"
	"github.com/hyperjump/asil/internal/models"
	"github.com/hyperjump/asil/internal/report"
	"github.com/hyperjump/asil/internal/server"
	"github.com/hyperjump/asil/internal/service"
	"github.com/hyperjump/asil/internal/storage"
	"github.com/hyperjump/asil/internal/vision"
	"github.com/hyperjump/asil/internal/watcher"
	"github.com/hyperjump/asil/pkg/utils"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/asil/config.yaml"
	defaultServerURL  = "http://localhost:8080"
)

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development); if that exists it is used.
// Returns the config and the path that was actually loaded (for saving, etc.).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	args := os.Args[2:]
	switch command {
	case "server":
		runServer(args)
	case "analyze":
		runAnalyze(args)
	case "parse":
		runParse(args)
	case "list":
		runList(args)
	case "show":
		runShow(args)
	case "search":
		runSearch(args)
	case "similar":
		runSimilar(args)
	case "export":
		runExport(args)
	case "delete":
		runDelete(args)
	case "reindex":
		runReindex(args)
	case "watch":
		runWatch(args)
	case "faq":
		runFAQ(args)
	case "status":
		runStatus(args)
	case "version", "--version", "-v":
		fmt.Printf("asil version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func exitf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// commandContext is cancelled on interrupt so long vision requests can be aborted.
func commandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runServer(args []string) {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (uploads, watched files, etc.)")
	_ = fs.Parse(args)

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.String("vision_endpoint", cfg.Vision.Endpoint),
		zap.Bool("debug", debugMode),
	)

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	svc := components.Service
	password := cfg.Vision.Password
	watchOpts := []watcher.Option{
		watcher.WithFilter(extract.NewPolicy(cfg.Watch.Extensions, cfg.Upload.MaxBytes).Allows),
		watcher.WithRecursive(cfg.Watch.RecursiveOrDefault()),
	}
	if debugMode {
		watchOpts = append(watchOpts, watcher.WithLogger(logger))
	}
	watchSvc := watcher.New(
		cfg.Watch.Directories,
		func(ctx context.Context, path string) {
			out, err := svc.SubmitFile(ctx, path, models.SourceWatch, password)
			if err != nil {
				logger.Warn("watch submit failed", zap.String("path", path), zap.Error(err))
				return
			}
			logger.Info("watched file analysed",
				zap.String("path", path),
				zap.String("id", out.Analysis.ID),
				zap.Bool("duplicate", out.Duplicate),
				zap.Int("similar", len(out.Similar)),
			)
		},
		watchOpts...,
	)
	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	if err := watchSvc.Start(watchCtx); err != nil {
		logger.Fatal("Failed to start watcher", zap.Error(err))
	}
	go watchSvc.SyncExistingFiles()

	srv := server.NewServer(svc, cfg, logger, watchSvc, resolvedConfigPath)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	watchCancel()
	watchSvc.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

// reorderArgs moves any flags (and their values) that appear after the positional
// arguments to the front of the slice so that flag.Parse() sees them. Go's flag
// package stops at the first non-flag argument, so "asil search solar -limit 5"
// would otherwise leave -limit unparsed.
func reorderArgs(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' && a != "-" {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// buildSearchQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// archiveFlags are shared by every command that reads or writes the archive.
type archiveFlags struct {
	configPath *string
	serverURL  *string
	output     *string
}

func addArchiveFlags(fs *flag.FlagSet) *archiveFlags {
	return &archiveFlags{
		configPath: fs.String("config", defaultConfigPath, "config file path (for direct storage mode)"),
		serverURL:  fs.String("server", defaultServerURL, "server URL (empty = open the local archive directly)"),
		output:     fs.String("output", "text", "output format: text or json"),
	}
}

func (f *archiveFlags) format() cli.OutputFormat {
	format, err := cli.ParseFormat(*f.output)
	if err != nil {
		exitf("%v", err)
	}
	return format
}

// open returns the archive behind the server when a server URL is set, otherwise
// the local storage named by the config.
func (f *archiveFlags) open() archive {
	if *f.serverURL != "" {
		return newHTTPArchive(strings.TrimRight(*f.serverURL, "/"))
	}
	cfg, _, err := loadConfig(*f.configPath)
	if err != nil {
		exitf("Failed to load config: %v", err)
	}
	logger, err := utils.NewCLILogger(cfg.Debug)
	if err != nil {
		exitf("Failed to create logger: %v", err)
	}
	components, err := initializeComponents(cfg, logger)
	if err != nil {
		exitf("Failed to initialize: %v", err)
	}
	return &localArchive{c: components}
}

func runAnalyze(args []string) {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	flags := addArchiveFlags(fs)
	password := fs.String("password", "", "vision API access password (default: configured password)")
	_ = fs.Parse(reorderArgs(args))

	if fs.NArg() < 1 {
		fmt.Println("Usage: asil analyze [flags] <file-or-directory>...")
		os.Exit(1)
	}
	format := flags.format()
	ctx, cancel := commandContext()
	defer cancel()
	arc := flags.open()
	defer arc.Close()

	failed := 0
	show := func(path string, out *models.Outcome, err error) {
		if err != nil {
			fmt.Fprintf(os.Stderr, "Analysis of %s failed: %v\n", path, err)
			failed++
			return
		}
		if err := cli.WriteOutcome(os.Stdout, out, format); err != nil {
			exitf("Output failed: %v", err)
		}
	}
	for _, path := range fs.Args() {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			n, err := arc.SubmitDirectory(ctx, path, *password, show)
			if err != nil {
				exitf("Analysing directory %s failed: %v", path, err)
			}
			fmt.Fprintf(os.Stderr, "Analysed %d file(s) from %s\n", n, path)
			continue
		}
		out, err := arc.Submit(ctx, path, *password)
		show(path, out, err)
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func runParse(args []string) {
	fs := flag.NewFlagSet("parse", flag.ExitOnError)
	marker := fs.String("marker", report.DefaultMarker, "section header marker")
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(reorderArgs(args))

	if fs.NArg() != 1 {
		fmt.Println("Usage: asil parse [flags] <report-file|->")
		os.Exit(1)
	}
	format, err := cli.ParseFormat(*output)
	if err != nil {
		exitf("%v", err)
	}
	var body []byte
	if fs.Arg(0) == "-" {
		body, err = io.ReadAll(os.Stdin)
	} else {
		body, err = os.ReadFile(fs.Arg(0))
	}
	if err != nil {
		exitf("Failed to read report: %v", err)
	}
	m, err := parseReport(body, *marker)
	if err != nil {
		exitf("Parse failed: %v", err)
	}
	if err := cli.WriteModel(os.Stdout, m, format); err != nil {
		exitf("Output failed: %v", err)
	}
}

// parseReport builds a display model from a saved vision report, text or JSON.
func parseReport(body []byte, marker string) (analysis.DisplayModel, error) {
	parser := report.NewParser(report.NewHeaderTable(marker, nil))
	sections, _, err := parser.Decode(body)
	if err != nil {
		return analysis.EmptyModel(), err
	}
	return analysis.Build(sections), nil
}

func runList(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	flags := addArchiveFlags(fs)
	offset := fs.Int("offset", 0, "number of analyses to skip")
	limit := fs.Int("limit", 20, "number of analyses")
	_ = fs.Parse(args)

	format := flags.format()
	ctx, cancel := commandContext()
	defer cancel()
	arc := flags.open()
	defer arc.Close()

	items, total, err := arc.List(ctx, *offset, *limit)
	if err != nil {
		exitf("List failed: %v", err)
	}
	if err := cli.WriteSummaries(os.Stdout, items, total, format); err != nil {
		exitf("Output failed: %v", err)
	}
}

// idCommand parses flags for commands taking one analysis ID and opens the archive.
func idCommand(name string, args []string, extra func(*flag.FlagSet)) (string, *archiveFlags, *flag.FlagSet) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	flags := addArchiveFlags(fs)
	if extra != nil {
		extra(fs)
	}
	_ = fs.Parse(reorderArgs(args))
	if fs.NArg() < 1 {
		fmt.Printf("Usage: asil %s [flags] <analysis-id>\n", name)
		os.Exit(1)
	}
	return fs.Arg(0), flags, fs
}

func runShow(args []string) {
	id, flags, _ := idCommand("show", args, nil)
	format := flags.format()
	ctx, cancel := commandContext()
	defer cancel()
	arc := flags.open()
	defer arc.Close()

	a, err := arc.Get(ctx, id)
	if err != nil {
		exitf("Show failed: %v", err)
	}
	if err := cli.WriteAnalysis(os.Stdout, a, format); err != nil {
		exitf("Output failed: %v", err)
	}
}

// printSearchUsage prints search subcommand usage.
func printSearchUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: asil search [flags] <query>\n\n")
	fmt.Fprintf(fs.Output(), "Query is all remaining arguments joined by spaces. Multi-word queries work with or without quotes.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Searches file names, web entities, best-guess labels, text previews and the
hosts of matching pages in the archive. When nothing matches exactly the search
is retried with typo tolerance.

Examples:
  asil search solar panel
  asil search --fuzzy greenhose                 # typo-tolerant search
  asil search --limit 20 --output json wikipedia.org
`)
}

func runSearch(args []string) {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	flags := addArchiveFlags(fs)
	limit := fs.Int("limit", 10, "number of results")
	fuzzyEnabled := fs.Bool("fuzzy", false, "enable fuzzy matching for typo tolerance")
	fs.Usage = func() { printSearchUsage(fs) }
	_ = fs.Parse(reorderArgs(args))

	queryStr := buildSearchQuery(fs.Args())
	if queryStr == "" {
		printSearchUsage(fs)
		os.Exit(1)
	}
	format := flags.format()
	ctx, cancel := commandContext()
	defer cancel()
	arc := flags.open()
	defer arc.Close()

	response, err := arc.Search(ctx, &models.SearchQuery{
		Query:        queryStr,
		Limit:        *limit,
		FuzzyEnabled: *fuzzyEnabled,
	})
	if err != nil {
		exitf("Search failed: %v", err)
	}
	if err := cli.WriteSearchResults(os.Stdout, response, format); err != nil {
		exitf("Output failed: %v", err)
	}
}

func runSimilar(args []string) {
	var limit *int
	id, flags, _ := idCommand("similar", args, func(fs *flag.FlagSet) {
		limit = fs.Int("limit", service.DefaultSimilarLimit, "number of similar analyses")
	})
	format := flags.format()
	ctx, cancel := commandContext()
	defer cancel()
	arc := flags.open()
	defer arc.Close()

	matches, err := arc.Similar(ctx, id, *limit)
	if err != nil {
		exitf("Similar failed: %v", err)
	}
	if err := cli.WriteMatches(os.Stdout, matches, format); err != nil {
		exitf("Output failed: %v", err)
	}
}

func runExport(args []string) {
	var outPath *string
	id, flags, _ := idCommand("export", args, func(fs *flag.FlagSet) {
		outPath = fs.String("o", "", "output file (default: <id>-analysis.xlsx)")
	})
	path := *outPath
	if path == "" {
		path = id + "-analysis.xlsx"
	}
	ctx, cancel := commandContext()
	defer cancel()
	arc := flags.open()
	defer arc.Close()

	var buf bytes.Buffer
	if err := arc.Export(ctx, id, &buf); err != nil {
		exitf("Export failed: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		exitf("Failed to write %s: %v", path, err)
	}
	fmt.Printf("Exported %s to %s\n", id, path)
}

func runDelete(args []string) {
	id, flags, _ := idCommand("delete", args, nil)
	ctx, cancel := commandContext()
	defer cancel()
	arc := flags.open()
	defer arc.Close()

	if err := arc.Delete(ctx, id); err != nil {
		exitf("Deletion failed: %v", err)
	}
	fmt.Printf("Analysis deleted: %s\n", id)
}

func runReindex(args []string) {
	fs := flag.NewFlagSet("reindex", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(args)

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		exitf("Failed to load config: %v", err)
	}
	logger, err := utils.NewCLILogger(cfg.Debug)
	if err != nil {
		exitf("Failed to create logger: %v", err)
	}
	defer logger.Sync()
	components, err := initializeComponents(cfg, logger)
	if err != nil {
		exitf("Failed to initialize: %v", err)
	}
	defer components.Close()

	ctx, cancel := commandContext()
	defer cancel()
	n, err := components.Service.Reindex(ctx)
	if err != nil {
		exitf("Reindex failed after %d analyses: %v", n, err)
	}
	fmt.Printf("Reindexed %d analyses\n", n)
}

func runFAQ(args []string) {
	fs := flag.NewFlagSet("faq", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (for custom FAQ entries)")
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(reorderArgs(args))

	format, err := cli.ParseFormat(*output)
	if err != nil {
		exitf("%v", err)
	}
	entries := faq.Default()
	if cfg, _, err := loadConfig(*configPath); err == nil {
		entries = cfg.FAQ
	}
	if err := cli.WriteFAQ(os.Stdout, faq.Find(entries, buildSearchQuery(fs.Args())), format); err != nil {
		exitf("Output failed: %v", err)
	}
}

func runStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	flags := addArchiveFlags(fs)
	_ = fs.Parse(args)

	format := flags.format()
	ctx, cancel := commandContext()
	defer cancel()
	arc := flags.open()
	defer arc.Close()

	st, err := arc.Status(ctx)
	if err != nil {
		exitf("Status failed: %v", err)
	}
	if err := cli.WriteStatus(os.Stdout, st, format); err != nil {
		exitf("Output failed: %v", err)
	}
}

func runWatch(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: asil watch <add|remove|list> [path]")
		fmt.Println("  asil watch add <path>     Add inbox directory to watch")
		fmt.Println("  asil watch remove <path>  Remove inbox directory from watch")
		fmt.Println("  asil watch list           List watched directories")
		os.Exit(1)
	}
	sub := args[0]
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	_ = fs.Parse(reorderArgs(args[1:]))
	base := strings.TrimRight(*serverURL, "/")
	switch sub {
	case "add":
		if fs.NArg() < 1 {
			fmt.Println("Usage: asil watch add <path>")
			os.Exit(1)
		}
		path, _ := filepath.Abs(fs.Arg(0))
		body, _ := json.Marshal(map[string]interface{}{"path": path, "sync": true})
		resp, err := http.Post(base+"/api/v1/watch/directories", "application/json", bytes.NewReader(body))
		if err != nil {
			exitf("Request failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			exitf("Add failed: %v", apiError(resp))
		}
		fmt.Printf("Added: %s\n", path)
	case "remove":
		if fs.NArg() < 1 {
			fmt.Println("Usage: asil watch remove <path>")
			os.Exit(1)
		}
		path, _ := filepath.Abs(fs.Arg(0))
		req, _ := http.NewRequest(http.MethodDelete, base+"/api/v1/watch/directories?path="+url.QueryEscape(path), nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			exitf("Request failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			exitf("Remove failed: %v", apiError(resp))
		}
		fmt.Printf("Removed: %s\n", path)
	case "list":
		resp, err := http.Get(base + "/api/v1/watch/directories")
		if err != nil {
			exitf("Request failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			exitf("List failed: %v", apiError(resp))
		}
		var out struct {
			Directories []string `json:"directories"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			exitf("Parse failed: %v", err)
		}
		for _, d := range out.Directories {
			fmt.Println(d)
		}
	default:
		exitf("Unknown watch subcommand: %s", sub)
	}
}

// Components holds initialized services.
type Components struct {
	Storage      storage.Storage
	KeywordIndex keyword.KeywordIndex
	Vision       *vision.Client
	Service      *service.Service
}

func (c *Components) Close() {
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
	if c.KeywordIndex != nil {
		_ = c.KeywordIndex.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	keywordIndex, err := keyword.NewBleveIndex(cfg.Storage.BleveIndexPath)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
	}

	parser := report.NewParser(report.NewHeaderTable(cfg.Report.Marker, nil))
	c := &Components{Storage: store, KeywordIndex: keywordIndex}

	var analyzer service.Analyzer
	if cfg.Vision.Endpoint != "" {
		c.Vision = vision.NewClient(cfg.Vision.Endpoint, cfg.Vision.Password, cfg.Vision.Timeout(), logger,
			vision.WithParser(parser))
		analyzer = c.Vision
	} else if logger != nil {
		logger.Warn("no vision endpoint configured; submissions will fail")
	}

	c.Service = service.New(store, keywordIndex, analyzer,
		extract.NewPolicy(cfg.Upload.Extensions, cfg.Upload.MaxBytes),
		service.WithLogger(logger),
		service.WithParser(parser),
		service.WithDataPaths(cfg.Storage.DatabasePath, cfg.Storage.BleveIndexPath),
	)
	return c, nil
}

func printUsage() {
	fmt.Println(`asil - academic originality analysis

Usage:
  asil server [flags]                 Start the HTTP server and inbox watcher
  asil analyze [flags] <path>...      Analyse project files or directories with the vision API
  asil parse [flags] <report|->       Build a result model from a saved vision report
  asil list [flags]                   List archived analyses, newest first
  asil show [flags] <id>              Show one analysis
  asil search [flags] <query>         Search the archive
  asil similar [flags] <id>           List archived analyses similar to one
  asil export [flags] <id>            Write an analysis to an .xlsx workbook
  asil delete [flags] <id>            Delete an analysis
  asil reindex [flags]                Rebuild the archive index from storage
  asil faq [question words]           Show FAQ entries
  asil status [flags]                 Show archive status
  asil watch <add|remove|list>        Manage watched inbox directories
  asil version                        Show version
  asil help                           Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/asil/config.yaml)
  --debug            Enable debug logging

Archive Flags (analyze, list, show, search, similar, export, delete, status):
  --config string    Config file path (for direct storage mode)
  --server string    Server URL (default: http://localhost:8080). Use empty (--server "")
                     for direct storage when the server is not running.
  --output string    Output format: text or json (default: text)

Examples:
  asil server
  asil analyze --password secret project.pdf poster.png
  asil parse report.txt
  asil search solar panel
  asil similar 3f1c...
  asil export -o result.xlsx 3f1c...
  asil status --output json
  asil watch add /srv/submissions`)
}
