// Package main is the shashin CLI entry point.
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/shashin/internal/app"
	"github.com/hyperjump/shashin/internal/cli"
	"github.com/hyperjump/shashin/internal/config"
	"github.com/hyperjump/shashin/internal/indexer"
	"github.com/hyperjump/shashin/internal/models"
	"github.com/hyperjump/shashin/internal/server"
	"github.com/hyperjump/shashin/internal/watcher"
	"github.com/hyperjump/shashin/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/shashin/config.yaml"

// loadConfig loads config from path. When path is the default, config.yaml in the current
// directory takes precedence (for development), and a missing default file means built-in
// defaults. Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, err := os.Stat(fallback); err == nil {
				cfg, err := config.Load(fallback)
				if err != nil {
					return nil, "", err
				}
				return cfg, fallback, nil
			}
		}
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			cfg := &config.Config{}
			config.ApplyDefaults(cfg)
			config.ResolveIndexPath(cfg)
			return cfg, "", nil
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
	switch command {
	case "server":
		runServer()
	case "search":
		runSearch()
	case "index":
		runIndex()
	case "images":
		runImages()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("shashin version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// openApp loads config, builds the logger and opens the application context. It exits
// the process on failure.
func openApp(configPath string, debug bool) (*app.App, *zap.Logger) {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	logger.Debug("config loaded", zap.String("config_path", resolved), zap.Bool("debug", debugMode))
	a, err := app.New(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to open storage", zap.Error(err))
	}
	return a, logger
}

func closeApp(a *app.App, logger *zap.Logger) {
	if err := a.Close(); err != nil {
		logger.Warn("close failed", zap.Error(err))
	}
	_ = logger.Sync()
}

func parseFormat(s string) cli.OutputFormat {
	format, err := cli.ParseOutputFormat(s)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return format
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	a, logger := openApp(*configPath, *debug)
	defer closeApp(a, logger)
	cfg := a.Config()

	// Load the model and index before accepting requests.
	mgr, err := a.Manager()
	if err != nil {
		logger.Fatal("Failed to initialize search index", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	if cfg.Watch.EnabledOrDefault() {
		w := watcher.NewWatcher(cfg.Storage.IndexPath, func() {
			if reloaded, err := mgr.Refresh(); err != nil {
				logger.Warn("index reload failed", zap.Error(err))
			} else if reloaded {
				logger.Info("index reloaded from disk", zap.Int("size", mgr.Size()))
			}
		}, watcher.WithLogger(logger))
		if err := w.Start(gctx); err != nil {
			logger.Warn("index watcher not started; relying on per-query checks", zap.Error(err))
		} else {
			defer w.Stop()
		}
	}

	srv := server.NewServer(a, &cfg.Server, logger)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Stop(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("Server failed", zap.Error(err))
	}
}

func printSearchUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: shashin search [flags] <query>\n\n")
	fmt.Fprintf(fs.Output(), "Query is all remaining arguments joined by spaces. Multi-word queries work with or without quotes.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Examples:
  shashin search a dog playing in the snow
  shashin search --limit 5 "sunset over the sea"
  shashin search --server http://localhost:8080 --output json red car
`)
}

// buildSearchQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// searchArgsReorder moves any flags (and their values) that appear after the query
// to the front of the slice so that flag.Parse() sees them. Go's flag package
// stops at the first non-flag argument.
func searchArgsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
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

func runSearch() {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL; empty searches the local index directly")
	limit := fs.Int("limit", 0, "number of results (default from config)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	fs.Usage = func() { printSearchUsage(fs) }
	_ = fs.Parse(searchArgsReorder(os.Args[2:]))

	queryStr := buildSearchQuery(fs.Args())
	if queryStr == "" {
		printSearchUsage(fs)
		os.Exit(1)
	}
	format := parseFormat(*outputFormat)
	query := &models.SearchQuery{Query: queryStr, Limit: *limit}

	var response *models.SearchResponse
	if *serverURL != "" {
		var err error
		response, err = searchViaHTTP(http.DefaultClient, *serverURL, query)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
			os.Exit(1)
		}
	} else {
		a, logger := openApp(*configPath, false)
		var err error
		response, err = a.Search(context.Background(), query)
		closeApp(a, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
			os.Exit(1)
		}
	}
	if err := cli.WriteSearchResults(os.Stdout, response, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func searchViaHTTP(client *http.Client, serverURL string, query *models.SearchQuery) (*models.SearchResponse, error) {
	params := url.Values{"q": {query.Query}}
	if query.Limit > 0 {
		params.Set("limit", strconv.Itoa(query.Limit))
	}
	resp, err := client.Get(strings.TrimRight(serverURL, "/") + "/api/v1/search?" + params.Encode())
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var response models.SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &response, nil
}

// reloadViaHTTP asks a running server to pick up a freshly saved index.
func reloadViaHTTP(client *http.Client, serverURL string) error {
	resp, err := client.Post(strings.TrimRight(serverURL, "/")+"/api/v1/index/reload", "application/json", bytes.NewReader(nil))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return nil
}

func runIndex() {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	missing := fs.Bool("missing", false, "only embed images not yet in the index")
	notify := fs.String("notify", "", "server URL to ask for a reload after saving")
	outputFormat := fs.String("output", "text", "output format: text or json")
	debug := fs.Bool("debug", false, "enable debug logging")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "Usage: shashin index [flags] [<id> | <id> <path>]")
		fs.PrintDefaults()
	}
	_ = fs.Parse(os.Args[2:])
	if fs.NArg() > 2 {
		fs.Usage()
		os.Exit(1)
	}
	format := parseFormat(*outputFormat)

	a, logger := openApp(*configPath, *debug)
	defer closeApp(a, logger)
	idx, err := a.Indexer()
	if err != nil {
		logger.Fatal("Failed to initialize search index", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch fs.NArg() {
	case 2:
		err = idx.IndexOne(ctx, fs.Arg(0), fs.Arg(1))
	case 1:
		err = idx.IndexImage(ctx, fs.Arg(0))
	default:
		var rep indexer.Report
		if *missing {
			rep, err = idx.IndexMissing(ctx)
		} else {
			rep, err = idx.IndexAll(ctx)
		}
		if werr := cli.WriteReport(os.Stdout, rep, format); werr != nil {
			logger.Warn("output failed", zap.Error(werr))
		}
	}
	if err != nil {
		closeApp(a, logger)
		fmt.Fprintf(os.Stderr, "Index failed: %v\n", err)
		os.Exit(1)
	}
	if *notify != "" {
		if err := reloadViaHTTP(http.DefaultClient, *notify); err != nil {
			logger.Warn("server reload request failed", zap.String("server", *notify), zap.Error(err))
		}
	}
}

func runImages() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: shashin images <add|list> [flags]")
		os.Exit(1)
	}
	switch os.Args[2] {
	case "add":
		runImagesAdd(os.Args[3:])
	case "list":
		runImagesList(os.Args[3:])
	default:
		fmt.Printf("Unknown images command: %s\n", os.Args[2])
		os.Exit(1)
	}
}

func runImagesAdd(args []string) {
	fs := flag.NewFlagSet("images add", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	index := fs.Bool("index", false, "embed newly registered images and save the index")
	outputFormat := fs.String("output", "text", "output format: text or json")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(searchArgsReorder(args))
	if fs.NArg() == 0 {
		fmt.Println("Usage: shashin images add [flags] <file-or-directory>...")
		os.Exit(1)
	}
	format := parseFormat(*outputFormat)

	a, logger := openApp(*configPath, *debug)
	defer closeApp(a, logger)
	ctx := context.Background()
	reg := a.Registrar()

	var added []*models.Image
	for _, p := range fs.Args() {
		info, err := os.Stat(p)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Skipping %s: %v\n", p, err)
			continue
		}
		if info.IsDir() {
			imgs, err := reg.RegisterDirectory(ctx, p)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Register %s: %v\n", p, err)
			}
			added = append(added, imgs...)
			continue
		}
		img, err := reg.Register(ctx, p)
		switch {
		case errors.Is(err, indexer.ErrAlreadyRegistered):
			logger.Debug("already registered", zap.String("path", p))
		case err != nil:
			fmt.Fprintf(os.Stderr, "Register %s: %v\n", p, err)
		default:
			added = append(added, img)
		}
	}
	if err := cli.WriteImages(os.Stdout, added, format); err != nil {
		logger.Warn("output failed", zap.Error(err))
	}

	if *index && len(added) > 0 {
		idx, err := a.Indexer()
		if err != nil {
			logger.Fatal("Failed to initialize search index", zap.Error(err))
		}
		rep, err := idx.IndexMissing(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Index failed: %v\n", err)
			return
		}
		if format == cli.OutputText {
			_ = cli.WriteReport(os.Stdout, rep, format)
		}
	}
}

func runImagesList(args []string) {
	fs := flag.NewFlagSet("images list", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	offset := fs.Int("offset", 0, "number of images to skip")
	limit := fs.Int("limit", 100, "maximum number of images")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(args)
	format := parseFormat(*outputFormat)

	a, logger := openApp(*configPath, false)
	defer closeApp(a, logger)
	images, err := a.Storage().ListImages(context.Background(), *offset, *limit)
	if err != nil {
		logger.Fatal("List failed", zap.Error(err))
	}
	if err := cli.WriteImages(os.Stdout, images, format); err != nil {
		logger.Warn("output failed", zap.Error(err))
	}
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL; empty reads local storage")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])
	format := parseFormat(*outputFormat)

	var st *app.Status
	if *serverURL != "" {
		var err error
		st, err = statusViaHTTP(http.DefaultClient, *serverURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
	} else {
		a, logger := openApp(*configPath, false)
		var err error
		st, err = a.Status(context.Background())
		closeApp(a, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
	}
	if err := cli.WriteStatus(os.Stdout, st, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func statusViaHTTP(client *http.Client, serverURL string) (*app.Status, error) {
	resp, err := client.Get(strings.TrimRight(serverURL, "/") + "/api/v1/status")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var st app.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &st, nil
}

func printUsage() {
	fmt.Println(`shashin - Local semantic image search

Usage:
  shashin server [flags]                 Start the HTTP server
  shashin search [flags] <query>         Search images by text
  shashin index [flags] [id [path]]      Embed images into the search index
  shashin images add [flags] <path>...   Register image files or directories
  shashin images list [flags]            List registered images
  shashin status [flags]                 Show storage and index status
  shashin version                        Show version
  shashin help                           Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/shashin/config.yaml)
  --output string    Output format: text or json (default: text)

Server Flags:
  --debug            Enable debug logging

Search Flags:
  --server string    Query a running server instead of the local index
  --limit int        Number of results (default from config, 50)

Index Flags:
  --missing          Only embed images that are not in the index yet
  --notify string    Server URL to ask for a reload after saving

Images Add Flags:
  --index            Embed newly registered images right away

Examples:
  shashin images add ~/Pictures
  shashin index --missing
  shashin search a dog on the beach
  shashin search --output json --limit 5 "red car"
  shashin status --server http://localhost:8080`)
}
