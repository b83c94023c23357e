// Package main is the doctalk CLI entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/doctalk/internal/chat"
	"github.com/hyperjump/doctalk/internal/cli"
	"github.com/hyperjump/doctalk/internal/config"
	"github.com/hyperjump/doctalk/internal/extract"
	"github.com/hyperjump/doctalk/internal/llm"
	"github.com/hyperjump/doctalk/internal/server"
	"github.com/hyperjump/doctalk/internal/session"
	"github.com/hyperjump/doctalk/internal/storage"
	"github.com/hyperjump/doctalk/internal/watcher"
	"github.com/hyperjump/doctalk/pkg/utils"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/doctalk/config.yaml"
	defaultServerURL  = "http://localhost:8000"
)

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory; if neither exists the built-in defaults are used
// and the returned path is empty. Returns the config and the path that was actually loaded.
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
		if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
			return config.Default(), "", nil
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
	case "upload":
		runUpload()
	case "chat":
		runChat()
	case "history":
		runHistory()
	case "reset":
		runReset()
	case "document":
		runDocument()
	case "status":
		runStatus()
	case "watch":
		runWatch()
	case "init":
		runInit()
	case "version", "--version", "-v":
		fmt.Printf("doctalk version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

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
		zap.Bool("debug", debugMode),
		zap.String("model", cfg.Model.Name),
		zap.String("provider", cfg.Model.Provider),
	)

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	svc := components.Chat
	watchSvc := watcher.NewWatcher(
		cfg.Watch.Directories,
		cfg.Watch.Extensions,
		func(path string) {
			if _, err := svc.IngestFile(context.Background(), path); err != nil {
				logger.Warn("inbox file rejected", zap.String("path", path), zap.Error(err))
			}
		},
		watcher.WithLogger(logger),
	)
	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	if err := watchSvc.Start(watchCtx); err != nil {
		logger.Fatal("Failed to start watcher", zap.Error(err))
	}

	srv := server.NewServer(svc, components.Archive, cfg, logger, watchSvc, resolvedConfigPath)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	watchCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

// Components holds initialized services.
type Components struct {
	Archive storage.Archive
	Chat    *chat.Service
}

// Close releases the archive database.
func (c *Components) Close() {
	if c.Archive != nil {
		_ = c.Archive.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	client, err := llm.NewClient(&cfg.Model, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize model client: %w", err)
	}

	opts := []chat.Option{
		chat.WithSystemPrompt(cfg.Model.SystemPrompt),
		chat.WithLogger(logger),
		chat.WithFileExtensions(cfg.Watch.Extensions),
	}
	components := &Components{}
	if cfg.Storage.DatabasePath != "" {
		archive, err := storage.NewSQLiteArchive(cfg.Storage.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize archive: %w", err)
		}
		logger.Info("transcript archive enabled", zap.String("path", cfg.Storage.DatabasePath))
		components.Archive = archive
		opts = append(opts, chat.WithArchive(archive))
	}
	components.Chat = chat.NewService(session.NewStore(), client, extract.NewExtractor(), opts...)
	return components, nil
}

// argsReorder moves any flags (and their values) that appear after the positional
// arguments to the front so that flag.Parse() sees them. Go's flag package stops at the
// first non-flag argument, so "doctalk chat what is this -complete" would otherwise
// send "-complete" as part of the prompt.
func argsReorder(args []string) []string {
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

// buildPrompt joins all positional args with spaces so multi-word prompts work the same
// with or without shell quoting.
func buildPrompt(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func newClient(serverURL string) *cli.Client {
	return cli.NewClient(serverURL, nil)
}

func fail(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func runUpload() {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	_ = fs.Parse(argsReorder(os.Args[2:]))
	if fs.NArg() < 1 {
		fmt.Println("Usage: doctalk upload [flags] <file>")
		os.Exit(1)
	}
	resp, err := newClient(*serverURL).Upload(context.Background(), fs.Arg(0))
	if err != nil {
		fail("Upload failed: %v", err)
	}
	fmt.Printf("%s (%d characters)\n", resp.Message, resp.Length)
}

func runChat() {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	complete := fs.Bool("complete", false, "wait for the whole reply instead of streaming it")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	client := newClient(*serverURL)

	prompt := buildPrompt(fs.Args())
	if prompt == "" {
		if err := cli.RunREPL(ctx, client, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			fail("Chat failed: %v", err)
		}
		return
	}
	if *complete {
		reply, err := client.Complete(ctx, prompt)
		if err != nil {
			fail("Chat failed: %v", err)
		}
		fmt.Println(reply)
		return
	}
	_, err := client.Chat(ctx, prompt, os.Stdout)
	fmt.Println()
	if err != nil {
		if !errors.Is(err, cli.ErrReplyFailed) {
			fmt.Fprintf(os.Stderr, "Chat failed: %v\n", err)
		}
		os.Exit(1)
	}
}

func runHistory() {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fail("%v", err)
	}
	turns, err := newClient(*serverURL).History(context.Background())
	if err != nil {
		fail("History failed: %v", err)
	}
	if err := cli.WriteHistory(os.Stdout, turns, format); err != nil {
		fail("Output failed: %v", err)
	}
}

func runReset() {
	fs := flag.NewFlagSet("reset", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	_ = fs.Parse(os.Args[2:])
	if err := newClient(*serverURL).Reset(context.Background()); err != nil {
		fail("Reset failed: %v", err)
	}
	fmt.Println("Conversation cleared.")
}

func runDocument() {
	fs := flag.NewFlagSet("document", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fail("%v", err)
	}
	doc, err := newClient(*serverURL).Document(context.Background())
	if err != nil {
		fail("Document failed: %v", err)
	}
	if err := cli.WriteDocument(os.Stdout, doc, format); err != nil {
		fail("Output failed: %v", err)
	}
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	_ = fs.Parse(os.Args[2:])

	status, err := newClient(*serverURL).Status(context.Background())
	if err != nil {
		fail("Status failed: %v", err)
	}
	if err := cli.WriteJSON(os.Stdout, status); err != nil {
		fail("Output failed: %v", err)
	}
}

func runWatch() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: doctalk watch <add|remove|list> [path]")
		fmt.Println("  doctalk watch add <path>     Add an inbox directory")
		fmt.Println("  doctalk watch remove <path>  Remove an inbox directory")
		fmt.Println("  doctalk watch list           List inbox directories")
		os.Exit(1)
	}
	sub := os.Args[2]
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	_ = fs.Parse(os.Args[3:])
	client := newClient(*serverURL)
	ctx := context.Background()

	switch sub {
	case "add", "remove":
		if fs.NArg() < 1 {
			fmt.Printf("Usage: doctalk watch %s <path>\n", sub)
			os.Exit(1)
		}
		path, _ := filepath.Abs(fs.Arg(0))
		if sub == "add" {
			if err := client.AddWatchDirectory(ctx, path); err != nil {
				fail("Add failed: %v", err)
			}
			fmt.Printf("Added: %s\n", path)
			return
		}
		if err := client.RemoveWatchDirectory(ctx, path); err != nil {
			fail("Remove failed: %v", err)
		}
		fmt.Printf("Removed: %s\n", path)
	case "list":
		dirs, err := client.WatchDirectories(ctx)
		if err != nil {
			fail("List failed: %v", err)
		}
		for _, d := range dirs {
			fmt.Println(d)
		}
	default:
		fmt.Printf("Unknown watch subcommand: %s\n", sub)
		os.Exit(1)
	}
}

func runInit() {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	force := fs.Bool("force", false, "overwrite an existing file")
	_ = fs.Parse(os.Args[2:])
	path := "config.yaml"
	if fs.NArg() > 0 {
		path = fs.Arg(0)
	}
	if err := writeDefaultConfig(path, *force); err != nil {
		fail("Init failed: %v", err)
	}
	fmt.Printf("Wrote %s\n", path)
}

// writeDefaultConfig saves the built-in defaults to path. An existing file is kept
// unless force is set.
func writeDefaultConfig(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use -force to overwrite)", path)
		}
	}
	return config.Save(path, config.Default())
}

func printUsage() {
	fmt.Println(`doctalk - Chat with a document through a local language model

Usage:
  doctalk server [flags]              Start the HTTP server
  doctalk upload [flags] <file>       Upload a document (.txt, .md, .pdf, .docx, .xlsx, .pptx)
  doctalk chat [flags] [prompt]       Ask about the document; without a prompt, start an interactive session
  doctalk history [flags]             Show the conversation
  doctalk reset [flags]               Clear the conversation
  doctalk document [flags]            Show the current document
  doctalk status [flags]              Show server status
  doctalk watch <add|remove|list>     Manage inbox directories
  doctalk init [path]                 Write a default config file
  doctalk version                     Show version
  doctalk help                        Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/doctalk/config.yaml, or ./config.yaml when present)
  --debug            Enable debug logging

Client Flags:
  --server string    Server URL (default: http://localhost:8000)
  --complete         (chat) Wait for the whole reply instead of streaming it
  --output string    (history, document) Output format: text or json (default: text)

Examples:
  doctalk server
  doctalk upload report.pdf
  doctalk chat "Summarize the document"
  doctalk chat --complete what are the action items
  doctalk history --output json
  doctalk watch add ~/Inbox`)
}
