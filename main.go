package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/lotas/tabtriage/internal/applog"
	"github.com/lotas/tabtriage/internal/capture"
	"github.com/lotas/tabtriage/internal/config"
	"github.com/lotas/tabtriage/internal/export"
	"github.com/lotas/tabtriage/internal/pipeline"
	"github.com/lotas/tabtriage/internal/progress"
	"github.com/lotas/tabtriage/internal/server"
	"github.com/lotas/tabtriage/internal/storage"
	"github.com/lotas/tabtriage/internal/summarize"
	"github.com/lotas/tabtriage/internal/triage"
	"github.com/lotas/tabtriage/internal/tui"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "serve":
			runServe(os.Args[2:])
			return
		case "watch":
			runWatch(os.Args[2:])
			return
		case "sessions":
			runSessions(os.Args[2:])
			return
		case "export":
			runExport(os.Args[2:])
			return
		case "help", "--help", "-h":
			printHelp()
			return
		}
	}

	runServe(os.Args[1:])
}

func printHelp() {
	fmt.Print(`tabtriage — browser tab triage backend

Usage:
  tabtriage [serve]                                  Run the API server (default)
    --config <file>      Config file path (default: ~/.config/tabtriage/tabtriage.yaml)
    --port <n>           Listen port (overrides config)
    --db <file>          Database path (overrides config)

  tabtriage watch <session-id>                       Follow enrichment progress in the terminal
    --url <base>         Server base URL (default: http://127.0.0.1:5111)

  tabtriage sessions                                 List captured sessions
    --config <file>      Config file path

  tabtriage export <session-id>                      Export a session to stdout or file
    --config <file>      Config file path
    --json               Export as JSON instead of markdown
    --out <file>         Output file path (default: stdout)

Environment:
  TABTRIAGE_PORT       Listen port (overridden by --port flag)
  TABTRIAGE_HOST       Listen host
  TABTRIAGE_DB         Database path (overridden by --db flag)
  TABTRIAGE_LOG_DIR    Directory for the log file
`)
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	cfgPath := fs.String("config", "", "Config file path")
	port := fs.Int("port", 0, "Listen port (overrides config)")
	dbPath := fs.String("db", "", "Database path (overrides config)")
	fs.Parse(args)

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}

	if err := applog.Init(cfg.LogDir); err != nil {
		fmt.Fprintf(os.Stderr, "Error opening log: %v\n", err)
		os.Exit(1)
	}
	defer applog.Close()

	db, err := storage.OpenDB(cfg.DBPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	store := config.NewStore(cfg)
	go watchConfigChanges(store)
	go reloadOnHUP(store, *cfgPath, *port, *dbPath)

	tracker := progress.NewTracker()
	summarizer := summarize.New(store)
	runner := pipeline.NewRunner(db, summarizer, tracker)
	capSvc := capture.NewService(db, runner, store)
	triSvc := triage.NewService(db)
	srv := server.New(cfg.Addr(), db, capSvc, triSvc, tracker, runner)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(os.Stderr, "tabtriage listening on http://%s\n", cfg.Addr())
	if err := srv.ListenAndServe(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Let in-flight enrichment finish writing before the DB closes.
	runner.Wait()
}

// reloadOnHUP re-reads the config file on SIGHUP and publishes the
// result. Flag overrides stay in effect across reloads.
func reloadOnHUP(store *config.Store, cfgPath string, port int, dbPath string) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	for range hup {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			applog.Error("config_reload", err)
			continue
		}
		if port != 0 {
			cfg.Port = port
		}
		if dbPath != "" {
			cfg.DBPath = dbPath
		}
		store.Set(cfg)
	}
}

func watchConfigChanges(store *config.Store) {
	for cfg := range store.Subscribe() {
		applog.Info("config_reloaded",
			"summarize_timeout", cfg.SummarizeTimeout.Std().String(),
			"dedup_window", cfg.DedupWindow.Std().String())
	}
}

func runWatch(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:5111", "Server base URL")
	fs.Parse(reorderArgs(args))

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: tabtriage watch <session-id> [--url base]")
		os.Exit(1)
	}
	sessionID, err := strconv.ParseInt(fs.Arg(0), 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid session id: %s\n", fs.Arg(0))
		os.Exit(1)
	}

	if err := tui.Run(*baseURL, sessionID); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runSessions(args []string) {
	fs := flag.NewFlagSet("sessions", flag.ExitOnError)
	cfgPath := fs.String("config", "", "Config file path")
	fs.Parse(args)

	db, err := openDB(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	sessions, err := storage.ListSessions(db)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error listing sessions: %v\n", err)
		os.Exit(1)
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions captured yet.")
		return
	}

	fmt.Printf("%-5s %5s %8s  %-10s %-16s  %s\n", "ID", "TABS", "TRIAGED", "STATUS", "CAPTURED", "TITLE")
	for _, s := range sessions {
		fmt.Printf("%5d %5d %8d  %-10s %-16s  %s\n",
			s.ID,
			s.TabCount,
			s.TriagedCount,
			s.Status,
			s.CapturedAt.Format("2006-01-02 15:04"),
			s.WindowTitle,
		)
	}
}

func runExport(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	cfgPath := fs.String("config", "", "Config file path")
	jsonFlag := fs.Bool("json", false, "Export as JSON instead of markdown")
	outFile := fs.String("out", "", "Output file path (default: stdout)")
	fs.Parse(reorderArgs(args))

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: tabtriage export <session-id> [--json] [--out file]")
		os.Exit(1)
	}
	sessionID, err := strconv.ParseInt(fs.Arg(0), 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid session id: %s\n", fs.Arg(0))
		os.Exit(1)
	}

	db, err := openDB(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	session, err := storage.GetSession(db, sessionID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	tabs, err := storage.ListSessionTabs(db, sessionID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	var output []byte
	if *jsonFlag {
		output, err = export.JSON(session, tabs)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error generating JSON: %v\n", err)
			os.Exit(1)
		}
		output = append(output, '\n')
	} else {
		output = []byte(export.Markdown(session, tabs))
	}

	if *outFile != "" {
		if err := os.WriteFile(*outFile, output, 0644); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing file: %v\n", err)
			os.Exit(1)
		}
	} else {
		os.Stdout.Write(output)
	}
}

func openDB(cfgPath string) (*sql.DB, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	return storage.OpenDB(cfg.DBPath)
}

// reorderArgs moves flag arguments before positional arguments so that
// flag.Parse handles them correctly (it stops at the first non-flag arg).
func reorderArgs(args []string) []string {
	var flags, positional []string
	for i := 0; i < len(args); i++ {
		if strings.HasPrefix(args[i], "-") {
			flags = append(flags, args[i])
			if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
				flags = append(flags, args[i+1])
				i++
			}
		} else {
			positional = append(positional, args[i])
		}
	}
	return append(flags, positional...)
}
