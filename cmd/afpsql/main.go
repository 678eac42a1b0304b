package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/afpsql/afpsql/internal/api"
	"github.com/afpsql/afpsql/internal/cli"
	"github.com/afpsql/afpsql/internal/config"
	"github.com/afpsql/afpsql/internal/db"
	"github.com/afpsql/afpsql/internal/dispatch"
	"github.com/afpsql/afpsql/internal/event"
	"github.com/afpsql/afpsql/internal/mcp"
	"github.com/afpsql/afpsql/internal/metrics"
	"github.com/afpsql/afpsql/internal/render"
)

func main() {
	inv, err := cli.Parse(os.Args[1:])
	if err != nil {
		emitCLIError(err.Error(), render.FormatJSON)
		os.Exit(2)
	}

	switch inv.Mode {
	case cli.ModePipe:
		runPipe(inv)
	case cli.ModeMCP:
		runMCP(inv)
	default:
		runOneShot(inv)
	}
}

// runOneShot executes exactly one query and exits: 0 on success, 1 when any
// error or sql_error event was produced.
func runOneShot(inv *cli.Invocation) {
	cfg := config.Default()
	cfg.Sessions["default"] = inv.Session
	if len(inv.Log) > 0 {
		cfg.Log = inv.Log
	}

	exec := db.NewPostgres()
	defer exec.Close()

	app := dispatch.NewApp(cfg, exec, dispatch.OutputChannelCapacity)
	app.CountRequest()

	session := "default"
	dispatch.ExecuteQuery(context.Background(), app, nil, &session, inv.Request.SQL, inv.Request.Params, inv.Request.Options)
	close(app.Out)

	hadError := false
	for ev := range app.Out {
		switch ev.(type) {
		case event.Error, event.SQLError:
			hadError = true
		}
		printEvent(ev, inv.Output)
	}

	if hadError {
		os.Exit(1)
	}
}

// runPipe serves the line-delimited protocol on stdio until close or EOF,
// with optional YAML bootstrap config, hot reload, and the admin API.
func runPipe(inv *cli.Invocation) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := bootstrapConfig(inv)

	exec := db.NewPostgres()
	defer exec.Close()

	app := dispatch.NewApp(cfg, exec, dispatch.OutputChannelCapacity)
	app.Metrics = metrics.New()

	writerDone := make(chan struct{})
	writerStop := make(chan struct{})
	go func() {
		defer close(writerDone)
		render.WriteEvents(os.Stdout, inv.Output, app.Out, writerStop)
	}()

	var watcher *config.Watcher
	if inv.ConfigFile != "" {
		w, err := config.NewWatcher(inv.ConfigFile, func(p config.Patch) {
			slog.Info("reloading configuration", "path", inv.ConfigFile)
			snap := app.ApplyPatch(p)
			app.Out <- event.NewConfigSnapshot(snap)
		})
		if err != nil {
			slog.Warn("config hot-reload not available", "err", err)
		} else {
			watcher = w
		}
	}

	var apiServer *api.Server
	if inv.APIAddr != "" {
		apiServer = api.NewServer(app)
		apiServer.Start(inv.APIAddr)
	}

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		dispatch.Run(ctx, app, os.Stdin)
	}()

	select {
	case <-runDone:
		// quiesce the producers, then let the writer flush and exit. The
		// output channel is never closed: a worker past the drain deadline
		// may still be alive, and its late emit must find a silenced app,
		// not a closed channel.
		if watcher != nil {
			watcher.Stop()
			watcher = nil
		}
		app.Shutdown()
		close(writerStop)
		<-writerDone
	case <-ctx.Done():
		// stdin is still open; abandon the read loop and let worker
		// contexts unwind
		slog.Info("received signal, shutting down")
	}

	if watcher != nil {
		watcher.Stop()
	}
	if apiServer != nil {
		if err := apiServer.Stop(); err != nil {
			slog.Warn("admin API shutdown", "err", err)
		}
	}
}

// runMCP serves the JSON-RPC tool protocol on stdio.
func runMCP(inv *cli.Invocation) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := bootstrapConfig(inv)

	exec := db.NewPostgres()
	defer exec.Close()

	app := dispatch.NewApp(cfg, exec, mcp.OutputChannelCapacity)
	mcp.New(app, os.Stdin, os.Stdout).Run(ctx)
}

// bootstrapConfig layers the startup sources: defaults, then the YAML file,
// then the command-line session and log filters.
func bootstrapConfig(inv *cli.Invocation) config.Runtime {
	cfg := config.Default()

	if inv.ConfigFile != "" {
		patch, err := config.LoadFile(inv.ConfigFile)
		if err != nil {
			slog.Error("failed to load config", "path", inv.ConfigFile, "err", err)
			os.Exit(1)
		}
		cfg.Apply(patch)
		slog.Info("configuration loaded", "path", inv.ConfigFile, "sessions", len(cfg.Sessions))
	}

	if !inv.Session.IsZero() {
		cfg.Sessions[cfg.DefaultSession] = inv.Session
	}
	if len(inv.Log) > 0 {
		cfg.Log = inv.Log
	}
	return cfg
}

func emitCLIError(msg string, format render.Format) {
	ev := event.NewError(nil, "invalid_request", msg, false, event.DurationOnly(0))
	printEvent(ev, format)
}

func printEvent(ev event.Output, format render.Format) {
	line, err := render.Render(ev, format)
	if err != nil {
		slog.Warn("render event failed", "error", err)
		return
	}
	fmt.Println(line)
}
