package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/metaswitch/homestead-cache/internal/banner"
	"github.com/metaswitch/homestead-cache/internal/cache/api"
	"github.com/metaswitch/homestead-cache/internal/cache/config"
	"github.com/metaswitch/homestead-cache/internal/cache/hss"
	"github.com/metaswitch/homestead-cache/internal/cache/impustore"
	"github.com/metaswitch/homestead-cache/internal/cache/processor"
	"github.com/metaswitch/homestead-cache/internal/cache/reconciler"
	"github.com/metaswitch/homestead-cache/internal/cache/stats"
	"github.com/metaswitch/homestead-cache/internal/cache/store"
	"github.com/metaswitch/homestead-cache/internal/cache/store/grpcremote"
	"github.com/metaswitch/homestead-cache/internal/cache/store/httpremote"
	"github.com/metaswitch/homestead-cache/internal/cache/workerpool"
	"github.com/metaswitch/homestead-cache/internal/logger"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger.InitLogger(os.Stdout)
	logger.SetLevel(cfg.LogLevel)

	local, err := store.NewLocal(cfg.LocalStorePath)
	if err != nil {
		slog.Error("failed to open local store", "err", err)
		os.Exit(1)
	}
	defer local.Close()

	localIMPU := impustore.New("local", local)

	var remoteStores []store.Store
	var remoteIMPU []*impustore.Store
	for i, addr := range cfg.RemoteStores {
		id := store.ID(fmt.Sprintf("remote-%d", i))
		switch cfg.RemoteTransport {
		case "grpc":
			client, err := grpcremote.Dial(addr)
			if err != nil {
				slog.Error("failed to dial remote store", "addr", addr, "err", err)
				os.Exit(1)
			}
			remoteStores = append(remoteStores, client)
			remoteIMPU = append(remoteIMPU, impustore.New(id, client))
		default:
			client := httpremote.NewClient("http://" + addr)
			remoteStores = append(remoteStores, client)
			remoteIMPU = append(remoteIMPU, impustore.New(id, client))
		}
	}
	defer func() {
		for _, s := range remoteStores {
			_ = s.Close()
		}
	}()

	recCfg := reconciler.Config{CASRetries: cfg.CASRetries, DefaultTTL: cfg.DefaultTTL}
	rec := reconciler.New(localIMPU, remoteIMPU, recCfg, slog.Default())

	pool := workerpool.New(cfg.Workers, cfg.QueueSize, slog.Default())
	defer pool.Stop()

	statsRegistry := stats.New()
	proc := processor.New(pool, rec, statsRegistry, slog.Default())

	// The real HSS connection (Diameter Cx over the network) is an
	// out-of-core collaborator; StaticConnection stands in as the default
	// wiring until a transport-specific Connection is supplied.
	conn := &hss.StaticConnection{}
	orchestrator := hss.New(proc, conn, slog.Default())

	apiServer := api.New(cfg.HTTPAddr, orchestrator, statsRegistry, slog.Default())

	banner.Print("Homestead Cache", []banner.ConfigLine{
		{Label: "HTTP Address", Value: cfg.HTTPAddr},
		{Label: "Local Store", Value: cfg.LocalStorePath},
		{Label: "Remote Stores", Value: fmt.Sprintf("%v (%s)", cfg.RemoteStores, cfg.RemoteTransport)},
		{Label: "Workers", Value: strconv.Itoa(cfg.Workers)},
		{Label: "Queue Size", Value: strconv.Itoa(cfg.QueueSize)},
		{Label: "Default TTL", Value: cfg.DefaultTTL.String()},
		{Label: "CAS Retries", Value: strconv.Itoa(cfg.CASRetries)},
		{Label: "Server Name", Value: cfg.ServerName},
	})

	run(apiServer)
}

func run(apiServer *api.Server) {
	errCh := make(chan error, 1)
	go func() {
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		slog.Error("API server error", "err", err)
	case sig := <-sigChan:
		slog.Info("received signal, shutting down", "signal", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		slog.Error("error during shutdown", "err", err)
	}
}
