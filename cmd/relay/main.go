// Command relay runs the chat relay server.
package main

import (
	"context"
	stderrors "errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/HMasataka/chatrelay/internal/config"
	"github.com/HMasataka/chatrelay/internal/eventbus"
	"github.com/HMasataka/chatrelay/internal/hub"
	"github.com/HMasataka/chatrelay/internal/logging"
	"github.com/HMasataka/chatrelay/internal/presence"
	"github.com/HMasataka/chatrelay/internal/server"
	"github.com/HMasataka/chatrelay/internal/store"
	"github.com/HMasataka/chatrelay/pkg/errors"
	"github.com/HMasataka/chatrelay/pkg/relay"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "path to a JSON or YAML config file")
	flag.Parse()

	cfg, err := config.Load(config.LoadOptions{Path: *configPath})
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("relay: %v", err)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logging.New(cfg.Logging)
	errHandler := errors.NewDefaultHandler(logger.Logger)

	bus := eventbus.NewInMemoryBus(1024)
	bus.Start(ctx)
	defer bus.Stop()

	bus.Subscribe(eventbus.EventError, func(event *eventbus.Event) {
		logger.Warn("relay error event", "source", event.Source, "data", event.Data)
	})

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(context.Background()); err != nil {
			errHandler.Handle(ctx, err)
		}
	}()

	connections := hub.New(logger.WithFields(map[string]any{"component": "hub"}), bus)
	if err := connections.Start(ctx); err != nil {
		return err
	}
	defer connections.Stop()

	engine := relay.NewEngine(relay.Options{
		Logger:      logger,
		EventBus:    bus,
		Store:       st,
		Connections: connections,
	})
	defer engine.Close()

	if cfg.Redis.Enabled() {
		mirror := presence.NewMirror(cfg.Redis, logger)
		if err := mirror.Start(ctx, bus); err != nil {
			// the relay works without the mirror
			errHandler.Handle(ctx, err)
			_ = mirror.Stop()
		} else {
			defer mirror.Stop()
		}
	}

	srv := server.NewHTTPServer(cfg.Server, server.NewRouter(server.Deps{
		Config: cfg,
		Logger: logger,
		Bus:    bus,
		Hub:    connections,
		Engine: engine,
		Store:  st,
	}))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("relay listening", "addr", srv.Addr, "store", cfg.Store.Driver, "admin", cfg.Admin.Enabled())
		if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down", "timeout", cfg.Server.ShutdownTimeout)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case config.StoreDriverMongo:
		return store.NewMongo(ctx, cfg.Mongo)
	default:
		return store.NewMemoryWithHistory(cfg.History), nil
	}
}
