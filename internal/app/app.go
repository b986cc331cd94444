// internal/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/YaganovValera/market-feed/internal/config"
	"github.com/YaganovValera/market-feed/internal/feed"
	"github.com/YaganovValera/market-feed/internal/format"
	"github.com/YaganovValera/market-feed/internal/metrics"
	"github.com/YaganovValera/market-feed/internal/monitor"
	"github.com/YaganovValera/market-feed/internal/packet"
	"github.com/YaganovValera/market-feed/internal/sink/kafkasink"
	"github.com/YaganovValera/market-feed/internal/sink/quotecache"
	"github.com/YaganovValera/market-feed/pkg/httpserver"
	"github.com/YaganovValera/market-feed/pkg/kafka"
	"github.com/YaganovValera/market-feed/pkg/logger"
	"github.com/YaganovValera/market-feed/pkg/telemetry"
)

// Env variables consulted when auth is not set in config, so a rotated
// token is picked up on the next connect.
const (
	LoginIDEnv = config.EnvPrefix + "_AUTH_LOGIN_ID"
	TokenEnv   = config.EnvPrefix + "_AUTH_TOKEN"
)

// Run wires the feed, monitor, sinks and HTTP server and blocks until ctx
// is done or a component fails.
func Run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	metrics.Register(nil)

	// ---- telemetry ----
	cfg.Telemetry.ServiceName = cfg.ServiceName
	cfg.Telemetry.ServiceVersion = cfg.ServiceVersion
	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.Telemetry, log)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer shutdownSafe(ctx, "telemetry", func() error { return shutdownTracer(context.Background()) }, log)

	// ---- feed ----
	f, err := feed.New(cfg.Feed.Config, credentials(cfg.Auth), log)
	if err != nil {
		return fmt.Errorf("feed init: %w", err)
	}
	defer shutdownSafe(ctx, "feed", f.Close, log)

	mon := monitor.New(f, !cfg.Feed.StartHidden, log)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	// ---- sinks ----
	var sinks []func(format.Event)

	if cfg.Kafka.Sink.Enabled {
		prod, err := kafka.NewProducer(ctx, cfg.Kafka.Config, log)
		if err != nil {
			return fmt.Errorf("kafka producer init: %w", err)
		}
		defer shutdownSafe(ctx, "kafka-producer", prod.Close, log)
		ks, err := kafkasink.New(cfg.Kafka.Sink, prod, log)
		if err != nil {
			return fmt.Errorf("kafka sink init: %w", err)
		}
		sinks = append(sinks, ks.Callback)
		g.Go(func() error { return ks.Run(ctx) })
	}

	var cache *quotecache.Cache
	if cfg.Redis.Enabled {
		cache, err = quotecache.New(ctx, cfg.Redis, log)
		if err != nil {
			return fmt.Errorf("quote cache init: %w", err)
		}
		defer shutdownSafe(ctx, "quote-cache", cache.Close, log)
		sinks = append(sinks, cache.Callback)
		g.Go(func() error { return cache.Run(ctx) })
	}

	// ---- subscriptions ----
	specs, err := cfg.Specs()
	if err != nil {
		return err
	}
	cb := fanOut(log, sinks)
	for _, sp := range specs {
		h, err := f.Subscribe(ctx, sp, cb)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", sp, err)
		}
		log.Info("subscribed", zap.String("spec", sp.String()), logger.Topic(string(h.Topic)))
	}

	// ---- HTTP ----
	routes := monitor.Routes(mon, func(ctx context.Context) (any, error) { return f.Status(ctx) })
	routes = append(routes, httpserver.Route{Pattern: "/log/level", Handler: log.LevelHandler()})
	if cache != nil {
		routes = append(routes, httpserver.Route{Method: http.MethodGet, Pattern: "/quotes", Handler: quotesHandler(cache)})
	}
	readiness := func() error {
		if !f.IsConnected() {
			return fmt.Errorf("feed %s", f.State())
		}
		return nil
	}
	httpSrv, err := httpserver.New(cfg.HTTP, readiness, log, routes...)
	if err != nil {
		return fmt.Errorf("httpserver init: %w", err)
	}
	g.Go(func() error { return httpSrv.Start(ctx) })

	// ---- network prober ----
	if addr := cfg.ProberAddress(); addr != "" {
		pcfg := cfg.Prober
		pcfg.Address = addr
		prober, err := monitor.NewProber(pcfg, mon, nil, log)
		if err != nil {
			return fmt.Errorf("prober init: %w", err)
		}
		g.Go(func() error { return prober.Run(ctx) })
	}

	g.Go(func() error { return f.Run(ctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("market-feed stopped")
	return nil
}

func credentials(auth config.AuthConfig) feed.CredentialsProvider {
	static := feed.Credentials{LoginID: auth.LoginID, Token: auth.Token}
	env := feed.EnvCredentials{LoginIDVar: LoginIDEnv, TokenVar: TokenEnv}
	return feed.CredentialsFunc(func(ctx context.Context) (feed.Credentials, error) {
		if static.Valid() {
			return static, nil
		}
		return env.Credentials(ctx)
	})
}

// fanOut hands each event to every sink. Sinks only enqueue.
func fanOut(log *logger.Logger, sinks []func(format.Event)) func(format.Event) {
	log = log.Named("events")
	return func(ev format.Event) {
		for _, s := range sinks {
			s(ev)
		}
		if log.Enabled(zap.DebugLevel) {
			log.Debug("event", logger.Topic(string(ev.Topic)), zap.Float64("ltp", ev.Price("ltp")))
		}
	}
}

func quotesHandler(cache *quotecache.Cache) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tp := r.URL.Query().Get("topic")
		if tp == "" {
			http.Error(w, "missing topic", http.StatusBadRequest)
			return
		}
		ev, err := cache.Last(r.Context(), packet.Topic(tp))
		switch {
		case errors.Is(err, quotecache.ErrNotFound):
			http.Error(w, "not found", http.StatusNotFound)
			return
		case err != nil:
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(ev)
	})
}

// shutdownSafe runs a Close/Shutdown with logging.
func shutdownSafe(ctx context.Context, name string, fn func() error, log *logger.Logger) {
	log.WithContext(ctx).Info(name + ": shutting down")
	if err := fn(); err != nil {
		log.WithContext(ctx).Error(name+": shutdown error", zap.Error(err))
		return
	}
	log.WithContext(ctx).Info(name + ": shutdown complete")
}
