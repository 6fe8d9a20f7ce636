package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"

	"github.com/samirrijal/geoaugment/internal/adapters/http"
	natsadapter "github.com/samirrijal/geoaugment/internal/adapters/nats"
	"github.com/samirrijal/geoaugment/internal/adapters/remote"
	"github.com/samirrijal/geoaugment/internal/adapters/valkey"
	"github.com/samirrijal/geoaugment/internal/core/domain"
	"github.com/samirrijal/geoaugment/internal/core/ports"
	"github.com/samirrijal/geoaugment/internal/core/usecases"
	"github.com/samirrijal/geoaugment/internal/pkg/config"
	"github.com/samirrijal/geoaugment/internal/pkg/logging"
	"github.com/samirrijal/geoaugment/internal/pkg/telemetry"
)

var version = "dev"

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load("geoaugment-engine")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Telemetry
	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.TempoAddr)
		if err != nil {
			slog.Warn("telemetry init failed", "error", err)
		} else {
			defer shutdown()
		}
	}

	deviceID := cfg.Service.DeviceID
	if deviceID == "" {
		deviceID = uuid.NewString()
	}

	// Cache
	var cache *valkey.Cache
	var pageCache ports.CacheService
	if cfg.Valkey.Enabled {
		cache, err = valkey.New(cfg.Valkey.Addr)
		if err != nil {
			slog.Warn("valkey unavailable", "error", err)
		} else {
			defer cache.Close()
			pageCache = cache
		}
	}

	// NATS
	var (
		pub      *natsadapter.Publisher
		sub      *natsadapter.Subscriber
		natsConn *nats.Conn
	)
	if cfg.NATS.Enabled {
		pub, err = natsadapter.NewPublisher(cfg.NATS.URL)
		if err != nil {
			log.Fatalf("nats publisher: %v", err)
		}
		defer pub.Close()

		sub, err = natsadapter.NewSubscriber(cfg.NATS.URL)
		if err != nil {
			log.Fatalf("nats subscriber: %v", err)
		}
		defer sub.Close()

		// Raw NATS connection for WebSocket relay
		natsConn, err = natsadapter.RawConn(cfg.NATS.URL)
		if err != nil {
			slog.Warn("nats ws conn unavailable", "error", err)
		} else {
			defer natsConn.Close()
		}
	}

	// Use cases
	client := remote.NewClient("geoaugment/"+version, 0)
	fetcher := usecases.NewLayerFetcher(client, pageCache, usecases.FetchOptions{
		Language:     cfg.Service.Language,
		DeviceID:     deviceID,
		Client:       cfg.Service.Client,
		Version:      cfg.Service.Version,
		Bundle:       cfg.Service.Bundle,
		OS:           cfg.Service.OS,
		Build:        cfg.Service.Build,
		Radius:       cfg.Fetch.Radius,
		Accuracy:     cfg.Fetch.Accuracy,
		PageTimeout:  cfg.Fetch.PageTimeout,
		MaxRedirects: cfg.Fetch.MaxRedirects,
		PageCacheTTL: cfg.Fetch.PageCacheTTL,
	})
	bundles := usecases.NewBundleResolver(client, remote.NewManifestDecoder(), cfg.Fetch.BundleTimeout)
	builder := usecases.NewObjectBuilder(bundles, fetcher.InnerLayers(), cfg.Engine.SkipInvalidObjects)

	var links ports.LinkOpener
	if pub != nil {
		links = pub
	}

	engine := usecases.NewEngine(usecases.EngineOptions{
		Target:              usecases.FetchTarget{URL: cfg.Service.URL, Layer: cfg.Service.Layer},
		DirectoryLayer:      cfg.Service.DirectoryLayer,
		IconBundleURL:       cfg.Fetch.IconBundleURL,
		DeviceAngle:         cfg.Engine.DeviceAngle,
		HeadingWarmup:       cfg.Engine.HeadingWarmup,
		LocationInitTimeout: cfg.Location.InitTimeout,
		RefreshPerMinute:    cfg.Fetch.RefreshPerMin,
	},
		fetcher,
		bundles,
		usecases.NewLocationFilter(cfg.Location.ProcessNoise),
		usecases.NewObjectStore(),
		builder,
		usecases.NewAnimationEngine(links),
	)

	// Location
	var source ports.LocationSource
	if cfg.Location.Source == "fixed" {
		source = &fixedLocation{sample: domain.LocationSample{
			Lat:      cfg.Location.FixedLat,
			Lon:      cfg.Location.FixedLon,
			Accuracy: cfg.Location.Accuracy,
		}}
	} else {
		source = natsadapter.NewLocationStream(sub)
	}
	go func() {
		if err := engine.TrackLocation(ctx, source); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("location tracking stopped", "error", err)
		}
	}()

	// Control input
	input := &inputState{}
	if sub != nil {
		if err := sub.SubscribeRefresh(ctx, func(ctx context.Context, req *domain.RefreshRequest) error {
			if err := engine.RequestRefresh(*req); err != nil && !errors.Is(err, usecases.ErrRefreshThrottled) {
				return err
			}
			return nil
		}); err != nil {
			log.Fatalf("subscribe refresh: %v", err)
		}
		if err := sub.SubscribeInput(ctx, func(ctx context.Context, in *domain.TickInput) error {
			input.set(*in)
			return nil
		}); err != nil {
			log.Fatalf("subscribe input: %v", err)
		}
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("engine stopped", "error", err)
		}
	}()
	go func() {
		defer wg.Done()
		tickLoop(ctx, engine, input, pub, cfg.Engine.TickHz, cfg.Engine.PublishFrames)
	}()

	// Fiber
	app := fiber.New(fiber.Config{
		ReadTimeout:           time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:          time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:             64 * 1024,
		AppName:               "geoaugment engine",
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept",
		MaxAge:       3600,
	}))

	http.SetupRoutes(app, &http.Dependencies{
		Engine:  engine,
		NATS:    natsConn,
		Cache:   cache,
		Version: version,
	})

	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		slog.Info("engine starting", "addr", addr, "layer", cfg.Service.Layer, "device_id", deviceID)
		if err := app.Listen(addr); err != nil {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown signal received, draining connections...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		slog.Error("forced shutdown", "error", err)
	}

	wg.Wait()
	slog.Info("engine stopped")
}

// tickLoop renders frames at hz and publishes their output.
func tickLoop(ctx context.Context, engine *usecases.Engine, input *inputState, pub *natsadapter.Publisher, hz int, publishFrames bool) {
	logger := logging.Component("tick")
	ticker := time.NewTicker(time.Second / time.Duration(hz))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			frame := engine.Tick(ctx, input.take(), now)
			if pub == nil {
				continue
			}
			if publishFrames {
				if err := pub.PublishFrame(ctx, &frame); err != nil {
					logger.Warn("publish frame failed", "error", err)
				}
			}
			if frame.Generation != nil {
				if err := pub.PublishGeneration(ctx, frame.Generation); err != nil {
					logger.Warn("publish generation failed", "error", err)
				}
			}
			for i := range frame.Events {
				if err := pub.PublishAnimationEvent(ctx, &frame.Events[i]); err != nil {
					logger.Warn("publish animation event failed", "error", err)
				}
			}
			if err := pub.PublishDuplicates(ctx, frame.Duplicates); err != nil {
				logger.Warn("publish duplicates failed", "error", err)
			}
		}
	}
}

// inputState holds the latest presentation input. Clicks are delivered to
// exactly one tick.
type inputState struct {
	mu sync.Mutex
	in domain.TickInput
}

func (s *inputState) set(in domain.TickInput) {
	s.mu.Lock()
	defer s.mu.Unlock()
	click := s.in.ClickHit
	s.in = in
	if in.ClickHit == nil {
		s.in.ClickHit = click
	}
}

func (s *inputState) take() domain.TickInput {
	s.mu.Lock()
	defer s.mu.Unlock()
	in := s.in
	s.in.ClickHit = nil
	return in
}

// fixedLocation reports one configured position and stays open.
type fixedLocation struct {
	sample domain.LocationSample
}

func (f *fixedLocation) Start(ctx context.Context) (<-chan domain.LocationSample, error) {
	out := make(chan domain.LocationSample, 1)
	s := f.sample
	s.TimestampMs = time.Now().UnixMilli()
	out <- s
	go func() {
		<-ctx.Done()
		close(out)
	}()
	return out, nil
}
