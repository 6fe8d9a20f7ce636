package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/samirrijal/geoaugment/internal/adapters/remote"
	"github.com/samirrijal/geoaugment/internal/core/domain"
	"github.com/samirrijal/geoaugment/internal/core/usecases"
	"github.com/samirrijal/geoaugment/internal/pkg/config"
	"github.com/samirrijal/geoaugment/internal/pkg/logging"
)

// report is the JSON printed for one fetch.
type report struct {
	Target      usecases.FetchTarget   `json:"target"`
	Position    domain.GeoPoint        `json:"position"`
	Pages       int                    `json:"pages"`
	Redirects   int                    `json:"redirects"`
	InnerLayers []string               `json:"inner_layers,omitempty"`
	Bundles     []string               `json:"bundles,omitempty"`
	Settings    usecases.LayerSettings `json:"settings"`
	Create      []usecases.Candidate   `json:"create"`
	Directory   []domain.LayerItem     `json:"directory,omitempty"`
	Elapsed     string                 `json:"elapsed"`
	Error       string                 `json:"error,omitempty"`
	ErrorKind   string                 `json:"error_kind,omitempty"`
	Raw         []domain.Layer         `json:"raw,omitempty"`
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load("geoaugment-layerfetch")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	url := flag.String("url", cfg.Service.URL, "layer service url")
	layer := flag.String("layer", cfg.Service.Layer, "layer name")
	lat := flag.Float64("lat", cfg.Location.FixedLat, "device latitude")
	lon := flag.Float64("lon", cfg.Location.FixedLon, "device longitude")
	raw := flag.Bool("raw", false, "include the raw pages")
	timeout := flag.Duration("timeout", 2*time.Minute, "overall timeout")
	flag.Parse()

	logging.Setup(cfg.Log.Level, "text")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	deviceID := cfg.Service.DeviceID
	if deviceID == "" {
		deviceID = uuid.NewString()
	}

	client := remote.NewClient("geoaugment-layerfetch", 0)
	fetcher := usecases.NewLayerFetcher(client, nil, usecases.FetchOptions{
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
	})

	pos := domain.GeoPoint{Lat: *lat, Lon: *lon}
	rep := report{
		Target:   usecases.FetchTarget{URL: *url, Layer: *layer},
		Position: pos,
	}

	start := time.Now()
	err = run(ctx, fetcher, cfg.Service.DirectoryLayer, &rep, *raw)
	rep.Elapsed = time.Since(start).Round(time.Millisecond).String()
	if err != nil {
		rep.Error = domain.UserMessage(err)
		rep.ErrorKind = domain.KindOf(err).String()
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep); err != nil {
		log.Fatalf("encode: %v", err)
	}
	if rep.Error != "" {
		os.Exit(1)
	}
}

func run(ctx context.Context, fetcher *usecases.LayerFetcher, directoryLayer string, rep *report, raw bool) error {
	res, err := fetcher.Fetch(ctx, usecases.FetchQuery{
		Target: rep.Target,
		Used:   rep.Position,
		Device: rep.Position,
	})
	if err != nil {
		return err
	}
	rep.Target = res.Target
	rep.Pages = len(res.Pages)
	rep.Redirects = res.Redirects
	if raw {
		rep.Raw = res.Pages
	}

	if items := usecases.DirectoryItems(res.Pages, directoryLayer, nil); len(items) > 0 {
		rep.Directory = items
		return nil
	}

	if err := fetcher.ResolveInnerLayers(ctx, usecases.FetchQuery{Target: res.Target, Used: rep.Position, Device: rep.Position}, res.Target.Layer, res.Pages); err != nil {
		return fmt.Errorf("inner layers: %w", err)
	}
	rep.InnerLayers = usecases.InnerLayerNames(res.Pages)
	rep.Bundles = usecases.BundleURLs(res.Pages, fetcher.InnerLayers().Pages())

	r := usecases.Reconcile(nil, res.Pages, rep.Position)
	rep.Settings = r.Settings
	rep.Create = r.ToCreate
	return nil
}
