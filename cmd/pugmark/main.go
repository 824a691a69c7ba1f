package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/paulmach/orb/geojson"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"

	"github.com/ritzau/pugmark/pkg/config"
	"github.com/ritzau/pugmark/pkg/footprint"
	"github.com/ritzau/pugmark/pkg/logging"
	"github.com/ritzau/pugmark/pkg/metrics"
	"github.com/ritzau/pugmark/pkg/nodeio"
	"github.com/ritzau/pugmark/pkg/output"
	"github.com/ritzau/pugmark/pkg/parcels"
	"github.com/ritzau/pugmark/pkg/pipeline"
	"github.com/ritzau/pugmark/pkg/pubsub"
	"github.com/ritzau/pugmark/pkg/session"
	"github.com/ritzau/pugmark/pkg/watcher"
	"github.com/ritzau/pugmark/pkg/web"
)

func main() {
	flags := pflag.NewFlagSet("pugmark", pflag.ExitOnError)
	config.RegisterFlags(flags)
	if err := flags.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	cfg, err := config.Load(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	logging.SetOutput(os.Stderr, logging.ParseLevel(cfg.Verbosity, cfg.VerboseCnt), cfg.JSONLogs)

	if cfg.Parcels == "" {
		fmt.Fprintln(os.Stderr, "Error: --parcels is required")
		flags.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logging.Error("pugmark failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	fc, _, err := parcels.Load(cfg.Parcels)
	if err != nil {
		return err
	}

	collector, err := metrics.NewCollector(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	params := pipeline.Params{
		Steps:           cfg.Steps,
		MinNeighbors:    cfg.Neighbors,
		MaxRadius:       cfg.Reach,
		SplitBoundaries: cfg.Split,
		Workers:         cfg.Workers,
		Observer:        collector,
	}

	var pub *pubsub.SSEPublisher
	opts := []session.Option{
		session.WithParams(params),
		session.WithRadius(cfg.Radius),
		session.WithCountRecorder(collector),
	}
	if cfg.WebMode {
		pub = pubsub.NewSSEPublisher(pubsub.DefaultTopics())
		defer pub.Close()
		opts = append(opts, session.WithPublisher(pub))
	}

	sess, err := session.New(ctx, fc, opts...)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}

	if cfg.Nodes != "" {
		nodes, err := nodeio.ReadFile(cfg.Nodes)
		if err != nil {
			return err
		}
		if err := sess.ReplaceNodes(ctx, nodes); err != nil {
			return fmt.Errorf("analyzing %s: %w", cfg.Nodes, err)
		}
	}

	if cfg.WebMode {
		return serve(ctx, cfg, sess, pub, collector)
	}

	analysis := sess.Analysis()
	output.PrintAnalysisReport(os.Stdout, cfg.Parcels, sess.ParcelCount(), analysis)

	if cfg.Out != "" {
		if err := writeClusters(cfg.Out, analysis.Clusters()); err != nil {
			return err
		}
		logging.Info("wrote clusters", "path", cfg.Out, "clusters", analysis.ClusterCount())
	}
	return nil
}

func serve(ctx context.Context, cfg *config.Config, sess *session.Session, pub *pubsub.SSEPublisher, collector *metrics.Collector) error {
	server := web.NewServer(sess, pub,
		web.WithMetrics(collector),
		web.WithFootprints(footprint.MaskBounds, "mask-bounds"),
	)

	if cfg.Watch {
		if err := startWatching(ctx, cfg, sess, server); err != nil {
			return err
		}
	}

	if err := server.PublishStatus("ready", fmt.Sprintf("%d parcels loaded", sess.ParcelCount())); err != nil {
		logging.Warn("could not publish status", "error", err)
	}
	return server.Start(ctx, cfg.Port)
}

func startWatching(ctx context.Context, cfg *config.Config, sess *session.Session, server *web.Server) error {
	fw, err := watcher.NewFileWatcher(cfg.Parcels, cfg.Nodes)
	if err != nil {
		return err
	}
	if err := fw.Start(ctx); err != nil {
		fw.Stop()
		return err
	}
	go func() {
		<-ctx.Done()
		fw.Stop()
	}()

	debouncer := watcher.NewDebouncer(fw.Events(), 500*time.Millisecond, 5*time.Second)
	debouncer.Start(ctx)

	reloader := &watcher.Reloader{
		Target:      sess,
		ParcelsPath: cfg.Parcels,
		NodesPath:   cfg.Nodes,
		OnStatus: func(state, message string) {
			if err := server.PublishStatus(state, message); err != nil {
				logging.Warn("could not publish status", "error", err)
			}
		},
	}
	go reloader.Run(ctx, debouncer.Output())
	return nil
}

func writeClusters(path string, fc *geojson.FeatureCollection) error {
	if strings.HasSuffix(path, parcels.CompressedExt) {
		return parcels.SaveCompressed(path, fc)
	}
	data, err := json.MarshalIndent(fc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding clusters: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
