package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/ritzau/insight-graph/pkg/config"
	"github.com/ritzau/insight-graph/pkg/ingest"
	"github.com/ritzau/insight-graph/pkg/logging"
	"github.com/ritzau/insight-graph/pkg/metrics"
	"github.com/ritzau/insight-graph/pkg/output"
	"github.com/ritzau/insight-graph/pkg/pipeline"
	"github.com/ritzau/insight-graph/pkg/pubsub"
	"github.com/ritzau/insight-graph/pkg/query"
	"github.com/ritzau/insight-graph/pkg/store"
	"github.com/ritzau/insight-graph/pkg/watcher"
	"github.com/ritzau/insight-graph/pkg/web"
)

func main() {
	flags := pflag.NewFlagSet("insight-graph", pflag.ExitOnError)
	config.RegisterFlags(flags)
	if err := flags.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	cfg, err := config.Load(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	level, err := cfg.LogLevel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := logging.Configure(os.Stdout, level, cfg.LogFormat); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Follow != "" {
		err = follow(ctx, cfg.Follow)
	} else {
		err = run(ctx, cfg)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		stop()
		logging.Fatal("insight-graph failed", "error", err)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	reg := metrics.NewRegistry()

	sse := pubsub.NewSSEPublisher()
	defer sse.Close()
	sse.OnDrop(func(string) { reg.DroppedNotification() })

	var sink pubsub.Sink = sse
	if cfg.Notify.NNGListen != "" {
		nng, err := pubsub.NewNNGPublisher(cfg.Notify.NNGListen)
		if err != nil {
			return err
		}
		defer nng.Close()
		sink = pubsub.Fanout{sse, nng}
	}

	svc := query.NewService(
		query.WithNotifier(sink),
		query.WithRecorder(reg),
		query.WithClusterOptions(cfg.ClusterOptions()),
	)

	st, err := store.Open(ctx, cfg.StoreOptions())
	if err != nil {
		return fmt.Errorf("failed to open snapshot store: %w", err)
	}
	if st != nil {
		defer st.Close()
	}

	runner := pipeline.NewRunner(pipeline.Options{
		DataDir:      cfg.DataDir,
		AudienceFile: cfg.Audiences,
		Edges:        cfg.EdgeOptions(),
	}, svc,
		pipeline.WithStatus(sink),
		pipeline.WithStore(st),
		pipeline.WithRecorder(reg),
	)

	warm, err := runner.WarmStart(ctx)
	if err != nil {
		logging.Warn("ignoring stored snapshot", "error", err)
	}

	if !cfg.WebMode {
		// Console mode: build, report, then optionally keep rebuilding.
		var report *ingest.Report
		res, err := runner.Run(ctx, "initial build")
		switch {
		case err == nil:
			report = res.Report
		case !warm:
			return err
		}
		if cfg.Summary {
			if err := output.PrintSummary(ctx, os.Stdout, svc, report); err != nil {
				return err
			}
		}
		if cfg.Watch {
			return watcher.Watch(ctx, cfg.DataDir, cfg.Audiences, runner)
		}
		return nil
	}

	// Web mode: serve right away and build in the background. Clients
	// see the stored snapshot or 503 until the first build completes.
	server := web.NewServer(svc, sse, web.WithMetrics(reg), web.WithRebuilder(runner))
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(gctx, cfg.Port)
	})
	g.Go(func() error {
		// Ends SSE streams so the server can shut down.
		<-gctx.Done()
		return sse.Close()
	})
	g.Go(func() error {
		res, err := runner.Run(gctx, "initial build")
		if err == nil && cfg.Summary {
			if err := output.PrintSummary(gctx, os.Stdout, svc, res.Report); err != nil {
				logging.Warn("failed to print summary", "error", err)
			}
		}
		if cfg.Watch {
			return watcher.Watch(gctx, cfg.DataDir, cfg.Audiences, runner)
		}
		return nil
	})
	return g.Wait()
}

// follow prints the activity stream of another instance.
func follow(ctx context.Context, addr string) error {
	f, err := pubsub.NewFollower(addr, pubsub.DefaultRetryPolicy())
	if err != nil {
		return err
	}
	f.OnState(func(s pubsub.State) {
		logging.Info("follower state changed", "state", string(s), "addr", addr)
	})
	return f.Run(ctx, func(e pubsub.Event) {
		output.PrintEvent(os.Stdout, e)
	})
}
