package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/dnstrail/dnstrail/config"
	"github.com/dnstrail/dnstrail/eventsource"
	"github.com/dnstrail/dnstrail/extractor"
	"github.com/dnstrail/dnstrail/hostinfo"
	"github.com/dnstrail/dnstrail/transport"
)

var (
	configPath     = flag.String("config-path", "", "Path to the agent config file")
	logLevel       = flag.String("log-level", logrus.InfoLevel.String(), "Log level")
	httpListenPort = flag.Int("http-listen-port", 8008, "HTTP server listen port for metrics and health checks")
	dumpEvents     = flag.Bool("dump-events", false, "Only print the records the source currently holds and exit")
)

// These should be set via `go build` during a release.
var (
	GitCommit = "undefined"
	GitRef    = "no-ref"
	Version   = "local"
)

func main() {
	flag.Parse()

	log := logrus.New()
	lvl, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		log.Fatal(err)
	}
	log.SetLevel(lvl)

	cfg, err := config.LoadAgent(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	if *dumpEvents {
		if err := dump(log, cfg); err != nil {
			log.Fatal(err)
		}
		return
	}

	if err := run(log, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal(err)
	}
}

func run(log logrus.FieldLogger, cfg config.Agent) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	source, err := eventsource.New(ctx, cfg.Source, log)
	if err != nil {
		return err
	}
	addresses := hostinfo.NewResolver(ctx, hostinfo.Config{
		StaticAddress:   cfg.SourceAddress,
		RefreshInterval: cfg.AddressRefreshInterval,
	}, log)
	client := transport.NewClient(transport.Config{
		Addr:         cfg.CollectorAddr,
		DialTimeout:  cfg.DialTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	ext := extractor.New(
		extractor.Config{
			ReadInterval:  cfg.ReadInterval,
			TickQueueSize: cfg.TickQueueSize,
			Fields:        eventsource.FieldMapFor(cfg.Source),
		},
		log.WithField("component", "extractor"),
		source,
		addresses,
		client,
		extractor.CurrentTimeGetter(),
	)

	mux := http.NewServeMux()
	addPprofHandlers(mux)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", healthHandler)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", *httpListenPort),
		Handler:           mux,
		ReadHeaderTimeout: 3 * time.Second,
	}

	go func() {
		stopper := make(chan os.Signal, 1)
		signal.Notify(stopper, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
		<-stopper

		// Stop http server.
		ctx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Errorf("http server shutdown: %v", err)
		}

		// Cancel context for other components like extractor.
		cancel()
	}()

	log.Infof("running dnstrail agent, version=%s, commit=%s, ref=%s, source=%s, collector=%s, read-interval=%s",
		Version, GitCommit, GitRef, cfg.Source.Kind, cfg.CollectorAddr, cfg.ReadInterval)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ext.Start(ctx)
	})
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		return srv.Shutdown(context.Background())
	})
	return g.Wait()
}

func dump(log logrus.FieldLogger, cfg config.Agent) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	source, err := eventsource.New(ctx, cfg.Source, log)
	if err != nil {
		return err
	}
	events, err := source.Events(ctx)
	if err != nil {
		return err
	}
	fields := eventsource.FieldMapFor(cfg.Source)
	address := hostinfo.NewResolver(ctx, hostinfo.Config{StaticAddress: cfg.SourceAddress}, log).Addresses(ctx)
	for _, ev := range events {
		rec := fields.Record(ev, address)
		fmt.Printf("time=%s query=%s pid=%d path=%s\n", ev.TimeCreated.Format(time.RFC3339Nano), rec.QueryName, rec.ProcessID, rec.Path)
	}
	return nil
}

func addPprofHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
}

func healthHandler(w http.ResponseWriter, req *http.Request) {
	_, _ = w.Write([]byte("Ok"))
}
