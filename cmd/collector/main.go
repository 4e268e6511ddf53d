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
	_ "time/tzdata"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/dnstrail/dnstrail/api"
	"github.com/dnstrail/dnstrail/config"
	"github.com/dnstrail/dnstrail/ingest"
	"github.com/dnstrail/dnstrail/store"
)

var (
	configPath     = flag.String("config-path", "", "Path to the collector config file")
	logLevel       = flag.String("log-level", logrus.InfoLevel.String(), "Log level")
	httpListenPort = flag.Int("http-listen-port", 4006, "HTTP server listen port for the query api, metrics and health checks")
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

	cfg, err := config.LoadCollector(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	if err := run(log, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal(err)
	}
}

func run(log logrus.FieldLogger, cfg config.Collector) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.New(ctx, cfg.Store, log)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := st.Close(ctx); err != nil {
			log.Errorf("closing store: %v", err)
		}
	}()

	loc, err := cfg.API.Location()
	if err != nil {
		return err
	}

	listener := ingest.New(ingest.Config{
		ListenAddr:     cfg.ListenAddr,
		ReadBufferSize: cfg.ReadBufferSize,
		Workers:        cfg.Workers,
		ReadTimeout:    cfg.ReadTimeout,
	}, log.WithField("component", "listener"), st)

	router := mux.NewRouter()
	addPprofHandlers(router)
	router.Handle("/metrics", promhttp.Handler())
	router.HandleFunc("/healthz", healthHandler)
	api.NewHandler(log, st, loc, time.Now).RegisterRoutes(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", *httpListenPort),
		Handler:           router,
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

		// Cancel context for other components like listener.
		cancel()
	}()

	log.Infof("running dnstrail collector, version=%s, commit=%s, ref=%s, listen-addr=%s, store=%s, workers=%d",
		Version, GitCommit, GitRef, cfg.ListenAddr, cfg.Store.Type, cfg.Workers)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return listener.Start(ctx)
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

func addPprofHandlers(router *mux.Router) {
	router.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	router.HandleFunc("/debug/pprof/profile", pprof.Profile)
	router.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	router.HandleFunc("/debug/pprof/trace", pprof.Trace)
	router.PathPrefix("/debug/pprof/").HandlerFunc(pprof.Index)
}

func healthHandler(w http.ResponseWriter, req *http.Request) {
	_, _ = w.Write([]byte("Ok"))
}
