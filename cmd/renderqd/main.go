package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/rhuidobro/renderq/pkg/api"
	"github.com/rhuidobro/renderq/pkg/artifacts"
	"github.com/rhuidobro/renderq/pkg/config"
	"github.com/rhuidobro/renderq/pkg/engine"
	"github.com/rhuidobro/renderq/pkg/gateway"
	"github.com/rhuidobro/renderq/pkg/logging"
	"github.com/rhuidobro/renderq/pkg/metrics"
	"github.com/rhuidobro/renderq/pkg/reconcile"
	"github.com/rhuidobro/renderq/pkg/resolve"
	"github.com/rhuidobro/renderq/pkg/shutdown"
	"github.com/rhuidobro/renderq/pkg/store"
	"github.com/rhuidobro/renderq/pkg/workflow"
)

func main() {
	cfgFile := flag.String("config", "", "config file (default: ./config.yaml or $HOME/.renderq/config.yaml)")
	flag.Parse()

	// Local .env files are convenient in development; absence is fine
	_ = godotenv.Load()

	cfg, err := config.Load(*cfgFile)
	if err != nil {
		os.Stderr.WriteString("configuration error: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := logging.NewLogger(logging.ParseLevel(cfg.LogLevel), cfg.LogJSON)
	log.Info("starting renderq daemon", map[string]interface{}{
		"engine":       cfg.Engine.URL,
		"listen_addr":  cfg.ListenAddr,
		"metrics_addr": cfg.MetricsAddr,
	})

	dataStore, err := store.New(store.Config{Type: cfg.Store.Type, Path: cfg.Store.Path})
	if err != nil {
		log.Fatal("failed to open store", map[string]interface{}{"error": err.Error()})
	}

	client := engine.NewClient(cfg.Engine.URL, cfg.Engine.Token)
	cache := artifacts.New(cfg.OutputDir, client)
	resolver := resolve.New(client, cache, log)
	library := workflow.NewLibrary(cfg.WorkflowDir)
	service := gateway.New(dataStore, client, library, log)
	metricsSet := metrics.New(dataStore)

	reconcileCfg := reconcile.DefaultConfig()
	reconcileCfg.TickInterval = cfg.TickInterval
	reconcileCfg.GCInterval = cfg.GCInterval
	reconcileCfg.Retention = cfg.Retention

	reconciler := reconcile.New(reconcileCfg, dataStore, client, resolver, metricsSet, log)
	reconciler.Start()

	router := mux.NewRouter()
	handler := api.NewHandler(service, client, dataStore, log)
	handler.RegisterRoutes(router)
	router.PathPrefix("/static/output/").Handler(
		http.StripPrefix("/static/output/", http.FileServer(http.Dir(cfg.OutputDir))))

	apiServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metricsSet.Handler())
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux}

	go func() {
		log.Info("API server listening", map[string]interface{}{"addr": cfg.ListenAddr})
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("API server failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	manager := shutdown.New(30 * time.Second)
	manager.Register(shutdown.CloseResource(dataStore, "job store"))
	manager.Register(func(ctx context.Context) error {
		reconciler.Stop()
		return nil
	})
	manager.Register(shutdown.StopHTTPServer(metricsServer, "metrics"))
	manager.Register(shutdown.StopHTTPServer(apiServer, "api"))
	manager.Wait()
}
