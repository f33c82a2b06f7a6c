package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/saas-management-techmomentum/nova-ware-sub006/internal/httpapi"
	"github.com/saas-management-techmomentum/nova-ware-sub006/internal/identity"
	"github.com/saas-management-techmomentum/nova-ware-sub006/internal/migrate"
	"github.com/saas-management-techmomentum/nova-ware-sub006/internal/obs"
	"github.com/saas-management-techmomentum/nova-ware-sub006/internal/providers"
	"github.com/saas-management-techmomentum/nova-ware-sub006/internal/realtime"
	"github.com/saas-management-techmomentum/nova-ware-sub006/internal/realtime/kafkafeed"
	"github.com/saas-management-techmomentum/nova-ware-sub006/internal/scope"
	"github.com/saas-management-techmomentum/nova-ware-sub006/internal/selection"
	"github.com/saas-management-techmomentum/nova-ware-sub006/internal/store/pg"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

// watchedTables are the scoped tables the realtime mirror follows.
var watchedTables = []string{"clients", "tasks", "orders", "inventory_items"}

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	dsn := os.Getenv("NOVAWARE_PG_DSN")
	if dsn == "" {
		log.Fatal("NOVAWARE_PG_DSN is required")
	}
	store, err := pg.Open(dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	verifyCtx, verifyCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := migrate.Verify(verifyCtx, store.DB()); err != nil {
		verifyCancel()
		log.Fatalf("schema: %v", err)
	}
	verifyCancel()

	provider := identity.NewStaticProvider()
	engine := scope.NewEngine(provider, store, store)
	sel := selection.New(engine)

	caps := scope.Capabilities{
		BillingEnabled:  envBool("NOVAWARE_BILLING_ENABLED", true),
		WorkflowEnabled: envBool("NOVAWARE_WORKFLOW_ENABLED", true),
	}
	graph := providers.New(engine, caps, stageInits(store, engine, provider))

	feed, err := buildFeed()
	if err != nil {
		log.Fatalf("realtime feed: %v", err)
	}
	refetch := func(table string) {
		// Stage data is count-driven; a refetch is a fresh scoped count.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := store.CountScopedRows(ctx, table, engine.Scope(), sel.Current()); err != nil {
			log.Printf("refetch %s: %v", table, err)
		}
	}
	// Cap refetch dispatch so a noisy feed cannot turn into a storm of
	// scoped counts against the backend.
	rec := realtime.New(feed, engine, sel, watchedTables, refetch,
		realtime.WithRefetchLimit(20, 10))

	coreCtx, coreCancel := context.WithCancel(context.Background())
	go engine.Run(coreCtx)
	go sel.Run(coreCtx)
	go graph.Run(coreCtx)
	go rec.Run(coreCtx)

	api := httpapi.New(httpapi.ReadyProbe{DB: store.DB()}, version, provider, engine, sel, graph, rec)

	handler := httpapi.RateLimit(api.Handler(), 50, 25)

	srv := &http.Server{
		Addr:              listenAddr(),
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      0, // SSE stream stays open
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting novaware-scope %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	coreCancel()
	_ = store.Close()
	log.Println("Stopped")
}

// stageInits binds the data-backed stages to their initial fetch. Stages
// without an entry become ready as soon as their dependencies are.
func stageInits(store *pg.Store, engine *scope.Engine, provider *identity.StaticProvider) map[providers.StageID]providers.InitFunc {
	countInit := func(table string) providers.InitFunc {
		return func(ctx context.Context) error {
			_, err := store.CountScopedRows(ctx, table, engine.Scope(), nil)
			return err
		}
	}
	return map[providers.StageID]providers.InitFunc{
		providers.StageOnboarding: func(ctx context.Context) error {
			_, err := store.HasCompletedOnboarding(ctx, provider.Current().UserID)
			return err
		},
		providers.StageEmployeeProfile: func(ctx context.Context) error {
			_, err := store.GetEmployeeProfile(ctx, provider.Current().UserID, engine.Scope())
			if errors.Is(err, scope.ErrOutOfScope) {
				// No profile yet is a valid state for fresh accounts.
				return nil
			}
			return err
		},
		providers.StageClients:   countInit("clients"),
		providers.StageTasks:     countInit("tasks"),
		providers.StageBilling:   countInit("invoices"),
		providers.StageWorkflow:  countInit("workflows"),
		providers.StageOrders:    countInit("orders"),
		providers.StageInventory: countInit("inventory_items"),
	}
}

func buildFeed() (realtime.Feed, error) {
	brokers := strings.TrimSpace(os.Getenv("NOVAWARE_KAFKA_BROKERS"))
	if brokers == "" {
		log.Println("NOVAWARE_KAFKA_BROKERS not set; realtime runs on the in-process feed")
		return realtime.NewMemoryFeed(), nil
	}
	return kafkafeed.New(kafkafeed.Config{
		Brokers:     strings.Split(brokers, ","),
		GroupID:     os.Getenv("NOVAWARE_KAFKA_GROUP"),
		TopicPrefix: os.Getenv("NOVAWARE_KAFKA_TOPIC_PREFIX"),
	})
}

func listenAddr() string {
	if addr := os.Getenv("NOVAWARE_LISTEN_ADDR"); addr != "" {
		return addr
	}
	return ":8080"
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}
