// Package main is the mesh-path resolver daemon: it loads the observed
// mesh graph, supervises the batch-flush writer and the status API, and
// keeps learning edges until shut down.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/thejerf/suture/v4"
	gormlogger "gorm.io/gorm/logger"

	"github.com/jtstockton/meshresolver/internal/config"
	"github.com/jtstockton/meshresolver/internal/contacts"
	"github.com/jtstockton/meshresolver/internal/contacts/rediscache"
	contactsqlite "github.com/jtstockton/meshresolver/internal/contacts/sqlite"
	"github.com/jtstockton/meshresolver/internal/meshgraph"
	"github.com/jtstockton/meshresolver/internal/meshstore/gormstore"
	meshsqlite "github.com/jtstockton/meshresolver/internal/meshstore/sqlite"
	"github.com/jtstockton/meshresolver/internal/resolver"
	"github.com/jtstockton/meshresolver/internal/statusapi"
)

var Version = "dev"

func main() {
	configPath := flag.String("config", "meshresolver.yaml", "path to the YAML configuration file")
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	log.Info().Str("version", Version).Msg("starting mesh-path resolver")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	contactStore, err := contactsqlite.Open(cfg.ContactsDBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open contact store")
	}
	defer contactStore.Close()

	var store contacts.Store = contactStore
	if cfg.RedisAddr != "" {
		cache := rediscache.New(store, cfg.RedisAddr, 0)
		defer cache.Close()
		store = cache
		log.Info().Str("addr", cfg.RedisAddr).Msg("prefix-lookup cache enabled")
	}

	meshStore, err := openMeshStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open mesh graph store")
	}

	graph := meshgraph.New(meshStore, meshgraph.Config{
		WriteStrategy:     meshgraph.WriteStrategy(cfg.GraphWriteStrategy),
		BatchInterval:     time.Duration(cfg.GraphBatchIntervalSeconds) * time.Second,
		BatchMaxPending:   cfg.GraphBatchMaxPending,
		StartupLoadWindow: time.Duration(cfg.GraphStartupLoadDays) * 24 * time.Hour,
		LocationResolver:  contactLocations{store: store},
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := graph.Rehydrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to rehydrate mesh graph")
	}

	res := resolver.New(cfg, store, graph, resolver.Options{})
	decoder := resolver.NewDecoder(res)

	sup := suture.NewSimple("meshresolverd")
	sup.Add(graph)
	sup.Add(statusapi.NewServer(graph, decoder, cfg.StatusAddr))

	err = sup.Serve(ctx)
	if err != nil && err != context.Canceled {
		log.Error().Err(err).Msg("supervisor exited")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := graph.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("mesh graph shutdown error")
	}

	log.Info().Msg("mesh-path resolver shutdown complete")
}

// openMeshStore picks the persistence backend: PostgreSQL when a DSN is
// configured, the sqlite file otherwise.
func openMeshStore(cfg config.Config) (meshgraph.Store, error) {
	if cfg.PostgresDSN != "" {
		return gormstore.NewStore(gormstore.Config{
			DSN:      cfg.PostgresDSN,
			LogLevel: gormlogger.Silent,
		})
	}
	return meshsqlite.NewStore(meshsqlite.StoreConfig{Path: cfg.MeshDBPath})
}

// contactLocations adapts the contact store into the graph's location
// resolver, used to recompute learned edge distances at flush time.
type contactLocations struct {
	store contacts.Store
}

func (c contactLocations) ResolveLocation(ctx context.Context, publicKey string) (lat, lon float64, ok bool) {
	rec, ok, err := c.store.ByPublicKey(ctx, publicKey)
	if err != nil || !ok || !rec.HasCoordinates() ||
		(rec.Role != contacts.RoleRepeater && rec.Role != contacts.RoleRoomserver) {
		return 0, 0, false
	}
	return rec.Latitude, rec.Longitude, true
}
