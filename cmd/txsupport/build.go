package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	vs "github.com/gofhir/validationsupport"
	"github.com/gofhir/validationsupport/internal/config"
	"github.com/gofhir/validationsupport/loader"
	"github.com/gofhir/validationsupport/profile"
	"github.com/gofhir/validationsupport/registry"
	"github.com/gofhir/validationsupport/remote"
	"github.com/gofhir/validationsupport/store"
	"github.com/gofhir/validationsupport/store/postgres"
	"github.com/gofhir/validationsupport/store/sqlite"
	"github.com/gofhir/validationsupport/support"
	"github.com/gofhir/validationsupport/terminology"
)

// stack is a built chain and the resources it holds open.
type stack struct {
	chain   *support.Chain
	metrics *vs.Metrics
	closers []func()
}

func (r *stack) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// sources returns every configured resource source: directories, the S3
// prefix and registry packages with their dependencies.
func sources(ctx context.Context, cfg *config.Config, logger zerolog.Logger) ([]loader.Source, error) {
	var out []loader.Source
	for _, dir := range cfg.Terminology.Dirs {
		out = append(out, loader.NewDirSource(dir))
	}

	if cfg.S3.Bucket != "" {
		src, err := loader.NewS3Source(ctx, loader.S3Config{
			Bucket:    cfg.S3.Bucket,
			Prefix:    cfg.S3.Prefix,
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			PathStyle: cfg.S3.PathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 source: %w", err)
		}
		out = append(out, src)
	}

	if len(cfg.Terminology.Packages) > 0 {
		opts := []registry.ClientOption{
			registry.WithRegistryURL(cfg.Registry.URL),
			registry.WithLogger(logger),
		}
		if cfg.Registry.CacheDir != "" {
			opts = append(opts, registry.WithCacheDir(cfg.Registry.CacheDir))
		}
		client := registry.NewClient(opts...)

		refs := make([]registry.PackageRef, 0, len(cfg.Terminology.Packages))
		for _, s := range cfg.Terminology.Packages {
			ref, err := registry.ParsePackageRef(s)
			if err != nil {
				return nil, err
			}
			refs = append(refs, ref)
		}
		resolved, err := client.Resolve(ctx, refs...)
		if err != nil {
			return nil, fmt.Errorf("resolve packages: %w", err)
		}
		for _, p := range resolved {
			logger.Debug().Str("package", p.Ref.String()).Str("dir", p.Dir).Msg("package resolved")
			out = append(out, loader.NewDirSource(p.Dir))
		}
	}
	return out, nil
}

// buildChain assembles the module chain in lookup order: in-memory
// terminology and profiles first, then persistent stores, then the remote
// terminology server.
func buildChain(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (_ *stack, err error) {
	rt := &stack{metrics: vs.NewMetrics()}
	defer func() {
		if err != nil {
			rt.Close()
		}
	}()

	version := cfg.Version()
	memOpts := []terminology.Option{terminology.WithLogger(logger)}
	if cfg.Terminology.NoCommon {
		memOpts = append(memOpts, terminology.WithoutCommonCodeSystems())
	}
	mem := terminology.NewInMemorySupport(version, memOpts...)
	prof := profile.NewSupport(profile.WithLogger(logger))
	maps := terminology.NewConceptMapSupport()
	modules := []support.Module{mem, prof, profile.NewSnapshotGenerator(profile.WithSnapshotLogger(logger)), maps}

	for _, path := range cfg.Terminology.ConceptMaps {
		if err := maps.LoadFile(path); err != nil {
			return nil, err
		}
	}

	srcs, err := sources(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	for _, src := range srcs {
		stats, err := loader.LoadWithOptions(ctx, src, loader.Options{Logger: logger}, mem, prof, maps)
		if err != nil {
			return nil, err
		}
		logger.Info().
			Int64("files", stats.Files).
			Int64("code_systems", stats.CodeSystems).
			Int64("value_sets", stats.ValueSets).
			Int64("concept_maps", stats.ConceptMaps).
			Int64("structure_definitions", stats.StructureDefinitions).
			Int64("errors", stats.Errors).
			Msg("resources loaded")
		modules = append(modules, loader.NewBinarySupport(src))
	}

	backend, err := cacheBackend(ctx, cfg, rt)
	if err != nil {
		return nil, err
	}
	cached := func(m support.Module) support.Module {
		if !cfg.Cache.Enabled {
			return m
		}
		opts := []terminology.CachingOption{
			terminology.WithCacheConfig(terminology.CacheConfig{ShardCount: cfg.Cache.Shards, TTL: cfg.Cache.TTL}),
			terminology.WithCacheMetrics(rt.metrics),
			terminology.WithCacheLogger(logger),
		}
		if backend != nil {
			opts = append(opts, terminology.WithBackend(backend))
		}
		return terminology.NewCachingSupport(m, opts...)
	}

	if cfg.SQLite.Path != "" {
		db, err := sqlite.Open(cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, func() { _ = db.Close() })
		if err := db.Migrate(ctx); err != nil {
			return nil, err
		}
		modules = append(modules, cached(db.Support(store.WithLogger(logger))))
	}

	if cfg.Database.URL != "" {
		pool, err := postgres.NewPool(ctx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, pool.Close)
		pg := postgres.New(pool)
		if err := pg.Migrate(ctx); err != nil {
			return nil, err
		}
		modules = append(modules, cached(pg.Support(store.WithLogger(logger))))
	}

	if cfg.Remote.URL != "" {
		client := remote.NewClient(cfg.Remote.URL,
			remote.WithTimeout(cfg.Remote.Timeout),
			remote.WithLogger(logger),
		)
		modules = append(modules, cached(client))
	}

	rt.chain = support.NewChain(vs.NewFhirContext(version),
		support.WithModules(modules...),
		support.WithLogger(logger),
		support.WithMetrics(rt.metrics),
	)
	return rt, nil
}

// cacheBackend connects the shared Redis cache when one is configured.
func cacheBackend(ctx context.Context, cfg *config.Config, rt *stack) (terminology.Backend, error) {
	if !cfg.Cache.Enabled || cfg.Redis.URL == "" {
		return nil, nil
	}
	opt, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("redis.url: %w", err)
	}
	backend, err := terminology.NewRedisBackend(ctx, terminology.RedisConfig{
		Addr:      opt.Addr,
		Password:  opt.Password,
		DB:        opt.DB,
		KeyPrefix: cfg.Redis.KeyPrefix,
	})
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, func() { _ = backend.Close() })
	return backend, nil
}

// openImportStore opens the SQLite store at path as a load target.
func openImportStore(ctx context.Context, path string) (*sqlite.Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path required, set --sqlite or sqlite.path")
	}
	db, err := sqlite.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
