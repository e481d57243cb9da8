package terminology

import (
	"context"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/gofhir/fhir/r4"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	vs "github.com/gofhir/validationsupport"
	"github.com/gofhir/validationsupport/support"
)

// CachingSupport wraps a module and memoizes its answers, absent answers
// included. Concurrent misses for the same key are collapsed into one call.
// Errors are never cached.
type CachingSupport struct {
	inner   support.Module
	cache   *ShardedCache
	group   singleflight.Group
	backend Backend
	metrics *vs.Metrics
	logger  zerolog.Logger
	config  CacheConfig

	// generation advances on every InvalidateCaches. Loads started under an
	// older generation are neither stored nor shared with newer callers.
	generation atomic.Uint64
}

// CachingOption configures a CachingSupport.
type CachingOption func(*CachingSupport)

// WithCacheConfig sets shard count and TTL.
func WithCacheConfig(cfg CacheConfig) CachingOption {
	return func(c *CachingSupport) { c.config = cfg }
}

// WithBackend adds a shared second-level cache for lookup results.
func WithBackend(b Backend) CachingOption {
	return func(c *CachingSupport) { c.backend = b }
}

// WithCacheMetrics records hits and misses in m.
func WithCacheMetrics(m *vs.Metrics) CachingOption {
	return func(c *CachingSupport) { c.metrics = m }
}

// WithCacheLogger sets the logger.
func WithCacheLogger(logger zerolog.Logger) CachingOption {
	return func(c *CachingSupport) { c.logger = logger }
}

// NewCachingSupport wraps inner.
func NewCachingSupport(inner support.Module, opts ...CachingOption) *CachingSupport {
	c := &CachingSupport{
		inner:  inner,
		logger: zerolog.Nop(),
		config: DefaultCacheConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.cache = NewShardedCache(c.config)
	return c
}

// Name implements support.Module.
func (c *CachingSupport) Name() string {
	return "CachingSupport(" + c.inner.Name() + ")"
}

// Inner returns the wrapped module.
func (c *CachingSupport) Inner() support.Module {
	return c.inner
}

// CacheStats returns statistics of the local cache.
func (c *CachingSupport) CacheStats() CacheStats {
	return c.cache.Stats()
}

func (c *CachingSupport) hit() {
	if c.metrics != nil {
		c.metrics.RecordCacheHit()
	}
}

func (c *CachingSupport) miss() {
	if c.metrics != nil {
		c.metrics.RecordCacheMiss()
	}
}

// memoize returns the cached value for key or loads, stores and returns it.
func memoize[R any](c *CachingSupport, key string, load func() (R, error)) (R, error) {
	if v, ok := c.cache.Get(key); ok {
		c.hit()
		r, _ := v.(R)
		return r, nil
	}
	c.miss()

	gen := c.generation.Load()
	v, err, _ := c.group.Do(strconv.FormatUint(gen, 10)+"#"+key, func() (any, error) {
		r, err := load()
		if err != nil {
			return nil, err
		}
		if c.current(gen) {
			c.cache.Set(key, r)
		}
		return r, nil
	})
	if err != nil {
		var zero R
		return zero, err
	}
	r, _ := v.(R)
	return r, nil
}

// current reports whether no invalidation happened since gen was read.
func (c *CachingSupport) current(gen uint64) bool {
	return c.generation.Load() == gen
}

func cacheKey(op string, parts ...string) string {
	return op + "|" + strings.Join(parts, "\x00")
}

// FetchValueSet implements support.ValueSetFetcher.
func (c *CachingSupport) FetchValueSet(ctx context.Context, url string) (*r4.ValueSet, error) {
	f, ok := c.inner.(support.ValueSetFetcher)
	if !ok {
		return nil, nil
	}
	return memoize(c, cacheKey("vs", url), func() (*r4.ValueSet, error) {
		return f.FetchValueSet(ctx, url)
	})
}

// FetchCodeSystem implements support.CodeSystemFetcher.
func (c *CachingSupport) FetchCodeSystem(ctx context.Context, system string) (*r4.CodeSystem, error) {
	f, ok := c.inner.(support.CodeSystemFetcher)
	if !ok {
		return nil, nil
	}
	return memoize(c, cacheKey("cs", system), func() (*r4.CodeSystem, error) {
		return f.FetchCodeSystem(ctx, system)
	})
}

// FetchStructureDefinition implements support.StructureDefinitionFetcher.
func (c *CachingSupport) FetchStructureDefinition(ctx context.Context, url string) (*r4.StructureDefinition, error) {
	f, ok := c.inner.(support.StructureDefinitionFetcher)
	if !ok {
		return nil, nil
	}
	return memoize(c, cacheKey("sd", url), func() (*r4.StructureDefinition, error) {
		return f.FetchStructureDefinition(ctx, url)
	})
}

// FetchResource implements support.ResourceFetcher.
func (c *CachingSupport) FetchResource(ctx context.Context, resourceType, uri string) (any, error) {
	f, ok := c.inner.(support.ResourceFetcher)
	if !ok {
		return nil, nil
	}
	return memoize(c, cacheKey("res", resourceType, uri), func() (any, error) {
		return f.FetchResource(ctx, resourceType, uri)
	})
}

// FetchAllConformanceResources implements support.ConformanceResourceLister.
func (c *CachingSupport) FetchAllConformanceResources(ctx context.Context) ([]any, error) {
	if f, ok := c.inner.(support.ConformanceResourceLister); ok {
		return f.FetchAllConformanceResources(ctx)
	}
	return nil, nil
}

// FetchAllStructureDefinitions implements support.StructureDefinitionLister.
func (c *CachingSupport) FetchAllStructureDefinitions(ctx context.Context) ([]*r4.StructureDefinition, error) {
	if f, ok := c.inner.(support.StructureDefinitionLister); ok {
		return f.FetchAllStructureDefinitions(ctx)
	}
	return nil, nil
}

// IsCodeSystemSupported implements support.CodeSystemSupporter.
func (c *CachingSupport) IsCodeSystemSupported(ctx context.Context, sc *support.Context, system string) bool {
	f, ok := c.inner.(support.CodeSystemSupporter)
	if !ok {
		return false
	}
	supported, _ := memoize(c, cacheKey("cs?", system), func() (bool, error) {
		return f.IsCodeSystemSupported(ctx, sc, system), nil
	})
	return supported
}

// IsValueSetSupported implements support.ValueSetSupporter.
func (c *CachingSupport) IsValueSetSupported(ctx context.Context, sc *support.Context, url string) bool {
	f, ok := c.inner.(support.ValueSetSupporter)
	if !ok {
		return false
	}
	supported, _ := memoize(c, cacheKey("vs?", url), func() (bool, error) {
		return f.IsValueSetSupported(ctx, sc, url), nil
	})
	return supported
}

// ValidateCode implements support.CodeValidator.
func (c *CachingSupport) ValidateCode(ctx context.Context, sc *support.Context, opts support.ConceptValidationOptions, system, code, display, valueSetURL string) (*support.CodeValidationResult, error) {
	f, ok := c.inner.(support.CodeValidator)
	if !ok {
		return nil, nil
	}
	key := cacheKey("validate", system, code, display, valueSetURL,
		strconv.FormatBool(opts.ValidateDisplay), strconv.FormatBool(opts.InferSystem))
	return memoize(c, key, func() (*support.CodeValidationResult, error) {
		return f.ValidateCode(ctx, sc, opts, system, code, display, valueSetURL)
	})
}

// ValidateCodeInValueSet implements support.ValueSetCodeValidator. Only
// ValueSets with a URL are cached.
func (c *CachingSupport) ValidateCodeInValueSet(ctx context.Context, sc *support.Context, opts support.ConceptValidationOptions, system, code, display string, valueSet *r4.ValueSet) (*support.CodeValidationResult, error) {
	f, ok := c.inner.(support.ValueSetCodeValidator)
	if !ok {
		return nil, nil
	}
	if valueSet == nil || valueSet.Url == nil {
		return f.ValidateCodeInValueSet(ctx, sc, opts, system, code, display, valueSet)
	}
	key := cacheKey("validate-vs", system, code, display, *valueSet.Url, deref(valueSet.Version),
		strconv.FormatBool(opts.ValidateDisplay), strconv.FormatBool(opts.InferSystem))
	return memoize(c, key, func() (*support.CodeValidationResult, error) {
		return f.ValidateCodeInValueSet(ctx, sc, opts, system, code, display, valueSet)
	})
}

// ExpandValueSet implements support.ValueSetExpander. Only ValueSets with a
// URL are cached.
func (c *CachingSupport) ExpandValueSet(ctx context.Context, sc *support.Context, opts *support.ValueSetExpansionOptions, valueSet *r4.ValueSet) (*support.ValueSetExpansionOutcome, error) {
	f, ok := c.inner.(support.ValueSetExpander)
	if !ok {
		return nil, nil
	}
	if valueSet == nil || valueSet.Url == nil {
		return f.ExpandValueSet(ctx, sc, opts, valueSet)
	}
	if opts == nil {
		opts = support.DefaultExpansionOptions()
	}
	key := cacheKey("expand", *valueSet.Url, deref(valueSet.Version),
		strconv.Itoa(opts.Offset), strconv.Itoa(opts.Count), opts.Filter, opts.DisplayLanguage,
		strconv.FormatBool(opts.IncludeHierarchy), strconv.FormatBool(opts.FailOnMissingCodeSystem))
	return memoize(c, key, func() (*support.ValueSetExpansionOutcome, error) {
		return f.ExpandValueSet(ctx, sc, opts, valueSet)
	})
}

// LookupCode implements support.CodeLookup. Answers are also shared through
// the Backend when one is configured.
func (c *CachingSupport) LookupCode(ctx context.Context, sc *support.Context, req support.LookupCodeRequest) (*support.LookupCodeResult, error) {
	f, ok := c.inner.(support.CodeLookup)
	if !ok {
		return nil, nil
	}
	key := cacheKey("lookup", req.System, req.Code, req.DisplayLanguage, strings.Join(req.PropertyNames, ","))
	return memoize(c, key, func() (*support.LookupCodeResult, error) {
		gen := c.generation.Load()
		if c.backend != nil {
			if data, found, err := c.backend.Get(ctx, key); err != nil {
				c.logger.Warn().Err(err).Msg("cache backend read failed")
			} else if found {
				if res, err := decodeLookup(data); err == nil {
					return res, nil
				}
			}
		}

		res, err := f.LookupCode(ctx, sc, req)
		if err != nil || res == nil || c.backend == nil || !c.current(gen) {
			return res, err
		}
		if data, err := encodeLookup(res); err == nil {
			if err := c.backend.Set(ctx, key, data, c.config.TTL); err != nil {
				c.logger.Warn().Err(err).Msg("cache backend write failed")
			}
		}
		return res, nil
	})
}

// TranslateConcept implements support.ConceptTranslator.
func (c *CachingSupport) TranslateConcept(ctx context.Context, req *support.TranslateCodeRequest) (*support.TranslateConceptResults, error) {
	f, ok := c.inner.(support.ConceptTranslator)
	if !ok {
		return nil, nil
	}
	return memoize(c, cacheKey("translate", req.Key()), func() (*support.TranslateConceptResults, error) {
		return f.TranslateConcept(ctx, req)
	})
}

// GenerateSnapshot implements support.SnapshotGenerator. Snapshots are not cached.
func (c *CachingSupport) GenerateSnapshot(ctx context.Context, sc *support.Context, differential *r4.StructureDefinition, url, webURL, profileName string) (*r4.StructureDefinition, error) {
	if f, ok := c.inner.(support.SnapshotGenerator); ok {
		return f.GenerateSnapshot(ctx, sc, differential, url, webURL, profileName)
	}
	return nil, nil
}

// IsRemoteTerminologyServiceConfigured implements support.RemoteTerminologyIndicator.
func (c *CachingSupport) IsRemoteTerminologyServiceConfigured() bool {
	if f, ok := c.inner.(support.RemoteTerminologyIndicator); ok {
		return f.IsRemoteTerminologyServiceConfigured()
	}
	return false
}

// InvalidateCaches clears the local cache and the backend, then forwards to
// the wrapped module. Loads still in flight complete for their own callers
// but are not cached.
func (c *CachingSupport) InvalidateCaches() {
	c.generation.Add(1)
	c.cache.Clear()
	if c.backend != nil {
		if err := c.backend.Clear(context.Background()); err != nil {
			c.logger.Warn().Err(err).Msg("cache backend clear failed")
		}
	}
	if f, ok := c.inner.(support.CacheInvalidator); ok {
		f.InvalidateCaches()
	}
}

var (
	_ support.CodeValidator     = (*CachingSupport)(nil)
	_ support.CodeLookup        = (*CachingSupport)(nil)
	_ support.ValueSetExpander  = (*CachingSupport)(nil)
	_ support.ConceptTranslator = (*CachingSupport)(nil)
	_ support.CacheInvalidator  = (*CachingSupport)(nil)
)
