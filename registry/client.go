// Package registry downloads FHIR NPM packages, such as hl7.terminology.r4,
// from a FHIR package registry into a local cache so their CodeSystems,
// ValueSets and profiles can be loaded into the validation support chain.
package registry

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/gofhir/validationsupport/loader"
)

const (
	// DefaultRegistryURL is the primary FHIR package registry.
	DefaultRegistryURL = "https://packages.fhir.org"

	// DefaultTimeout for registry requests.
	DefaultTimeout = 60 * time.Second

	// DefaultCacheDir is the cache location relative to the home directory.
	DefaultCacheDir = ".fhir/packages"

	// VersionLatest resolves to the registry's latest dist-tag.
	VersionLatest = "latest"

	// maxFileSize bounds every extracted file.
	maxFileSize = 100 << 20
)

// ErrPackageNotFound is returned when the registry does not know a package
// or version.
var ErrPackageNotFound = errors.New("package not found")

// Client is a FHIR package registry client with a local cache.
type Client struct {
	httpClient  *http.Client
	registryURL string
	cacheDir    string
	logger      zerolog.Logger
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithRegistryURL sets the registry base URL.
func WithRegistryURL(url string) ClientOption {
	return func(c *Client) {
		c.registryURL = strings.TrimRight(url, "/")
	}
}

// WithCacheDir sets the package cache directory.
func WithCacheDir(dir string) ClientOption {
	return func(c *Client) {
		c.cacheDir = dir
	}
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a registry client caching under ~/.fhir/packages unless
// WithCacheDir is given.
func NewClient(opts ...ClientOption) *Client {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	c := &Client{
		httpClient:  &http.Client{Timeout: DefaultTimeout},
		registryURL: DefaultRegistryURL,
		cacheDir:    filepath.Join(homeDir, DefaultCacheDir),
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Manifest is the package.json of a FHIR package.
type Manifest struct {
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	Description  string            `json:"description"`
	FHIRVersions []string          `json:"fhirVersions"`
	Dependencies map[string]string `json:"dependencies"`
	Canonical    string            `json:"canonical"`
	Type         string            `json:"type"`
}

// catalog is the registry document listing every version of a package.
type catalog struct {
	Name     string            `json:"name"`
	DistTags map[string]string `json:"dist-tags"`
	Versions map[string]struct {
		Version     string `json:"version"`
		FHIRVersion string `json:"fhirVersion"`
		URL         string `json:"url"`
		Dist        struct {
			Tarball string `json:"tarball"`
		} `json:"dist"`
	} `json:"versions"`
}

// resolve returns the concrete version and tarball URL for ref.
func (c *Client) resolve(ctx context.Context, ref PackageRef) (string, string, error) {
	endpoint := c.registryURL + "/" + ref.Name
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return "", "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("fetch catalog for %s: %w", ref.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", "", fmt.Errorf("%w: %s", ErrPackageNotFound, ref.Name)
	}
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("fetch catalog for %s: status %d", ref.Name, resp.StatusCode)
	}

	var cat catalog
	if err := json.NewDecoder(resp.Body).Decode(&cat); err != nil {
		return "", "", fmt.Errorf("decode catalog for %s: %w", ref.Name, err)
	}

	version := ref.Version
	if version == "" || version == VersionLatest {
		latest, ok := cat.DistTags[VersionLatest]
		if !ok {
			return "", "", fmt.Errorf("%w: no latest version of %s", ErrPackageNotFound, ref.Name)
		}
		version = latest
	}
	entry, ok := cat.Versions[version]
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrPackageNotFound, PackageRef{Name: ref.Name, Version: version})
	}
	tarball := entry.Dist.Tarball
	if tarball == "" {
		tarball = entry.URL
	}
	if tarball == "" {
		tarball = endpoint + "/" + version
	}
	return version, tarball, nil
}

// Fetch makes ref available in the cache and returns the package
// directory, the one holding package.json. A pinned version already in the
// cache is used without contacting the registry.
func (c *Client) Fetch(ctx context.Context, ref PackageRef) (string, error) {
	if ref.Version != "" && ref.Version != VersionLatest {
		if dir, ok := c.cached(ref); ok {
			return dir, nil
		}
	}

	version, tarball, err := c.resolve(ctx, ref)
	if err != nil {
		return "", err
	}
	ref.Version = version
	if dir, ok := c.cached(ref); ok {
		return dir, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tarball, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", ref, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download %s: status %d", ref, resp.StatusCode)
	}

	root := c.path(ref)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", fmt.Errorf("create cache directory: %w", err)
	}
	if err := extractTarGz(resp.Body, root); err != nil {
		_ = os.RemoveAll(root)
		return "", fmt.Errorf("extract %s: %w", ref, err)
	}
	dir, ok := c.cached(ref)
	if !ok {
		_ = os.RemoveAll(root)
		return "", fmt.Errorf("extract %s: archive has no package.json", ref)
	}
	c.logger.Info().Str("package", ref.String()).Str("dir", dir).Msg("package downloaded")
	return dir, nil
}

// Source fetches ref and returns a loader source over its files.
func (c *Client) Source(ctx context.Context, ref PackageRef) (*loader.DirSource, error) {
	dir, err := c.Fetch(ctx, ref)
	if err != nil {
		return nil, err
	}
	return loader.NewDirSource(dir), nil
}

// ReadManifest reads package.json from a package directory.
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, "package.json"))
	if err != nil {
		return nil, fmt.Errorf("read package.json: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse package.json: %w", err)
	}
	return &m, nil
}

// CacheDir returns the cache directory.
func (c *Client) CacheDir() string {
	return c.cacheDir
}

// Cached lists the name#version of every cached package.
func (c *Client) Cached() ([]string, error) {
	entries, err := os.ReadDir(c.cacheDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() && strings.Contains(e.Name(), "#") {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

func (c *Client) path(ref PackageRef) string {
	return filepath.Join(c.cacheDir, strings.ReplaceAll(ref.Name, "/", "-")+"#"+ref.Version)
}

// cached reports the package directory of ref when it is in the cache.
// Registry tarballs nest everything under package/.
func (c *Client) cached(ref PackageRef) (string, bool) {
	root := c.path(ref)
	for _, dir := range []string{filepath.Join(root, "package"), root} {
		if _, err := os.Stat(filepath.Join(dir, "package.json")); err == nil {
			return dir, true
		}
	}
	return "", false
}

func extractTarGz(r io.Reader, destDir string) error {
	gzr, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("open gzip: %w", err)
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)
	prefix := filepath.Clean(destDir) + string(os.PathSeparator)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read tar: %w", err)
		}

		target := filepath.Join(destDir, header.Name) //nolint:gosec // checked against prefix below
		if !strings.HasPrefix(target, prefix) {
			return fmt.Errorf("invalid tar path: %s", header.Name)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := writeFile(target, tr); err != nil {
				return err
			}
		}
	}
}

func writeFile(path string, r io.Reader) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, io.LimitReader(r, maxFileSize)); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
