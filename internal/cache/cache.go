// Package cache resolves named model artifacts to local file paths,
// downloading them into a cache directory on first use.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/sells-group/indicator-engine/internal/resilience"
)

// Artifact names.
const (
	AirQualityPredictor = "air_quality_predictor"
	HousePricePredictor = "house_price_predictor"
	Accessibility       = "accessibility"
	EmptyTable          = "empty.parquet"
	OALSOATable         = "oa_lsoa.parquet"
	BaselineTable       = "baseline.parquet"
	SignaturesTable     = "signatures.parquet"
)

// Artifacts lists every artifact the engine loads at startup.
func Artifacts() []string {
	return []string{
		AirQualityPredictor,
		HousePricePredictor,
		Accessibility,
		EmptyTable,
		OALSOATable,
		BaselineTable,
		SignaturesTable,
	}
}

var (
	// ErrNotCached is returned when an artifact is neither on disk nor
	// downloadable.
	ErrNotCached = eris.New("artifact not cached and no download source configured")
	// ErrChecksum is returned when an artifact does not match its manifest hash.
	ErrChecksum = eris.New("artifact checksum mismatch")
)

// Cache resolves an artifact name to a local file path.
type Cache interface {
	Fetch(ctx context.Context, name string) (string, error)
}

// Options configures a DirCache.
type Options struct {
	Dir        string
	BaseURL    string
	Timeout    time.Duration
	Retry      resilience.RetryConfig
	RateLimit  float64
	HTTPClient *http.Client
}

// DirCache stores artifacts as plain files in one directory.
type DirCache struct {
	dir      string
	baseURL  string
	retry    resilience.RetryConfig
	client   *http.Client
	limiter  *rate.Limiter
	manifest Manifest
	group    singleflight.Group
}

// New creates the cache directory if needed and reads its manifest.
func New(opts Options) (*DirCache, error) {
	if opts.Dir == "" {
		return nil, eris.New("cache: dir is required")
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, eris.Wrap(err, "cache: create dir")
	}
	manifest, err := LoadManifest(opts.Dir)
	if err != nil {
		return nil, err
	}

	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 5
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	burst := max(int(opts.RateLimit), 1)

	return &DirCache{
		dir:      opts.Dir,
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		retry:    opts.Retry,
		client:   client,
		limiter:  rate.NewLimiter(rate.Limit(opts.RateLimit), burst),
		manifest: manifest,
	}, nil
}

// Dir returns the cache directory.
func (c *DirCache) Dir() string {
	return c.dir
}

// Fetch returns the local path of the named artifact, downloading it if it is
// not already present. Concurrent fetches of one name share a download.
func (c *DirCache) Fetch(ctx context.Context, name string) (string, error) {
	if name == "" || filepath.Base(name) != name || strings.HasPrefix(name, ".") {
		return "", eris.Errorf("cache: invalid artifact name %q", name)
	}

	// The shared fetch outlives any one caller; each caller still stops
	// waiting when its own context ends.
	ch := c.group.DoChan(name, func() (any, error) {
		return c.fetch(context.WithoutCancel(ctx), name)
	})
	select {
	case <-ctx.Done():
		return "", eris.Wrapf(ctx.Err(), "cache: fetch %s", name)
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (c *DirCache) fetch(ctx context.Context, name string) (string, error) {
	log := zap.L().With(
		zap.String("component", "cache"),
		zap.String("artifact", name),
	)
	path := filepath.Join(c.dir, name)
	entry := c.manifest.entry(name)

	url := entry.URL
	if url == "" && c.baseURL != "" {
		url = c.baseURL + "/" + name
	}

	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		sum := entry.SHA256
		if sum != "" {
			if sum, err = fileSHA256(path); err != nil {
				return "", err
			}
		}
		if sum == entry.SHA256 {
			log.Debug("artifact cache hit", zap.String("path", path))
			return path, nil
		}
		// A corrupt file is never served; drop it and fetch a fresh copy.
		if err := os.Remove(path); err != nil {
			return "", eris.Wrapf(err, "cache: remove corrupt %s", name)
		}
		if url == "" {
			return "", eris.Wrapf(ErrChecksum, "cache: %s on disk has sha256 %s, want %s", name, sum, entry.SHA256)
		}
		log.Warn("artifact on disk failed checksum, downloading again",
			zap.String("sha256", sum),
			zap.String("want", entry.SHA256),
		)
	}

	if url == "" {
		return "", eris.Wrapf(ErrNotCached, "cache: %s", name)
	}

	log.Info("downloading artifact", zap.String("url", url))
	start := time.Now()

	retry := c.retry
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("cache", name)
	}
	n, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (int64, error) {
		return c.download(ctx, url, path, entry.SHA256)
	})
	if err != nil {
		return "", eris.Wrapf(err, "cache: fetch %s", name)
	}

	log.Info("artifact downloaded",
		zap.Int64("bytes", n),
		zap.Duration("elapsed", time.Since(start)),
	)
	return path, nil
}

// download writes url to a temp file beside dest and renames it into place
// once the body is complete and the checksum (if any) matches.
func (c *DirCache) download(ctx context.Context, url, dest, wantSHA string) (int64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, eris.Wrap(err, "rate limiter wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, eris.Wrap(err, "build request")
	}
	req.Header.Set("User-Agent", "indicator-engine/1.0")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, eris.Wrap(err, "download")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return 0, resilience.StatusError(resp.StatusCode, url)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".*.part")
	if err != nil {
		return 0, eris.Wrap(err, "create temp file")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, h), resp.Body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return n, eris.Wrap(err, "write file")
	}
	if n == 0 {
		return 0, eris.Errorf("empty body from %s", url)
	}

	if wantSHA != "" {
		if got := hex.EncodeToString(h.Sum(nil)); got != wantSHA {
			return n, eris.Wrapf(ErrChecksum, "downloaded sha256 %s, want %s", got, wantSHA)
		}
	}

	if err := os.Rename(tmp.Name(), dest); err != nil {
		return n, eris.Wrap(err, "move into cache")
	}
	return n, nil
}
