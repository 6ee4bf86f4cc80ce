package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/sells-group/indicator-engine/internal/resilience"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreAnyFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreAnyFunction("net/http.(*persistConn).writeLoop"),
	)
}

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}
}

func newTestCache(t *testing.T, baseURL string) *DirCache {
	t.Helper()
	c, err := New(Options{
		Dir:       t.TempDir(),
		BaseURL:   baseURL,
		Retry:     fastRetry(),
		RateLimit: 1000,
	})
	require.NoError(t, err)
	return c
}

func sha(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

func TestFetch_CacheHit(t *testing.T) {
	c := newTestCache(t, "")
	path := filepath.Join(c.Dir(), Accessibility)
	require.NoError(t, os.WriteFile(path, []byte(`{"kind":"network"}`), 0o644))

	got, err := c.Fetch(context.Background(), Accessibility)
	require.NoError(t, err)
	assert.Equal(t, path, got)
}

func TestFetch_NotCachedWithoutSource(t *testing.T) {
	c := newTestCache(t, "")

	_, err := c.Fetch(context.Background(), EmptyTable)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotCached)
	assert.Contains(t, err.Error(), "empty.parquet")
}

func TestFetch_EmptyFileIsRefetched(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("model-bytes"))
	}))
	defer srv.Close()

	c := newTestCache(t, srv.URL)
	path := filepath.Join(c.Dir(), HousePricePredictor)
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	got, err := c.Fetch(context.Background(), HousePricePredictor)
	require.NoError(t, err)
	data, err := os.ReadFile(got)
	require.NoError(t, err)
	assert.Equal(t, "model-bytes", string(data))
}

func TestFetch_DownloadsFromBaseURL(t *testing.T) {
	var requested string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested = r.URL.Path
		assert.Equal(t, "indicator-engine/1.0", r.Header.Get("User-Agent"))
		w.Write([]byte("parquet-bytes"))
	}))
	defer srv.Close()

	c := newTestCache(t, srv.URL+"/models/")
	got, err := c.Fetch(context.Background(), OALSOATable)
	require.NoError(t, err)

	assert.Equal(t, "/models/oa_lsoa.parquet", requested)
	assert.Equal(t, filepath.Join(c.Dir(), OALSOATable), got)

	data, err := os.ReadFile(got)
	require.NoError(t, err)
	assert.Equal(t, "parquet-bytes", string(data))

	// No partial files left behind.
	entries, err := os.ReadDir(c.Dir())
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFetch_RetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := newTestCache(t, srv.URL)
	_, err := c.Fetch(context.Background(), AirQualityPredictor)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetch_NotFoundIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := newTestCache(t, srv.URL)
	_, err := c.Fetch(context.Background(), AirQualityPredictor)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http 404")
	assert.Equal(t, int32(1), calls.Load())

	_, statErr := os.Stat(filepath.Join(c.Dir(), AirQualityPredictor))
	assert.True(t, os.IsNotExist(statErr))
}

func TestFetch_ManifestURLAndChecksum(t *testing.T) {
	body := "signature-profiles"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/pinned/v2/signatures.parquet", r.URL.Path)
		w.Write([]byte(body))
	}))
	defer srv.Close()

	dir := t.TempDir()
	manifest := "artifacts:\n  signatures.parquet:\n    url: " + srv.URL + "/pinned/v2/signatures.parquet\n    sha256: " + sha(body) + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFile), []byte(manifest), 0o644))

	c, err := New(Options{Dir: dir, Retry: fastRetry(), RateLimit: 1000})
	require.NoError(t, err)

	got, err := c.Fetch(context.Background(), SignaturesTable)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, SignaturesTable), got)

	// Second fetch is a hit and re-verifies the checksum.
	_, err = c.Fetch(context.Background(), SignaturesTable)
	require.NoError(t, err)
}

func TestFetch_ChecksumMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("tampered"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	manifest := "artifacts:\n  accessibility:\n    sha256: " + sha("original") + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFile), []byte(manifest), 0o644))

	c, err := New(Options{Dir: dir, BaseURL: srv.URL, Retry: fastRetry(), RateLimit: 1000})
	require.NoError(t, err)

	_, err = c.Fetch(context.Background(), Accessibility)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrChecksum)

	_, statErr := os.Stat(filepath.Join(dir, Accessibility))
	assert.True(t, os.IsNotExist(statErr))
}

func TestFetch_CorruptFileOnDisk(t *testing.T) {
	dir := t.TempDir()
	manifest := "artifacts:\n  accessibility:\n    sha256: " + sha("original") + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFile), []byte(manifest), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, Accessibility), []byte("corrupt"), 0o644))

	c, err := New(Options{Dir: dir})
	require.NoError(t, err)

	_, err = c.Fetch(context.Background(), Accessibility)
	assert.ErrorIs(t, err, ErrChecksum)

	_, statErr := os.Stat(filepath.Join(dir, Accessibility))
	assert.True(t, os.IsNotExist(statErr), "corrupt file should be removed")
}

func TestFetch_CorruptFileOnDiskIsRedownloaded(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte("original"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	manifest := "artifacts:\n  accessibility:\n    sha256: " + sha("original") + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFile), []byte(manifest), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, Accessibility), []byte("corrupt"), 0o644))

	c, err := New(Options{Dir: dir, BaseURL: srv.URL, Retry: fastRetry(), RateLimit: 1000})
	require.NoError(t, err)

	got, err := c.Fetch(context.Background(), Accessibility)
	require.NoError(t, err)
	data, err := os.ReadFile(got)
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))
	assert.Equal(t, int32(1), calls.Load())

	// The repaired file is now a plain hit.
	_, err = c.Fetch(context.Background(), Accessibility)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetch_ConcurrentCallsShareDownload(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-release
		w.Write([]byte("shared"))
	}))
	defer srv.Close()

	c := newTestCache(t, srv.URL)

	var wg sync.WaitGroup
	paths := make([]string, 8)
	errs := make([]error, 8)
	for i := range paths {
		wg.Add(1)
		go func() {
			defer wg.Done()
			paths[i], errs[i] = c.Fetch(context.Background(), EmptyTable)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := range paths {
		require.NoError(t, errs[i])
		assert.Equal(t, filepath.Join(c.Dir(), EmptyTable), paths[i])
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetch_CanceledCallerDoesNotFailOthers(t *testing.T) {
	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		w.Write([]byte("shared"))
	}))
	defer srv.Close()

	c := newTestCache(t, srv.URL)

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := c.Fetch(ctxA, BaselineTable)
		errA <- err
	}()
	<-started

	type result struct {
		path string
		err  error
	}
	resB := make(chan result, 1)
	go func() {
		p, err := c.Fetch(context.Background(), BaselineTable)
		resB <- result{p, err}
	}()

	cancelA()
	assert.ErrorIs(t, <-errA, context.Canceled)

	close(release)
	b := <-resB
	require.NoError(t, b.err)
	assert.Equal(t, filepath.Join(c.Dir(), BaselineTable), b.path)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetch_InvalidName(t *testing.T) {
	c := newTestCache(t, "")
	for _, name := range []string{"", "../etc/passwd", "sub/dir", ".hidden"} {
		_, err := c.Fetch(context.Background(), name)
		assert.Error(t, err, name)
	}
}

func TestNew_RequiresDir(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestNew_InvalidManifest(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFile), []byte("artifacts: [nope"), 0o644))

	_, err := New(Options{Dir: dir})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cache: parse manifest")
}

func TestArtifacts(t *testing.T) {
	assert.ElementsMatch(t, []string{
		"air_quality_predictor", "house_price_predictor", "accessibility",
		"empty.parquet", "oa_lsoa.parquet", "baseline.parquet", "signatures.parquet",
	}, Artifacts())
}
