package ncei

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// HTTPClient is the subset of *http.Client the fetcher needs.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// FetcherConfig controls retry, timeout and circuit breaker behaviour.
type FetcherConfig struct {
	UserAgent      string
	RequestTimeout time.Duration // per attempt, including the body transfer
	MaxRetries     int
	RetryDelay     time.Duration
	Multiplier     float64
	// BreakerFailures is the number of consecutive transient failures that
	// opens the circuit. Zero disables the breaker.
	BreakerFailures int
	BreakerTimeout  time.Duration
}

// DefaultFetcherConfig returns the settings used when no config is supplied.
func DefaultFetcherConfig() FetcherConfig {
	return FetcherConfig{
		UserAgent:       "isd-lite/1.0",
		RequestTimeout:  60 * time.Second,
		MaxRetries:      3,
		RetryDelay:      time.Second,
		Multiplier:      2,
		BreakerFailures: 10,
		BreakerTimeout:  30 * time.Second,
	}
}

// FetchResult describes one completed fetch or probe.
type FetchResult struct {
	URL         string
	Path        string
	ETag        string
	Transferred bool
	Bytes       int64
}

// Fetcher downloads remote files into local paths, skipping the transfer when
// the remote validator matches the one recorded for the local copy.
type Fetcher struct {
	client  HTTPClient
	store   ValidatorStore
	breaker *gobreaker.CircuitBreaker
	cfg     FetcherConfig
	logger  *zap.Logger
}

// NewFetcher creates a fetcher. A nil client uses http.DefaultClient, a nil
// store uses side files, and a nil logger discards output.
func NewFetcher(client HTTPClient, store ValidatorStore, cfg FetcherConfig, logger *zap.Logger) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if store == nil {
		store = SideFileStore{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 1
	}
	logger = logger.Named("fetcher")

	f := &Fetcher{client: client, store: store, cfg: cfg, logger: logger}
	if cfg.BreakerFailures > 0 {
		f.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "ncei",
			MaxRequests: 1,
			Timeout:     cfg.BreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= uint32(cfg.BreakerFailures)
			},
			IsSuccessful: func(err error) bool {
				return !IsTransient(err)
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				logger.Info("Circuit breaker state changed",
					zap.String("breaker", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		})
	}
	return f
}

// Fetch makes dest a current copy of url. Unless force is set, a destination
// whose recorded validator matches the remote one is left untouched.
func (f *Fetcher) Fetch(ctx context.Context, url, dest string, force bool) (FetchResult, error) {
	res := FetchResult{URL: url, Path: dest}

	etag, err := f.head(ctx, url)
	if err != nil {
		return res, err
	}
	res.ETag = etag

	if !force && etag != "" && fileExists(dest) {
		stored, ok, err := f.store.Get(dest)
		if err != nil {
			return res, err
		}
		if ok && stored == etag {
			f.logger.Debug("Local copy is current", zap.String("path", dest), zap.String("etag", etag))
			return res, nil
		}
	}

	var n int64
	var getTag string
	err = f.retry(ctx, url, func(actx context.Context) error {
		var err error
		n, getTag, err = f.download(actx, url, dest)
		return err
	})
	if err != nil {
		return res, err
	}
	res.Transferred = true
	res.Bytes = n
	if getTag != "" {
		res.ETag = getTag
	}

	if res.ETag != "" {
		if err := f.store.Put(dest, res.ETag); err != nil {
			return res, fmt.Errorf("recording validator for %s: %w", dest, err)
		}
	}
	f.logger.Debug("Downloaded file",
		zap.String("url", url),
		zap.String("path", dest),
		zap.Int64("bytes", n))
	return res, nil
}

// Probe checks that url exists and returns its validator without
// transferring the body.
func (f *Fetcher) Probe(ctx context.Context, url string) (FetchResult, error) {
	etag, err := f.head(ctx, url)
	return FetchResult{URL: url, ETag: etag}, err
}

func (f *Fetcher) head(ctx context.Context, url string) (string, error) {
	var etag string
	err := f.retry(ctx, url, func(actx context.Context) error {
		req, err := f.newRequest(actx, http.MethodHead, url)
		if err != nil {
			return err
		}
		resp, err := f.client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return &StatusError{Method: http.MethodHead, URL: url, Code: resp.StatusCode}
		}
		etag = resp.Header.Get("ETag")
		return nil
	})
	return etag, err
}

// download streams the body into a temporary file beside dest and renames
// it into place once complete.
func (f *Fetcher) download(ctx context.Context, url, dest string) (int64, string, error) {
	req, err := f.newRequest(ctx, http.MethodGet, url)
	if err != nil {
		return 0, "", err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, "", &StatusError{Method: http.MethodGet, URL: url, Code: resp.StatusCode}
	}

	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, "", fmt.Errorf("creating directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(dest)+".*.tmp")
	if err != nil {
		return 0, "", fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, resp.Body)
	if err == nil && resp.ContentLength >= 0 && n < resp.ContentLength {
		err = fmt.Errorf("%w: got %d of %d bytes", ErrShortBody, n, resp.ContentLength)
	}
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, "", fmt.Errorf("writing %s: %w", dest, err)
	}

	if err := os.Rename(tmp.Name(), dest); err != nil {
		return 0, "", fmt.Errorf("renaming into place: %w", err)
	}
	return n, resp.Header.Get("ETag"), nil
}

func (f *Fetcher) newRequest(ctx context.Context, method, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if f.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", f.cfg.UserAgent)
	}
	return req, nil
}

// retry runs attempt until it succeeds, fails permanently, or MaxRetries
// retries are used up. Each attempt gets its own timeout.
func (f *Fetcher) retry(ctx context.Context, url string, attempt func(context.Context) error) error {
	var lastErr error
	for n := 0; n <= f.cfg.MaxRetries; n++ {
		if n > 0 {
			delay := time.Duration(float64(f.cfg.RetryDelay) * math.Pow(f.cfg.Multiplier, float64(n-1)))
			f.logger.Debug("Retrying request",
				zap.String("url", url),
				zap.Int("attempt", n),
				zap.Duration("delay", delay))

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		lastErr = f.attempt(ctx, attempt)
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) {
			return lastErr
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("Request failed",
			zap.String("url", url),
			zap.Int("attempt", n),
			zap.Error(lastErr))
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (f *Fetcher) attempt(ctx context.Context, attempt func(context.Context) error) error {
	run := func() error {
		actx := ctx
		if f.cfg.RequestTimeout > 0 {
			var cancel context.CancelFunc
			actx, cancel = context.WithTimeout(ctx, f.cfg.RequestTimeout)
			defer cancel()
		}
		return attempt(actx)
	}
	if f.breaker == nil {
		return run()
	}

	_, err := f.breaker.Execute(func() (interface{}, error) {
		return nil, run()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrCircuitOpen, err)
	}
	return err
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
