package geocode

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/spf13/afero"

	"github.com/nforgeio/geotracker/internal/errwrap"
	"github.com/nforgeio/geotracker/internal/geofix"
	"github.com/nforgeio/geotracker/internal/metrics"
)

// Config mirrors spec.md §6's ipGeocode* options.
type Config struct {
	SourceURI     string
	SourceKeyPath string // PGP public key used to verify the signed payload
	PollInterval  time.Duration
	SourceTimeout time.Duration
	// LocalCachePath is where the last successfully decrypted index is
	// persisted, so a restart has something to serve before the first
	// remote refresh completes.
	LocalCachePath string
}

// Fetcher retrieves and authenticates the current encrypted index payload.
// Split out from Geocoder so tests can substitute a canned payload instead
// of reaching the network.
type Fetcher interface {
	Fetch(ctx context.Context, ifModifiedSince time.Time) (data []byte, modified bool, err error)
}

// Geocoder is spec.md §4.4's IPGeocoder: private-range short-circuit,
// binary-search lookup, and a background poll-decrypt-verify-swap loop.
type Geocoder struct {
	cfg     Config
	fetcher Fetcher
	fs      afero.Fs
	Logf    func(format string, v ...interface{})
	Metrics *metrics.Geocoder

	idx atomic.Pointer[Index]

	// decrypt defaults to decryptAndVerify; tests override it to avoid
	// needing a real PGP keypair fixture.
	decrypt func(ciphertext []byte, keyPath string) ([]byte, error)

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewGeocoder constructs a Geocoder. fetcher supplies the encrypted,
// signed payload (see download.go's httpFetcher for the production path).
// fs defaults to the OS filesystem; tests pass afero.NewMemMapFs().
func NewGeocoder(cfg Config, fetcher Fetcher, fs afero.Fs) *Geocoder {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Geocoder{
		cfg:     cfg,
		fetcher: fetcher,
		fs:      fs,
		Logf:    func(string, ...interface{}) {},
		decrypt: decryptAndVerify,
		stopCh:  make(chan struct{}),
	}
}

// Start loads whatever index was persisted from a prior run (spec.md
// §4.4's "startup load-or-fetch"), then performs an initial remote refresh
// and begins the background poll loop. The Geocoder remains usable
// (serving stale data, or errwrap.ErrNotAvailable) even if both fail.
func (g *Geocoder) Start(ctx context.Context) error {
	if idx, err := loadLocalCache(g.fs, g.cfg.LocalCachePath); err != nil {
		g.Logf("Geocoder: failed to load local cache, will rely on remote fetch: %v", err)
	} else if idx != nil {
		g.idx.Store(idx)
	}

	if err := g.refresh(ctx); err != nil {
		g.Logf("Geocoder: initial remote refresh failed: %v", err)
	}
	g.doneCh = make(chan struct{})
	go g.pollLoop()
	return nil
}

func (g *Geocoder) pollLoop() {
	defer close(g.doneCh)
	interval := g.cfg.PollInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-g.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), g.cfg.SourceTimeout)
			if err := g.refresh(ctx); err != nil {
				g.Logf("Geocoder: refresh failed, continuing to serve the current index: %v", err)
			}
			cancel()
		}
	}
}

// refresh fetches, decrypts, and swaps in a new index if the source has
// changed since the current one's LastModified.
func (g *Geocoder) refresh(ctx context.Context) error {
	var since time.Time
	if cur := g.idx.Load(); cur != nil {
		since = cur.LastModified
	}

	data, modified, err := g.fetcher.Fetch(ctx, since)
	if err != nil {
		if g.Metrics != nil {
			g.Metrics.RefreshResult.WithLabelValues("error").Inc()
		}
		return fmt.Errorf("%w: fetching index: %v", errwrap.ErrNotAvailable, err)
	}
	if !modified {
		if g.Metrics != nil {
			g.Metrics.RefreshResult.WithLabelValues("unchanged").Inc()
		}
		return nil
	}

	plaintext, err := g.decrypt(data, g.cfg.SourceKeyPath)
	if err != nil {
		if g.Metrics != nil {
			g.Metrics.RefreshResult.WithLabelValues("decrypt_failed").Inc()
		}
		return fmt.Errorf("%w: %v", errwrap.ErrFatal, err)
	}

	idx, err := decodeIndex(plaintext)
	if err != nil {
		if g.Metrics != nil {
			g.Metrics.RefreshResult.WithLabelValues("corrupt").Inc()
		}
		return fmt.Errorf("%w: %v", errwrap.ErrFatal, err)
	}

	if err := writeLocalCache(g.fs, g.cfg.LocalCachePath, plaintext); err != nil {
		g.Logf("Geocoder: failed to persist local cache: %v", err)
	}

	g.idx.Store(idx)
	if g.Metrics != nil {
		g.Metrics.RefreshResult.WithLabelValues("ok").Inc()
		g.Metrics.IndexAge.Set(time.Since(idx.LastModified).Seconds())
	}
	return nil
}

// Lookup resolves an IPv4 address string to a fix + textual location.
// Private addresses return (nil, Location{}, nil) without consulting the
// index. Public addresses not found in the index also return
// (nil, Location{}, nil). When no index is loaded yet, Lookup returns
// errwrap.ErrNotAvailable.
func (g *Geocoder) Lookup(addr string) (*geofix.Fix, Location, error) {
	ip := net.ParseIP(addr)
	if ip == nil {
		return nil, Location{}, fmt.Errorf("%w: not an IP address: %q", errwrap.ErrValidation, addr)
	}
	if isPrivate(ip) {
		if g.Metrics != nil {
			g.Metrics.Lookups.WithLabelValues("private").Inc()
		}
		return nil, Location{}, nil
	}
	key, ok := ipv4Uint32(ip)
	if !ok {
		return nil, Location{}, fmt.Errorf("%w: IPGeocoder only resolves IPv4: %q", errwrap.ErrValidation, addr)
	}

	idx := g.idx.Load()
	if idx == nil {
		if g.Metrics != nil {
			g.Metrics.Lookups.WithLabelValues("not_available").Inc()
		}
		return nil, Location{}, errwrap.ErrNotAvailable
	}
	rec, found := idx.Lookup(key)
	if !found {
		if g.Metrics != nil {
			g.Metrics.Lookups.WithLabelValues("miss").Inc()
		}
		return nil, Location{}, nil
	}

	if g.Metrics != nil {
		g.Metrics.Lookups.WithLabelValues("hit").Inc()
	}
	fix := geofix.Fix{
		TimeUTC:   time.Now().UTC(),
		Latitude:  rec.Latitude,
		Longitude: rec.Longitude,
		Technology: geofix.TechnologyIP,
	}
	return &fix, Location{Country: rec.Country, Region: rec.Region, City: rec.City}, nil
}

// Stop halts the background poll loop.
func (g *Geocoder) Stop() {
	select {
	case <-g.stopCh:
	default:
		close(g.stopCh)
	}
	if g.doneCh != nil {
		<-g.doneCh
	}
}
