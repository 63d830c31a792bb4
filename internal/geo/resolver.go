// Package geo resolves mint URLs to geographic coordinates using a local
// copy of the DB-IP city-lite database, so the swap graph can be drawn on a
// map without calling out to a lookup service per request.
package geo

import (
	"compress/gzip"
	"context"
	"encoding/binary"
	"encoding/csv"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"mint-auditor/internal/storage"
)

// ErrNoLocation means the host resolved but no database range covers it.
var ErrNoLocation = fmt.Errorf("geo: no location for address")

type ipRange struct {
	start uint32
	end   uint32
	lat   float64
	lon   float64
}

// Options configure a Resolver.
type Options struct {
	// DatabaseURL points at a gzipped DB-IP city-lite CSV export.
	DatabaseURL string
	// DataDir holds the downloaded database between runs.
	DataDir string
	// MaxAge triggers a re-download once the local copy is older.
	MaxAge  time.Duration
	Timeout time.Duration
}

// Resolver maps IPv4 addresses to coordinates. Safe for concurrent use
// after EnsureDatabase has loaded the ranges.
type Resolver struct {
	opts   Options
	client *http.Client
	logger zerolog.Logger

	mu     sync.RWMutex
	ranges []ipRange
}

func NewResolver(opts Options, logger zerolog.Logger) *Resolver {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Minute
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = 7 * 24 * time.Hour
	}
	return &Resolver{
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
		logger: logger.With().Str("component", "geo").Logger(),
	}
}

func (r *Resolver) databasePath() string {
	return filepath.Join(r.opts.DataDir, "dbip-city-lite.csv.gz")
}

// EnsureDatabase makes sure a reasonably fresh database file exists locally
// and is loaded into memory. Called once at startup and again by the
// refresh loop.
func (r *Resolver) EnsureDatabase(ctx context.Context) error {
	path := r.databasePath()
	stale := true
	if info, err := os.Stat(path); err == nil {
		stale = time.Since(info.ModTime()) > r.opts.MaxAge
	}

	if stale {
		if err := r.download(ctx, path); err != nil {
			// A stale local copy is still better than nothing.
			if _, statErr := os.Stat(path); statErr != nil {
				return err
			}
			r.logger.Warn().Err(err).Msg("database refresh failed, using stale copy")
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open geo database: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("geo database not gzip: %w", err)
	}
	defer gz.Close()

	ranges, err := parseRanges(gz)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.ranges = ranges
	r.mu.Unlock()
	r.logger.Info().Int("ranges", len(ranges)).Msg("geo database loaded")
	return nil
}

func (r *Resolver) download(ctx context.Context, path string) error {
	if r.opts.DatabaseURL == "" {
		return fmt.Errorf("geo: no database url configured")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.opts.DatabaseURL, nil)
	if err != nil {
		return err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("download geo database: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download geo database: status %d", resp.StatusCode)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write geo database: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// parseRanges reads a DB-IP city CSV export: ip_start, ip_end, country,
// state1, state2, city, postcode, latitude, longitude, timezone. Addresses
// may be dotted quads or decimal; IPv6 and malformed rows are skipped.
func parseRanges(src io.Reader) ([]ipRange, error) {
	reader := csv.NewReader(src)
	reader.FieldsPerRecord = -1

	var ranges []ipRange
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse geo database: %w", err)
		}
		if len(record) < 9 {
			continue
		}
		start, startOK := parseAddr(record[0])
		end, endOK := parseAddr(record[1])
		if !startOK || !endOK {
			continue
		}
		lat, latErr := strconv.ParseFloat(record[7], 64)
		lon, lonErr := strconv.ParseFloat(record[8], 64)
		if latErr != nil || lonErr != nil {
			continue
		}
		ranges = append(ranges, ipRange{start: start, end: end, lat: lat, lon: lon})
	}

	sort.Slice(ranges, func(i, j int) bool { return ranges[i].start < ranges[j].start })
	return ranges, nil
}

func parseAddr(raw string) (uint32, bool) {
	if ip := net.ParseIP(raw); ip != nil {
		v4 := ip.To4()
		if v4 == nil {
			return 0, false
		}
		return binary.BigEndian.Uint32(v4), true
	}
	n, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

// Lookup finds the coordinates covering one IPv4 address.
func (r *Resolver) Lookup(ip net.IP) (lat, lon float64, err error) {
	v4 := ip.To4()
	if v4 == nil {
		return 0, 0, ErrNoLocation
	}
	addr := binary.BigEndian.Uint32(v4)

	r.mu.RLock()
	defer r.mu.RUnlock()

	i := sort.Search(len(r.ranges), func(i int) bool { return r.ranges[i].end >= addr })
	if i >= len(r.ranges) || r.ranges[i].start > addr {
		return 0, 0, ErrNoLocation
	}
	return r.ranges[i].lat, r.ranges[i].lon, nil
}

// ResolveURL resolves a mint URL's host to coordinates.
func (r *Resolver) ResolveURL(ctx context.Context, mintURL string) (lat, lon float64, err error) {
	parsed, err := url.Parse(mintURL)
	if err != nil {
		return 0, 0, fmt.Errorf("parse mint url: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		return 0, 0, fmt.Errorf("mint url %q has no host", mintURL)
	}

	ips, err := net.DefaultResolver.LookupIP(ctx, "ip4", host)
	if err != nil {
		return 0, 0, fmt.Errorf("resolve %s: %w", host, err)
	}
	for _, ip := range ips {
		if lat, lon, lookupErr := r.Lookup(ip); lookupErr == nil {
			return lat, lon, nil
		}
	}
	return 0, 0, ErrNoLocation
}

// LocationStore is the slice of the ledger the locator writes.
type LocationStore interface {
	ListMints(ctx context.Context) ([]storage.Mint, error)
	UpdateMintLocation(ctx context.Context, id int64, lat, lon float64) error
}

// LocateMints fills in coordinates for every mint that has none yet.
// Per-mint failures are logged and skipped.
func (r *Resolver) LocateMints(ctx context.Context, store LocationStore) error {
	mints, err := store.ListMints(ctx)
	if err != nil {
		return fmt.Errorf("list mints: %w", err)
	}
	for _, mint := range mints {
		if mint.Latitude != nil && mint.Longitude != nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		lat, lon, err := r.ResolveURL(ctx, mint.URL)
		if err != nil {
			r.logger.Debug().Err(err).Str("mint", mint.URL).Msg("location resolution failed")
			continue
		}
		if err := store.UpdateMintLocation(ctx, mint.ID, lat, lon); err != nil {
			r.logger.Error().Err(err).Str("mint", mint.URL).Msg("location update failed")
			continue
		}
		r.logger.Info().Str("mint", mint.URL).Float64("lat", lat).Float64("lon", lon).Msg("mint located")
	}
	return nil
}
