// Package instruments resolves option contracts from the exchange scrip
// master.
package instruments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kunalshah/dalal_straddler/internal/models"
)

// defaultScripMasterURL is the public full-instrument dump.
const defaultScripMasterURL = "https://margincalculator.angelbroking.com/OpenAPI_File/files/OpenAPIScripMaster.json"

// ErrInstrumentNotFound is a data-integrity failure: the requested contract
// does not exist in the scrip master. Fatal to the cycle.
var ErrInstrumentNotFound = errors.New("instrument not found in scrip master")

// Instrument mirrors one scrip-master row. Numerics arrive as strings;
// strike is quoted in paise (price x 100).
type Instrument struct {
	Token          string `json:"token"`
	Symbol         string `json:"symbol"`
	Name           string `json:"name"`
	Expiry         string `json:"expiry"`
	Strike         string `json:"strike"`
	LotSize        string `json:"lotsize"`
	InstrumentType string `json:"instrumenttype"`
	ExchSeg        string `json:"exch_seg"`
}

// Resolved is the subset of instrument data the trading core consumes.
type Resolved struct {
	Token         string
	TradingSymbol string
	LotSize       int
}

// Store downloads and caches the scrip master, answering strike-to-token
// lookups. The dump is large, so one download is shared for the cache TTL.
type Store struct {
	mu        sync.Mutex
	client    *http.Client
	logger    *log.Logger
	url       string
	ttl       time.Duration
	cache     []Instrument
	fetchedAt time.Time
}

// StoreOption customizes a Store.
type StoreOption func(*Store)

// WithScripMasterURL overrides the download location (tests).
func WithScripMasterURL(u string) StoreOption {
	return func(s *Store) { s.url = u }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(h *http.Client) StoreOption {
	return func(s *Store) { s.client = h }
}

// WithCacheTTL overrides how long a downloaded scrip master is reused.
func WithCacheTTL(ttl time.Duration) StoreOption {
	return func(s *Store) { s.ttl = ttl }
}

// NewStore creates a scrip-master store.
func NewStore(logger *log.Logger, opts ...StoreOption) *Store {
	s := &Store{
		client: &http.Client{Timeout: 60 * time.Second},
		logger: logger,
		url:    defaultScripMasterURL,
		ttl:    12 * time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ResolveOption finds the index option contract for (underlying, strike,
// optionType, expiry). Missing contracts are ErrInstrumentNotFound.
func (s *Store) ResolveOption(ctx context.Context, underlying string, strike int, optionType models.OptionType, expiry string) (*Resolved, error) {
	scrips, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	var matches []Instrument
	for i := range scrips {
		sc := &scrips[i]
		if sc.ExchSeg != "NFO" || sc.InstrumentType != "OPTIDX" {
			continue
		}
		if sc.Name != underlying || sc.Expiry != expiry {
			continue
		}
		if !strings.HasSuffix(sc.Symbol, string(optionType)) {
			continue
		}
		if st, err := parseStrikePaise(sc.Strike); err != nil || st != strike {
			continue
		}
		matches = append(matches, *sc)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: %s %d%s %s", ErrInstrumentNotFound, underlying, strike, optionType, expiry)
	}

	// Lowest token wins when the dump carries duplicates.
	sort.Slice(matches, func(i, j int) bool { return matches[i].Token < matches[j].Token })
	return toResolved(&matches[0])
}

func toResolved(sc *Instrument) (*Resolved, error) {
	lot, err := strconv.Atoi(strings.TrimSpace(sc.LotSize))
	if err != nil {
		return nil, fmt.Errorf("instrument %s: bad lotsize %q: %w", sc.Symbol, sc.LotSize, err)
	}
	return &Resolved{Token: sc.Token, TradingSymbol: sc.Symbol, LotSize: lot}, nil
}

// parseStrikePaise converts a paise-quoted strike string ("4500000.000000")
// to the rupee strike (45000).
func parseStrikePaise(v string) (int, error) {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, err
	}
	return int(math.Round(f / 100)), nil
}

// load returns the cached scrip master, downloading when cold or expired.
func (s *Store) load(ctx context.Context) ([]Instrument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cache != nil && time.Since(s.fetchedAt) < s.ttl {
		return s.cache, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("building scrip master request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading scrip master: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("downloading scrip master: status %d", resp.StatusCode)
	}

	var scrips []Instrument
	if err := json.NewDecoder(resp.Body).Decode(&scrips); err != nil {
		return nil, fmt.Errorf("decoding scrip master: %w", err)
	}
	if len(scrips) == 0 {
		return nil, fmt.Errorf("scrip master is empty")
	}

	s.logger.Printf("Scrip master loaded: %d instruments", len(scrips))
	s.cache = scrips
	s.fetchedAt = time.Now()
	return s.cache, nil
}
