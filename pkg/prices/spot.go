package prices

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/voltvakt/voltvakt/pkg/common"
	"github.com/voltvakt/voltvakt/pkg/log"
	"github.com/voltvakt/voltvakt/pkg/types"
)

// Spot fetches day-ahead prices from the elprisetjustnu.se JSON API, which
// republishes Nord Pool day-ahead prices per Swedish bidding area.
type Spot struct {
	apiURL   string
	area     string
	location *time.Location
	client   *http.Client

	// A day's curve is immutable once published, so the cache is
	// write-once per date key.
	mu    sync.Mutex
	cache map[string][]types.PricePoint
}

// ConfiguredSpot sets up flags for the spot client and returns the instance.
func ConfiguredSpot() *Spot {
	s := &Spot{
		client: common.HTTPClient(10 * time.Second),
		cache:  map[string][]types.PricePoint{},
	}
	apiURL := lflag.String("spot-api-url", "https://www.elprisetjustnu.se/api/v1/prices", "base URL for the day-ahead price API")
	area := lflag.String("price-area", "SE3", "Swedish bidding area (SE1-SE4)")
	tz := lflag.String("market-timezone", "Europe/Stockholm", "market timezone for calendar days")

	lflag.Do(func() {
		s.apiURL = *apiURL
		s.area = *area
		loc, err := time.LoadLocation(*tz)
		if err != nil {
			panic(fmt.Errorf("failed to load market timezone: %w", err))
		}
		s.location = loc
	})

	return s
}

// NewSpot builds a client without flag registration, for tests and embedding.
func NewSpot(apiURL, area string, loc *time.Location, client *http.Client) *Spot {
	if client == nil {
		client = common.HTTPClient(10 * time.Second)
	}
	return &Spot{
		apiURL:   apiURL,
		area:     area,
		location: loc,
		client:   client,
		cache:    map[string][]types.PricePoint{},
	}
}

// Validate ensures the configuration is valid.
func (s *Spot) Validate() error {
	if s.apiURL == "" {
		return fmt.Errorf("spot-api-url is required")
	}
	if _, err := url.Parse(s.apiURL); err != nil {
		return fmt.Errorf("failed to parse spot url (%s): %w", s.apiURL, err)
	}
	switch s.area {
	case "SE1", "SE2", "SE3", "SE4":
	default:
		return fmt.Errorf("unknown price area: %s", s.area)
	}
	return nil
}

type spotEntry struct {
	SEKPerKWH float64   `json:"SEK_per_kWh"`
	EURPerKWH float64   `json:"EUR_per_kWh"`
	EXR       float64   `json:"EXR"`
	TimeStart time.Time `json:"time_start"`
	TimeEnd   time.Time `json:"time_end"`
}

// DayCurve implements Provider. The published curve is hourly or
// quarter-hourly depending on the market day; either way the result is
// quarter slots.
func (s *Spot) DayCurve(ctx context.Context, date time.Time) ([]types.PricePoint, error) {
	local := date.In(s.location)
	key := local.Format("2006-01-02")

	s.mu.Lock()
	cached, ok := s.cache[key]
	s.mu.Unlock()
	if ok {
		return cached, nil
	}

	u := fmt.Sprintf("%s/%d/%02d-%02d_%s.json", s.apiURL, local.Year(), int(local.Month()), local.Day(), s.area)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch prices: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s %s", ErrNotPublished, key, s.area)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d fetching prices for %s", resp.StatusCode, key)
	}

	var entries []spotEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("failed to decode prices: %w", err)
	}

	points := make([]types.PricePoint, 0, len(entries))
	for _, e := range entries {
		points = append(points, types.PricePoint{
			TSStart:   e.TimeStart.In(s.location),
			TSEnd:     e.TimeEnd.In(s.location),
			SEKPerKWH: types.RoundPrice(e.SEKPerKWH),
		})
	}
	points = UpsampleQuarters(points)
	if err := ValidateDayCurve(points); err != nil {
		return nil, fmt.Errorf("bad curve for %s: %w", key, err)
	}

	log.Ctx(ctx).DebugContext(ctx, "fetched day-ahead prices",
		slog.String("date", key),
		slog.String("area", s.area),
		slog.Int("slots", len(points)),
	)

	s.mu.Lock()
	s.cache[key] = points
	s.mu.Unlock()
	return points, nil
}
