// Package fred gathers macro series observations from the FRED API into a
// MacroStore.
package fred

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"stockbt/internal/domain"
	"stockbt/internal/gather"
	"stockbt/internal/store"
	"stockbt/internal/util"
)

// DefaultBaseURL is the public FRED API root.
const DefaultBaseURL = "https://api.stlouisfed.org/fred"

// Compile-time interface check.
var _ gather.Gatherer = (*Gatherer)(nil)

// Options configures a Gatherer.
type Options struct {
	APIKey  string
	BaseURL string
	// SeriesIDs defaults to domain.MacroSeriesIDs.
	SeriesIDs       []string
	StartDate       time.Time
	EndDate         time.Time // zero: today
	RateLimitPerMin int
	MaxRetries      int
	RetryDelay      time.Duration
	HTTPClient      *http.Client
	Logger          *slog.Logger
}

// Gatherer fetches each configured series incrementally, starting the day
// after the newest stored observation.
type Gatherer struct {
	opts    Options
	store   store.MacroStore
	client  *http.Client
	limiter *util.RateLimiter
	log     *slog.Logger
}

// New creates a FRED gatherer writing to s.
func New(s store.MacroStore, opts Options) *Gatherer {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if len(opts.SeriesIDs) == 0 {
		opts.SeriesIDs = domain.MacroSeriesIDs
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Gatherer{
		opts:    opts,
		store:   s,
		client:  client,
		limiter: util.NewRateLimiter(opts.RateLimitPerMin),
		log:     logger.With("gatherer", "fred"),
	}
}

// Name returns the gatherer identifier.
func (g *Gatherer) Name() string { return "fred" }

// Run fetches and stores every series. A series that fails is logged and
// skipped; Run errors only on cancellation or when every series failed.
func (g *Gatherer) Run(ctx context.Context) error {
	end := util.Day(g.opts.EndDate)
	if g.opts.EndDate.IsZero() {
		end = util.Day(time.Now())
	}

	var failed []error
	for _, id := range g.opts.SeriesIDs {
		n, err := g.gatherSeries(ctx, id, end)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			g.log.Warn("series fetch failed", "series", id, "err", err)
			failed = append(failed, fmt.Errorf("%s: %w", id, err))
			continue
		}
		g.log.Info("series stored", "series", id, "observations", n)
	}
	if len(failed) == len(g.opts.SeriesIDs) && len(failed) > 0 {
		return fmt.Errorf("all FRED series failed: %w", errors.Join(failed...))
	}
	return nil
}

func (g *Gatherer) gatherSeries(ctx context.Context, id string, end time.Time) (int, error) {
	start := util.Day(g.opts.StartDate)
	latest, ok, err := g.store.LatestMacroDate(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("reading latest date: %w", err)
	}
	if ok && !latest.Before(start) {
		start = latest.AddDate(0, 0, 1)
	}
	if start.After(end) {
		return 0, nil
	}

	var obs []domain.MacroObservation
	err = util.RetryIf(ctx, g.opts.MaxRetries, g.opts.RetryDelay, retryable, func() error {
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}
		var ferr error
		obs, ferr = g.Fetch(ctx, id, start, end)
		return ferr
	})
	if err != nil {
		return 0, err
	}
	if len(obs) == 0 {
		return 0, nil
	}
	if err := g.store.WriteMacroObservations(ctx, obs); err != nil {
		return 0, fmt.Errorf("writing observations: %w", err)
	}
	return len(obs), nil
}

// ---------------------------------------------------------------------------
// HTTP
// ---------------------------------------------------------------------------

// StatusError is a non-2xx response from FRED.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fred: HTTP %d: %s", e.Code, e.Body)
}

// retryable reports whether another attempt may succeed: transport errors,
// 429 and 5xx. Cancellation is never retried.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}
	var pe *parseError
	return !errors.As(err, &pe)
}

type parseError struct{ err error }

func (e *parseError) Error() string { return "fred: decoding response: " + e.err.Error() }
func (e *parseError) Unwrap() error { return e.err }

type observationsResponse struct {
	Observations []struct {
		Date  string `json:"date"`
		Value string `json:"value"`
	} `json:"observations"`
}

// Fetch returns the observations of one series within [start, end]. FRED's
// "." placeholder for missing values is dropped.
func (g *Gatherer) Fetch(ctx context.Context, seriesID string, start, end time.Time) ([]domain.MacroObservation, error) {
	q := url.Values{}
	q.Set("series_id", seriesID)
	q.Set("api_key", g.opts.APIKey)
	q.Set("file_type", "json")
	q.Set("observation_start", start.Format(util.DateLayout))
	q.Set("observation_end", end.Format(util.DateLayout))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.opts.BaseURL+"/series/observations?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var payload observationsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &parseError{err}
	}

	out := make([]domain.MacroObservation, 0, len(payload.Observations))
	for _, o := range payload.Observations {
		if o.Value == "." || o.Value == "" {
			continue
		}
		v, err := strconv.ParseFloat(o.Value, 64)
		if err != nil {
			return nil, &parseError{fmt.Errorf("series %s on %s: %w", seriesID, o.Date, err)}
		}
		d, err := util.ParseDay(o.Date)
		if err != nil {
			return nil, &parseError{fmt.Errorf("series %s date %q: %w", seriesID, o.Date, err)}
		}
		out = append(out, domain.MacroObservation{SeriesID: seriesID, Date: d, Value: v})
	}
	return out, nil
}
