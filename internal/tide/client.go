package tide

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/time/rate"
	"resty.dev/v3"

	"github.com/tidemark/shoregrid/internal/config"
	"github.com/tidemark/shoregrid/internal/ctxlog"
	"github.com/tidemark/shoregrid/internal/retry"
	"github.com/tidemark/shoregrid/internal/series"
)

// Client fetches tide heights from the external tide service. Every call
// is rate limited client-side and classified for the retry policy: the
// service throttles aggressively and a run fans requests out across many
// concurrent site tasks.
type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
	apiKey  string
	retry   retry.Config
}

// sample mirrors one entry of the service's "values" array.
type sample struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

type response struct {
	Values []sample `json:"values"`
}

// New builds a client from the run configuration. The API key is read
// from the environment variable the configuration names; the secret
// itself never appears in configuration or logs.
func New(cfg config.TideAPI, retryCfg retry.Config) (*Client, error) {
	apiKey := os.Getenv(cfg.APIKeyEnv)
	if apiKey == "" {
		return nil, errors.Newf("tide API key environment variable %q is not set", cfg.APIKeyEnv)
	}

	perMinute := cfg.RatePerMinute
	if perMinute <= 0 {
		perMinute = 30
	}

	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(30 * time.Second)

	return &Client{
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), 1),
		apiKey:  apiKey,
		retry:   retryCfg,
	}, nil
}

// Close releases the underlying HTTP client.
func (c *Client) Close() error {
	return c.http.Close()
}

// FetchHeights returns the tide height at each requested timestamp for
// the given coordinates, as a single-column series keyed by timestamp.
// Timestamps the service cannot resolve are reported as an error rather
// than silently dropped, so the append-only persisted series never gains
// phantom gaps.
func (c *Client) FetchHeights(ctx context.Context, lat, lon float64, times []time.Time) (*series.Series, error) {
	logger := ctxlog.FromContext(ctx)
	out := series.New([]string{"tide"})

	for _, t := range times {
		value, err := c.fetchOne(ctx, lat, lon, series.Round(t))
		if err != nil {
			return nil, errors.Wrapf(err, "fetching tide for %s", t.Format(time.RFC3339))
		}
		if err := out.Append(series.Row{Time: t, Values: map[string]float64{"tide": value}}); err != nil {
			return nil, err
		}
	}
	logger.Debug("Tide heights fetched.", "count", out.Len())
	return out, nil
}

// fetchOne requests the tide height for one timestamp under the retry
// policy. The request asks for a two-day window at the series resolution
// and picks the sample matching the timestamp, the same access pattern
// the service's own examples use.
func (c *Client) fetchOne(ctx context.Context, lat, lon float64, t time.Time) (float64, error) {
	var height float64
	_, err := retry.Do(ctx, c.retry, func(ctx context.Context, attempt int) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return retry.AsFatal(err)
		}

		var body response
		res, err := c.http.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"lat":          formatCoord(lat),
				"long":         formatCoord(lon),
				"startDate":    t.Format("2006-01-02"),
				"numberOfDays": "2",
				"interval":     "10",
				"datum":        "MSL",
				"apikey":       c.apiKey,
			}).
			SetResult(&body).
			Get("")
		if err != nil {
			// Transport-level failures (timeouts, connection resets) are
			// transient by classification.
			return retry.AsRetryable(err)
		}
		if err := classifyStatus(res.StatusCode()); err != nil {
			return err
		}

		for _, s := range body.Values {
			if series.Round(s.Time).Equal(t) {
				height = s.Value
				return nil
			}
		}
		return retry.AsFatal(errors.Newf("service returned no sample for %s", t.Format(time.RFC3339)))
	})
	return height, err
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// classifyStatus maps an HTTP status to the retry taxonomy.
func classifyStatus(code int) error {
	switch {
	case code == http.StatusOK:
		return nil
	case code == http.StatusTooManyRequests:
		return retry.AsRetryable(errors.Newf("rate limit exceeded (status %d)", code))
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return retry.AsFatal(errors.Newf("authentication rejected (status %d)", code))
	case code == http.StatusBadRequest:
		return retry.AsFatal(errors.Newf("malformed request (status %d)", code))
	case code >= 500:
		return retry.AsRetryable(errors.Newf("transient service failure (status %d)", code))
	default:
		return retry.AsFatal(errors.Newf("permanent service rejection (status %d)", code))
	}
}
