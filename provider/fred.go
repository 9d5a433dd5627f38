package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"

	"golang.org/x/exp/maps"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/Persevera-Asset-Management/PerseveraTools/config"
	"github.com/Persevera-Asset-Management/PerseveraTools/series"
)

// Fred fetches series from the Federal Reserve Economic Data API. Unlike
// SGS, any failed series fails the whole call; the facade's retry policy
// covers transient errors.
type Fred struct {
	Base
	client  *retryablehttp.Client
	codes   CodeSource
	baseURL string
	apiKey  string
}

func NewFred(cfg *config.Config, codes CodeSource, logger *slog.Logger) (*Fred, error) {
	base, err := NewBase(cfg.Providers.StartDate, logger)
	if err != nil {
		return nil, err
	}
	if cfg.Providers.Fred.APIKey == "" {
		return nil, &ConfigError{
			Field: "fred.api_key",
			Err:   errors.New("PERSEVERA_FRED_API_KEY is not set"),
		}
	}
	return &Fred{
		Base:    base,
		client:  newRetryClient(cfg.Extract.Backoff, logger),
		codes:   codes,
		baseURL: cfg.Providers.Fred.BaseURL,
		apiKey:  cfg.Providers.Fred.APIKey,
	}, nil
}

func (p *Fred) Name() string { return "fred" }

type fredResponse struct {
	Observations []struct {
		Date  string `json:"date"`
		Value string `json:"value"`
	} `json:"observations"`
}

func (p *Fred) GetData(ctx context.Context, category string, params Params) ([]series.Observation, error) {
	p.logProcessing("fred")

	codes, err := p.codes.Codes(ctx, "fred")
	if err != nil {
		return nil, &RetrievalError{Source: "fred", Err: err}
	}
	if len(codes) == 0 {
		return nil, &RetrievalError{Source: "fred", Err: errors.New("no fred series defined")}
	}

	var rows []series.RawRow
	rawCodes := maps.Keys(codes)
	slices.Sort(rawCodes)
	for _, raw := range rawCodes {
		var resp fredResponse
		if err := fetchJSON(ctx, p.client, p.seriesURL(raw), &resp); err != nil {
			return nil, &RetrievalError{
				Source: "fred",
				Err:    fmt.Errorf("series %s: %w", raw, err),
			}
		}

		code := codes[raw]
		for _, o := range resp.Observations {
			// FRED marks missing observations with a "." value.
			rows = append(rows, series.RawRow{
				Date:  o.Date,
				Code:  code,
				Field: "close",
				Value: parseNullableFloat(o.Value),
			})
		}
	}

	if len(rows) == 0 {
		return nil, &RetrievalError{Source: "fred", Err: errors.New("no data retrieved")}
	}

	return p.Validate(series.NewRawTable(rows))
}

func (p *Fred) seriesURL(seriesID string) string {
	q := url.Values{}
	q.Set("series_id", seriesID)
	q.Set("api_key", p.apiKey)
	q.Set("file_type", "json")
	q.Set("observation_start", p.StartDate.Format("2006-01-02"))
	return fmt.Sprintf("%s/fred/series/observations?%s", p.baseURL, q.Encode())
}
