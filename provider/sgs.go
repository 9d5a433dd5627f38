package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"golang.org/x/exp/maps"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/Persevera-Asset-Management/PerseveraTools/config"
	"github.com/Persevera-Asset-Management/PerseveraTools/series"
)

// SGS fetches time series from the Brazilian central bank's SGS API.
// The set of series to pull is driven by the code definitions for
// source "sgs"; a failure on one series is tolerated with a warning.
type SGS struct {
	Base
	client  *retryablehttp.Client
	codes   CodeSource
	baseURL string
}

func NewSGS(cfg *config.Config, codes CodeSource, logger *slog.Logger) (*SGS, error) {
	base, err := NewBase(cfg.Providers.StartDate, logger)
	if err != nil {
		return nil, err
	}
	return &SGS{
		Base:    base,
		client:  newRetryClient(cfg.Extract.Backoff, logger),
		codes:   codes,
		baseURL: cfg.Providers.SGS.BaseURL,
	}, nil
}

func (p *SGS) Name() string { return "sgs" }

type sgsObservation struct {
	Date  string `json:"data"`
	Value string `json:"valor"`
}

func (p *SGS) GetData(ctx context.Context, category string, params Params) ([]series.Observation, error) {
	p.logProcessing("sgs")

	codes, err := p.codes.Codes(ctx, "sgs")
	if err != nil {
		return nil, &RetrievalError{Source: "sgs", Err: err}
	}
	if len(codes) == 0 {
		return nil, &RetrievalError{Source: "sgs", Err: errors.New("no sgs series defined")}
	}

	var rows []series.RawRow
	rawCodes := maps.Keys(codes)
	slices.Sort(rawCodes)
	for _, raw := range rawCodes {
		url := fmt.Sprintf("%s/dados/serie/bcdata.sgs.%s/dados?formato=json", p.baseURL, raw)

		var obs []sgsObservation
		if err := fetchJSON(ctx, p.client, url, &obs); err != nil {
			p.Logger.Warn(fmt.Sprintf("Failed to retrieve data for code %s: %v", raw, err))
			continue
		}

		code := codes[raw]
		for _, o := range obs {
			rows = append(rows, series.RawRow{
				Date:  o.Date,
				Code:  code,
				Field: "close",
				Value: parseNullableFloat(o.Value),
			})
		}
	}

	if len(rows) == 0 {
		return nil, &RetrievalError{Source: "sgs", Err: errors.New("no data retrieved")}
	}

	return p.Validate(series.NewRawTable(rows))
}
