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

// Sidra fetches tables from IBGE's SIDRA statistical API. A failure on
// one table is tolerated with a warning; raw series without a canonical
// code mapping are skipped with a warning.
type Sidra struct {
	Base
	client  *retryablehttp.Client
	codes   CodeSource
	baseURL string
	tables  map[string]string
}

func NewSidra(cfg *config.Config, codes CodeSource, logger *slog.Logger) (*Sidra, error) {
	base, err := NewBase(cfg.Providers.StartDate, logger)
	if err != nil {
		return nil, err
	}
	return &Sidra{
		Base:    base,
		client:  newRetryClient(cfg.Extract.Backoff, logger),
		codes:   codes,
		baseURL: cfg.Providers.Sidra.BaseURL,
		tables:  cfg.Providers.Sidra.Tables,
	}, nil
}

func (p *Sidra) Name() string { return "sidra" }

func (p *Sidra) GetData(ctx context.Context, category string, params Params) ([]series.Observation, error) {
	p.logProcessing("sidra")

	codes, err := p.codes.Codes(ctx, "sidra")
	if err != nil {
		return nil, &RetrievalError{Source: "sidra", Err: err}
	}

	var rows []series.RawRow
	tables := maps.Keys(p.tables)
	slices.Sort(tables)
	for _, table := range tables {
		p.Logger.Info(fmt.Sprintf("Retrieving table %s: %s", table, p.tables[table]))

		url := fmt.Sprintf("%s/values/t/%s/n1/all/v/all/p/all?formato=json", p.baseURL, table)

		// Each record maps SIDRA's positional column names: V holds the
		// value, D2C the period (yyyymm) and D3N the series name.
		var records []map[string]string
		if err := fetchJSON(ctx, p.client, url, &records); err != nil {
			p.Logger.Warn(fmt.Sprintf("Failed to retrieve table %s: %v", table, err))
			continue
		}

		for _, r := range records {
			value := r["V"]
			if value == "Valor" { // header row
				continue
			}
			if value == "" || value == "..." {
				continue
			}
			code, ok := codes[r["D3N"]]
			if !ok {
				p.Logger.Warn(fmt.Sprintf("No canonical code mapped for sidra series %q", r["D3N"]))
				continue
			}
			rows = append(rows, series.RawRow{
				Date:  r["D2C"],
				Code:  code,
				Field: "close",
				Value: parseNullableFloat(value),
			})
		}
	}

	if len(rows) == 0 {
		return nil, &RetrievalError{Source: "sidra", Err: errors.New("no data retrieved")}
	}

	return p.Validate(series.NewRawTable(rows))
}
