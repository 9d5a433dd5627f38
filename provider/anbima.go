package provider

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/Persevera-Asset-Management/PerseveraTools/config"
	"github.com/Persevera-Asset-Management/PerseveraTools/series"
)

// Anbima fetches fixed-income index levels from per-index CSV downloads.
// The index-name-to-URL mapping lives in configuration so new indexes do
// not require a code change.
type Anbima struct {
	Base
	client  *retryablehttp.Client
	indexes map[string]string
}

func NewAnbima(cfg *config.Config, logger *slog.Logger) (*Anbima, error) {
	base, err := NewBase(cfg.Providers.StartDate, logger)
	if err != nil {
		return nil, err
	}
	return &Anbima{
		Base:    base,
		client:  newRetryClient(cfg.Extract.Backoff, logger),
		indexes: cfg.Providers.Anbima.Indexes,
	}, nil
}

func (p *Anbima) Name() string { return "anbima" }

func (p *Anbima) GetData(ctx context.Context, category string, params Params) ([]series.Observation, error) {
	p.logProcessing("ANBIMA indexes")

	if len(p.indexes) == 0 {
		return nil, &RetrievalError{
			Source: "anbima",
			Err:    fmt.Errorf("no indexes configured"),
		}
	}

	names := make([]string, 0, len(p.indexes))
	for name := range p.indexes {
		names = append(names, name)
	}
	sort.Strings(names)

	var rows []series.RawRow
	for _, name := range names {
		indexRows, err := p.fetchIndex(ctx, name, p.indexes[name])
		if err != nil {
			p.Logger.Warn(fmt.Sprintf("Failed to fetch ANBIMA index %s: %v", name, err))
			continue
		}
		rows = append(rows, indexRows...)
	}

	if len(rows) == 0 {
		return nil, &RetrievalError{
			Source: "anbima",
			Err:    fmt.Errorf("no data retrieved for any configured index"),
		}
	}

	return p.Validate(series.NewRawTable(rows))
}

// fetchIndex downloads one index CSV: first column date, second column
// the index level. A header row is skipped when the value column does
// not parse as a number.
func (p *Anbima) fetchIndex(ctx context.Context, name, url string) ([]series.RawRow, error) {
	body, status, err := fetchBytes(ctx, p.client, url)
	if err != nil {
		return nil, err
	}
	if status != 200 {
		return nil, fmt.Errorf("unexpected status %d", status)
	}

	reader := csv.NewReader(strings.NewReader(string(body)))
	reader.Comma = ';'
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse CSV: %w", err)
	}

	var rows []series.RawRow
	for _, record := range records {
		if len(record) < 2 {
			continue
		}
		raw := strings.TrimSpace(record[1])
		value, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", "."), 64)
		if err != nil {
			continue
		}
		rows = append(rows, series.RawRow{
			Date:  strings.TrimSpace(record[0]),
			Code:  "br_anbima_" + name,
			Field: "close",
			Value: series.Float(value),
		})
	}

	if len(rows) == 0 {
		return nil, fmt.Errorf("no parsable rows in CSV")
	}

	return rows, nil
}
