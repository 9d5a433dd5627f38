package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sourcegraph/conc/iter"

	"github.com/Persevera-Asset-Management/PerseveraTools/config"
	"github.com/Persevera-Asset-Management/PerseveraTools/series"
	"github.com/Persevera-Asset-Management/PerseveraTools/utils"
)

// B3 fetches daily investor-participation snapshots from the B3 exchange
// file service. Each business day is an independent request; days are
// fanned out across a bounded worker pool and re-sorted afterwards, so
// no completion order is assumed.
type B3 struct {
	Base
	client       *retryablehttp.Client
	baseURL      string
	periods      int
	workers      int
	timeProvider utils.TimeProvider
}

var b3InvestorTypes = map[string]string{
	"Institucionais":           "institutional_investors",
	"Instituições Financeiras": "financial_institutions",
	"Investidor Estrangeiro":   "foreign_investors",
	"Investidores Individuais": "individual_investors",
	"Outros":                   "others",
}

var b3APIPaths = map[string]string{
	"investors_participation": "SharesInvesVolum",
}

func NewB3(cfg *config.Config, timeProvider utils.TimeProvider, logger *slog.Logger) (*B3, error) {
	base, err := NewBase(cfg.Providers.StartDate, logger)
	if err != nil {
		return nil, err
	}
	client := newRetryClient(cfg.Extract.Backoff, logger)
	// The B3 file service answers 500 for days without a snapshot, so a
	// 500 must reach the caller instead of being retried away.
	client.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if resp != nil && resp.StatusCode == http.StatusInternalServerError {
			return false, nil
		}
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	return &B3{
		Base:         base,
		client:       client,
		baseURL:      cfg.Providers.B3.BaseURL,
		periods:      cfg.Providers.B3.Periods,
		workers:      cfg.Providers.B3.Workers,
		timeProvider: timeProvider,
	}, nil
}

func (p *B3) Name() string { return "b3" }

// b3Fact is one intermediate (date, investor type, flow direction) cell
// before differencing.
type b3Fact struct {
	date  time.Time
	code  string
	field string
	value float64
}

type b3Response struct {
	Table struct {
		Values [][]any `json:"values"`
		Texts  []struct {
			TextPt string `json:"textPt"`
		} `json:"texts"`
	} `json:"table"`
}

func (p *B3) GetData(ctx context.Context, category string, params Params) ([]series.Observation, error) {
	p.logProcessing("B3 - " + category)

	if category == "b3" {
		category = "investors_participation"
	}
	apiPath, ok := b3APIPaths[category]
	if !ok {
		return nil, &RetrievalError{
			Source: "b3",
			Err:    fmt.Errorf("category %q not supported", category),
		}
	}

	periods := params.Int("periods", p.periods)
	days := utils.BusinessDayRange(p.timeProvider.Now(), periods)

	mapper := iter.Mapper[time.Time, []b3Fact]{MaxGoroutines: p.workers}
	results, err := mapper.MapErr(days, func(day *time.Time) ([]b3Fact, error) {
		return p.fetchDay(ctx, *day, apiPath)
	})
	if err != nil {
		return nil, &RetrievalError{Source: "b3", Err: err}
	}

	var facts []b3Fact
	for _, dayFacts := range results {
		facts = append(facts, dayFacts...)
	}
	if len(facts) == 0 {
		return nil, &RetrievalError{
			Source: "b3",
			Err:    fmt.Errorf("no data retrieved for category %q", category),
		}
	}

	flows := investorFlows(facts)

	rows := make([]series.RawRow, 0, len(flows))
	for _, f := range flows {
		rows = append(rows, series.RawRow{
			Date:  f.date.Format("2006-01-02"),
			Code:  fmt.Sprintf("br_b3_%s_%s", f.code, f.field),
			Field: "close",
			Value: series.Float(f.value),
		})
	}

	return p.Validate(series.NewRawTable(rows))
}

// fetchDay requests one day's snapshot. Days without data (the server
// answers 500 or an empty table) yield no facts and no error.
func (p *B3) fetchDay(ctx context.Context, day time.Time, apiPath string) ([]b3Fact, error) {
	dt := day.Format("2006-01-02")
	url := fmt.Sprintf("%s/bdi/table/%s/%s/%s/1/100", p.baseURL, apiPath, dt, dt)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader("{}"))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusInternalServerError {
		p.Logger.Info(fmt.Sprintf("No B3 data for %s (server returned 500)", dt))
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		p.Logger.Warn(fmt.Sprintf("HTTP error for %s: status %d", dt, resp.StatusCode))
		return nil, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var parsed b3Response
	if err := json.Unmarshal(body, &parsed); err != nil {
		p.Logger.Error(fmt.Sprintf("Failed to decode JSON for %s: %v", dt, err))
		return nil, nil
	}
	if len(parsed.Table.Values) == 0 {
		return nil, nil
	}

	// The snapshot states its own reference date in the second header
	// text, as the trailing dd/mm/yyyy.
	if len(parsed.Table.Texts) < 2 {
		p.Logger.Warn(fmt.Sprintf("Malformed B3 response for %s: missing header texts", dt))
		return nil, nil
	}
	text := parsed.Table.Texts[1].TextPt
	if len(text) < 10 {
		p.Logger.Warn(fmt.Sprintf("Malformed B3 reference date in %q", text))
		return nil, nil
	}
	dataDate, err := time.Parse("02/01/2006", text[len(text)-10:])
	if err != nil {
		p.Logger.Warn(fmt.Sprintf("Malformed B3 reference date in %q: %v", text, err))
		return nil, nil
	}

	p.Logger.Info(fmt.Sprintf("Successfully fetched B3 data for %s", dataDate.Format("2006-01-02")))

	// Row layout: investor type, purchases, purchases share, sales, sales share.
	var facts []b3Fact
	for _, row := range parsed.Table.Values {
		if len(row) < 5 {
			continue
		}
		investorType, ok := row[0].(string)
		if !ok {
			continue
		}
		if mapped, ok := b3InvestorTypes[investorType]; ok {
			investorType = mapped
		}
		if purchases, ok := b3Number(row[1]); ok {
			facts = append(facts, b3Fact{date: dataDate, code: investorType, field: "purchases", value: purchases})
		}
		if sales, ok := b3Number(row[3]); ok {
			facts = append(facts, b3Fact{date: dataDate, code: investorType, field: "sales", value: sales})
		}
	}

	return facts, nil
}

func b3Number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.ReplaceAll(n, ",", ""), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// investorFlows turns cumulative monthly volumes into daily changes and
// derives a net flow per investor type. The source accumulates within
// each calendar month, so the difference resets at month start: the
// first snapshot of a month keeps its absolute value. A zero volume is
// a gap, not a measurement: the day itself is not emitted and the day
// after it cannot be differenced, so it falls back to its absolute
// value. Differencing is only ever against the immediately preceding
// snapshot. The earliest day is dropped (it has no prior snapshot) and
// net is only emitted for days where both directions are present.
func investorFlows(facts []b3Fact) []b3Fact {
	groups := make(map[string][]b3Fact)
	minDate := facts[0].date
	for _, f := range facts {
		key := f.code + "\x00" + f.field
		groups[key] = append(groups[key], f)
		if f.date.Before(minDate) {
			minDate = f.date
		}
	}

	purchases := make(map[string]float64)
	sales := make(map[string]float64)
	var out []b3Fact

	for _, group := range groups {
		sort.Slice(group, func(i, j int) bool { return group[i].date.Before(group[j].date) })

		var prev *b3Fact
		for i := range group {
			f := group[i]
			value := f.value
			if prev != nil && prev.value != 0 && sameMonth(prev.date, f.date) {
				value = f.value - prev.value
			}
			prev = &group[i]

			if f.value == 0 || !f.date.After(minDate) {
				continue
			}

			out = append(out, b3Fact{date: f.date, code: f.code, field: f.field, value: value})
			dayKey := f.date.Format("2006-01-02") + "\x00" + f.code
			switch f.field {
			case "purchases":
				purchases[dayKey] = value
			case "sales":
				sales[dayKey] = value
			}
		}
	}

	for key, bought := range purchases {
		sold, ok := sales[key]
		if !ok {
			continue
		}
		date, _ := time.Parse("2006-01-02", key[:10])
		out = append(out, b3Fact{
			date:  date,
			code:  key[11:],
			field: "net",
			value: bought - sold,
		})
	}

	return out
}

func sameMonth(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month()
}
