package provider

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/text/encoding/charmap"

	"github.com/Persevera-Asset-Management/PerseveraTools/config"
	"github.com/Persevera-Asset-Management/PerseveraTools/series"
)

// CVM downloads the monthly "informe diário" fund filings published by
// the Brazilian securities regulator. Each month is a zip archive with a
// single semicolon-separated, latin-1 encoded CSV inside.
type CVM struct {
	Base
	client    *retryablehttp.Client
	baseURL   string
	startDate time.Time
}

func NewCVM(cfg *config.Config, logger *slog.Logger) (*CVM, error) {
	base, err := NewBase(cfg.Providers.StartDate, logger)
	if err != nil {
		return nil, err
	}
	start, err := time.Parse("2006-01-02", cfg.Providers.CVM.StartDate)
	if err != nil {
		return nil, &ConfigError{Field: "providers.cvm.start_date", Err: err}
	}
	return &CVM{
		Base:      base,
		client:    newRetryClient(cfg.Extract.Backoff, logger),
		baseURL:   cfg.Providers.CVM.BaseURL,
		startDate: start,
	}, nil
}

func (p *CVM) Name() string { return "cvm" }

// cvmColumns maps logical fields to the header names used by the
// regulator. Filings switched header vocabulary in late 2024; the
// fallback names cover the newer files.
var cvmColumns = map[string][2]string{
	"fund_type":    {"TP_FUNDO", "TP_FUNDO_CLASSE"},
	"cnpj":         {"CNPJ_FUNDO", "CNPJ_FUNDO_CLASSE"},
	"date":         {"DT_COMPTC", "DT_COMPTC"},
	"nav":          {"VL_QUOTA", "VL_QUOTA"},
	"total_equity": {"VL_PATRIM_LIQ", "VL_PATRIM_LIQ"},
	"total_value":  {"VL_TOTAL", "VL_TOTAL"},
	"inflows":      {"CAPTC_DIA", "CAPTC_DIA"},
	"outflows":     {"RESG_DIA", "RESG_DIA"},
	"holders":      {"NR_COTST", "NR_COTST"},
}

// GetFunds downloads filings month by month from the configured start
// date up to endDate. An empty cnpjs list means no filter: every fund in
// the filings is returned. A failing month (not yet published, garbled
// archive, malformed rows) is skipped with a warning; only zero usable
// months overall is an error. Duplicate (cnpj, date) filings keep the
// one with the highest total equity, matching how the regulator amends
// reports.
func (p *CVM) GetFunds(ctx context.Context, endDate string, cnpjs []string) ([]series.FundRecord, error) {
	p.logProcessing("CVM fund filings")

	end, err := time.Parse("2006-01-02", endDate)
	if err != nil {
		return nil, &ValidationError{Reason: fmt.Sprintf("invalid end date %q", endDate), Err: err}
	}

	var wanted map[string]bool
	if len(cnpjs) > 0 {
		wanted = make(map[string]bool, len(cnpjs))
		for _, cnpj := range cnpjs {
			wanted[normalizeCNPJ(cnpj)] = true
		}
	}

	var records []series.FundRecord
	month := time.Date(p.startDate.Year(), p.startDate.Month(), 1, 0, 0, 0, 0, time.UTC)
	endMonth := time.Date(end.Year(), end.Month(), 1, 0, 0, 0, 0, time.UTC)
	for !month.After(endMonth) {
		monthRecords, err := p.fetchMonth(ctx, month, wanted)
		if err != nil {
			p.Logger.Warn(fmt.Sprintf("Skipping CVM filings for %s: %v", month.Format("2006-01"), err))
			month = month.AddDate(0, 1, 0)
			continue
		}
		records = append(records, monthRecords...)
		month = month.AddDate(0, 1, 0)
	}

	if len(records) == 0 {
		return nil, &RetrievalError{
			Source: "cvm",
			Err:    fmt.Errorf("no filings found for the requested funds"),
		}
	}

	records = dedupeFundRecords(records)

	p.Logger.Info(fmt.Sprintf("Retrieved %d fund records", len(records)))
	return records, nil
}

func (p *CVM) fetchMonth(ctx context.Context, month time.Time, wanted map[string]bool) ([]series.FundRecord, error) {
	url := fmt.Sprintf("%s/DOC/INF_DIARIO/DADOS/inf_diario_fi_%s.zip", p.baseURL, month.Format("200601"))

	body, status, err := fetchBytes(ctx, p.client, url)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", url, err)
	}
	if status == 404 {
		p.Logger.Warn(fmt.Sprintf("No CVM filing published for %s yet", month.Format("2006-01")))
		return nil, nil
	}
	if status != 200 {
		return nil, fmt.Errorf("unexpected status %d for %s", status, url)
	}

	csvBody, err := unzipSingleFile(body)
	if err != nil {
		return nil, fmt.Errorf("failed to extract %s: %w", url, err)
	}

	return p.parseFilings(csvBody, wanted)
}

// unzipSingleFile extracts the first file entry of an in-memory zip
// archive.
func unzipSingleFile(data []byte) ([]byte, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open zip archive: %w", err)
	}
	if len(reader.File) == 0 {
		return nil, fmt.Errorf("zip archive is empty")
	}
	f, err := reader.File[0].Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", reader.File[0].Name, err)
	}
	defer f.Close()
	return io.ReadAll(f)
}

func (p *CVM) parseFilings(body []byte, wanted map[string]bool) ([]series.FundRecord, error) {
	decoded := charmap.ISO8859_1.NewDecoder().Reader(bytes.NewReader(body))
	reader := csv.NewReader(decoded)
	reader.Comma = ';'
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	idx, err := cvmColumnIndexes(header)
	if err != nil {
		return nil, err
	}
	minColumns := 0
	for _, i := range idx {
		if i+1 > minColumns {
			minColumns = i + 1
		}
	}

	var records []series.FundRecord
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV row: %w", err)
		}
		if len(row) < minColumns {
			return nil, fmt.Errorf("malformed row with %d columns, need %d", len(row), minColumns)
		}

		cnpj := normalizeCNPJ(row[idx["cnpj"]])
		if wanted != nil && !wanted[cnpj] {
			continue
		}

		date, err := time.Parse("2006-01-02", row[idx["date"]])
		if err != nil {
			return nil, fmt.Errorf("invalid filing date %q: %w", row[idx["date"]], err)
		}

		records = append(records, series.FundRecord{
			CNPJ:        cnpj,
			Date:        date,
			NAV:         cvmFloat(row[idx["nav"]]),
			TotalEquity: cvmFloat(row[idx["total_equity"]]),
			TotalValue:  cvmFloat(row[idx["total_value"]]),
			Inflows:     cvmFloat(row[idx["inflows"]]),
			Outflows:    cvmFloat(row[idx["outflows"]]),
			Holders:     cvmFloat(row[idx["holders"]]),
		})
	}

	return records, nil
}

func cvmColumnIndexes(header []string) (map[string]int, error) {
	position := make(map[string]int, len(header))
	for i, name := range header {
		position[strings.TrimSpace(name)] = i
	}

	idx := make(map[string]int, len(cvmColumns))
	for field, names := range cvmColumns {
		if i, ok := position[names[0]]; ok {
			idx[field] = i
			continue
		}
		if i, ok := position[names[1]]; ok {
			idx[field] = i
			continue
		}
		return nil, fmt.Errorf("CSV is missing column %s", names[0])
	}
	return idx, nil
}

func cvmFloat(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

func normalizeCNPJ(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// dedupeFundRecords keeps one record per (cnpj, date), preferring the
// filing with the highest total equity.
func dedupeFundRecords(records []series.FundRecord) []series.FundRecord {
	sort.Slice(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.CNPJ != b.CNPJ {
			return a.CNPJ < b.CNPJ
		}
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		return fundEquity(a) < fundEquity(b)
	})

	out := records[:0]
	for i, r := range records {
		if i+1 < len(records) && records[i+1].CNPJ == r.CNPJ && records[i+1].Date.Equal(r.Date) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func fundEquity(r series.FundRecord) float64 {
	if math.IsNaN(r.TotalEquity) {
		return math.Inf(-1)
	}
	return r.TotalEquity
}
