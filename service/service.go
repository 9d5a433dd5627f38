package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/Persevera-Asset-Management/PerseveraTools/config"
	"github.com/Persevera-Asset-Management/PerseveraTools/load"
	"github.com/Persevera-Asset-Management/PerseveraTools/lookup"
	"github.com/Persevera-Asset-Management/PerseveraTools/provider"
	"github.com/Persevera-Asset-Management/PerseveraTools/series"
	"github.com/Persevera-Asset-Management/PerseveraTools/utils"
)

const (
	defaultRetryAttempts = 3
	defaultRetryWait     = 2 * time.Second
	indicatorsTable      = "indicadores"
	fundsTable           = "fundos_cvm"
)

var indicatorKeys = []string{"code", "date", "field"}
var fundKeys = []string{"fund_cnpj", "date"}

type registration struct {
	provider     provider.Provider
	defaultTable string
}

// FinancialDataService is the single entry point for retrieving and
// persisting financial data. Providers are looked up by source name;
// retrieval is retried with exponential backoff, persistence is not.
type FinancialDataService struct {
	logger    *slog.Logger
	db        *load.DB
	cvm       *provider.CVM
	providers map[string]registration
	retryWait time.Duration
}

// Options controls a single GetData call. The zero value fetches with
// default retries, persists to the provider's default table, and passes
// no provider parameters.
type Options struct {
	// SkipSave fetches without writing to the database.
	SkipSave      bool
	RetryAttempts int
	TableName     string
	Params        provider.Params
}

func New(cfg *config.Config, db *load.DB, logger *slog.Logger) (*FinancialDataService, error) {
	codes := lookup.NewStore(db, logger)

	sgs, err := provider.NewSGS(cfg, codes, logger)
	if err != nil {
		return nil, err
	}
	sidra, err := provider.NewSidra(cfg, codes, logger)
	if err != nil {
		return nil, err
	}
	b3, err := provider.NewB3(cfg, utils.RealTimeProvider{}, logger)
	if err != nil {
		return nil, err
	}
	anbima, err := provider.NewAnbima(cfg, logger)
	if err != nil {
		return nil, err
	}
	cvm, err := provider.NewCVM(cfg, logger)
	if err != nil {
		return nil, err
	}

	providers := map[string]registration{
		"sgs":    {provider: sgs, defaultTable: indicatorsTable},
		"sidra":  {provider: sidra, defaultTable: indicatorsTable},
		"b3":     {provider: b3, defaultTable: indicatorsTable},
		"anbima": {provider: anbima, defaultTable: indicatorsTable},
	}

	if cfg.Providers.Fred.APIKey != "" {
		fred, err := provider.NewFred(cfg, codes, logger)
		if err != nil {
			return nil, err
		}
		providers["fred"] = registration{provider: fred, defaultTable: indicatorsTable}
	} else {
		logger.Warn("FRED API key not configured; FRED source disabled")
	}

	return &FinancialDataService{
		logger:    logger,
		db:        db,
		cvm:       cvm,
		providers: providers,
		retryWait: defaultRetryWait,
	}, nil
}

// Sources lists the registered source names, sorted.
func (s *FinancialDataService) Sources() []string {
	names := make([]string, 0, len(s.providers))
	for name := range s.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetData fetches observations from one source and, unless opted out,
// upserts them. Retrieval failures are retried with exponential backoff;
// a persistence failure is returned immediately since repeating the
// fetch cannot fix the sink. An empty result after successful retrieval
// is returned as-is without touching the database.
func (s *FinancialDataService) GetData(ctx context.Context, source string, opts Options) ([]series.Observation, error) {
	reg, ok := s.providers[source]
	if !ok {
		return nil, fmt.Errorf("unknown data source %q (available: %v)", source, s.Sources())
	}

	attempts := opts.RetryAttempts
	if attempts <= 0 {
		attempts = defaultRetryAttempts
	}
	table := opts.TableName
	if table == "" {
		table = reg.defaultTable
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			wait := s.retryWait << (attempt - 2)
			s.logger.Warn(fmt.Sprintf("Retrying %s in %s (attempt %d/%d): %v", source, wait, attempt, attempts, lastErr))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		obs, err := reg.provider.GetData(ctx, source, opts.Params)
		if err != nil {
			lastErr = err
			continue
		}

		if len(obs) == 0 || opts.SkipSave {
			return obs, nil
		}

		if err := s.saveObservations(ctx, obs, table); err != nil {
			return obs, err
		}
		return obs, nil
	}

	return nil, fmt.Errorf("failed to retrieve data from %s after %d attempts: last error: %w", source, attempts, lastErr)
}

func (s *FinancialDataService) saveObservations(ctx context.Context, obs []series.Observation, table string) error {
	if err := s.db.EnsureIndicatorsTable(ctx, table); err != nil {
		return err
	}
	return s.db.ToSQL(ctx, load.ObservationRecords(obs), table, indicatorKeys, true, 0)
}

// FundOptions controls a GetFundData call.
type FundOptions struct {
	SkipSave      bool
	RetryAttempts int
	TableName     string
	EndDate       string
	CNPJs         []string
}

// GetFundData fetches CVM fund filings and upserts them keyed by
// (fund_cnpj, date). Retry semantics match GetData.
func (s *FinancialDataService) GetFundData(ctx context.Context, opts FundOptions) ([]series.FundRecord, error) {
	attempts := opts.RetryAttempts
	if attempts <= 0 {
		attempts = defaultRetryAttempts
	}
	table := opts.TableName
	if table == "" {
		table = fundsTable
	}
	endDate := opts.EndDate
	if endDate == "" {
		endDate = time.Now().UTC().Format("2006-01-02")
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			wait := s.retryWait << (attempt - 2)
			s.logger.Warn(fmt.Sprintf("Retrying cvm in %s (attempt %d/%d): %v", wait, attempt, attempts, lastErr))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		funds, err := s.cvm.GetFunds(ctx, endDate, opts.CNPJs)
		if err != nil {
			lastErr = err
			continue
		}

		if len(funds) == 0 || opts.SkipSave {
			return funds, nil
		}

		if err := s.db.EnsureFundsTable(ctx, table); err != nil {
			return funds, err
		}
		if err := s.db.ToSQL(ctx, load.FundRecords(funds), table, fundKeys, true, 0); err != nil {
			return funds, err
		}
		return funds, nil
	}

	return nil, fmt.Errorf("failed to retrieve data from cvm after %d attempts: last error: %w", attempts, lastErr)
}
