package lookup

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Persevera-Asset-Management/PerseveraTools/load"
)

// Store resolves provider-native series identifiers to canonical codes
// via the indicator definitions table.
type Store struct {
	db     *load.DB
	logger *slog.Logger
}

func NewStore(db *load.DB, logger *slog.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Codes returns the raw-code-to-canonical-code mapping for one source.
func (s *Store) Codes(ctx context.Context, source string) (map[string]string, error) {
	frame, err := s.db.ReadSQL(ctx,
		"SELECT raw_code, code FROM indicadores_definicoes WHERE source = ?", source)
	if err != nil {
		return nil, fmt.Errorf("failed to look up codes for source %s: %w", source, err)
	}
	if frame.Empty() {
		return nil, fmt.Errorf("no codes defined for source %s", source)
	}

	codes := make(map[string]string, len(frame.Rows))
	rawIdx := frame.ColumnIndex("raw_code")
	codeIdx := frame.ColumnIndex("code")
	for _, row := range frame.Rows {
		raw, okRaw := row[rawIdx].(string)
		code, okCode := row[codeIdx].(string)
		if !okRaw || !okCode {
			continue
		}
		codes[raw] = code
	}

	s.logger.Debug(fmt.Sprintf("Loaded %d code definitions for source %s", len(codes), source))
	return codes, nil
}
