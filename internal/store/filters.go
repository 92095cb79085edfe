package store

import (
	"context"
	"fmt"

	"github.com/fluxtv/ingestd/internal/domain"
)

// FiltersForSource returns the source's filters in evaluation order.
func (s *Store) FiltersForSource(ctx context.Context, sourceID int64) ([]domain.Filter, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_id, type, pattern, exclude, case_sensitive, ord
		FROM filters WHERE source_id = ? ORDER BY ord, id`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("store: filters for source: %w", err)
	}
	defer rows.Close()
	var out []domain.Filter
	for rows.Next() {
		var (
			f             domain.Filter
			typ           string
			exclude       int
			caseSensitive int
		)
		if err := rows.Scan(&f.ID, &f.SourceID, &typ, &f.Pattern, &exclude, &caseSensitive, &f.Order); err != nil {
			return nil, err
		}
		f.Type = domain.FilterType(typ)
		f.Exclude = exclude != 0
		f.CaseSensitive = caseSensitive != 0
		out = append(out, f)
	}
	return out, rows.Err()
}

// CreateFilter inserts a filter and assigns its id.
func (s *Store) CreateFilter(ctx context.Context, f *domain.Filter) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO filters (source_id, type, pattern, exclude, case_sensitive, ord)
		VALUES (?,?,?,?,?,?)`,
		f.SourceID, string(f.Type), f.Pattern, boolInt(f.Exclude), boolInt(f.CaseSensitive), f.Order)
	if err != nil {
		return fmt.Errorf("store: create filter: %w", err)
	}
	f.ID, err = res.LastInsertId()
	return err
}
