package postgres

import "context"

// Exec runs raw SQL against the pool for seeding collaborator tables.
func (s *Store) Exec(ctx context.Context, sql string, args ...any) error {
	_, err := s.pool.Exec(ctx, sql, args...)
	return err
}
