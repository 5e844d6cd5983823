package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gosuda/timeproof/internal/domain"
)

type Store struct {
	pool        *pgxpool.Pool
	companies   *CompanyRepo
	events      *TimeEventRepo
	roots       *DailyRootRepo
	caseFiles   *CaseFileRepo
	groups      *EvidenceGroupRepo
	evidence    *EvidenceRepo
	audit       *AuditRepo
	packages    *PackageRepo
	employees   *EmployeeRepo
	calendars   *LaborCalendarRepo
	policies    *PolicyDocumentRepo
	corrections *CorrectionRepo
}

func New(ctx context.Context, dsn string, maxConns int32) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres.New: parse config: %w", err)
	}

	cfg.MaxConns = maxConns

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres.New: connect: %w", err)
	}

	err = pool.Ping(ctx)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres.New: ping: %w", err)
	}

	return NewWithPool(pool), nil
}

// NewWithPool wraps an existing pool. The caller keeps ownership of the pool
// unless it calls Close.
func NewWithPool(pool *pgxpool.Pool) *Store {
	return &Store{
		pool:        pool,
		companies:   NewCompanyRepo(pool),
		events:      NewTimeEventRepo(pool),
		roots:       NewDailyRootRepo(pool),
		caseFiles:   NewCaseFileRepo(pool),
		groups:      NewEvidenceGroupRepo(pool),
		evidence:    NewEvidenceRepo(pool),
		audit:       NewAuditRepo(pool),
		packages:    NewPackageRepo(pool),
		employees:   NewEmployeeRepo(pool),
		calendars:   NewLaborCalendarRepo(pool),
		policies:    NewPolicyDocumentRepo(pool),
		corrections: NewCorrectionRepo(pool),
	}
}

func (s *Store) Close() {
	s.pool.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Companies() domain.CompanyRepository            { return s.companies }
func (s *Store) TimeEvents() domain.TimeEventReader             { return s.events }
func (s *Store) DailyRoots() domain.DailyRootRepository         { return s.roots }
func (s *Store) CaseFiles() domain.CaseFileRepository           { return s.caseFiles }
func (s *Store) EvidenceGroups() domain.EvidenceGroupRepository { return s.groups }
func (s *Store) Evidence() domain.EvidenceRepository            { return s.evidence }
func (s *Store) Audit() domain.AuditRepository                  { return s.audit }
func (s *Store) Packages() domain.PackageRepository             { return s.packages }
func (s *Store) Employees() domain.EmployeeReader               { return s.employees }
func (s *Store) LaborCalendars() domain.LaborCalendarReader     { return s.calendars }
func (s *Store) PolicyDocuments() domain.PolicyDocumentReader   { return s.policies }
func (s *Store) Corrections() domain.CorrectionReader           { return s.corrections }

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}
