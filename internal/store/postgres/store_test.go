package postgres_test

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/gosuda/timeproof/internal/domain"
	"github.com/gosuda/timeproof/internal/store/postgres"
)

// setupStore starts PostgreSQL, applies the migrations and returns a Store.
func setupStore(t *testing.T) *postgres.Store {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("skipping integration test: TEST_INTEGRATION not set")
	}

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		tcpostgres.WithDatabase("timeproof_test"),
		tcpostgres.WithUsername("timeproof"),
		tcpostgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, postgres.Migrate(strings.Replace(dsn, "postgres://", "pgx5://", 1)))

	store, err := postgres.New(ctx, dsn, 4)
	require.NoError(t, err)
	t.Cleanup(store.Close)

	return store
}

type seed struct {
	company  uuid.UUID
	employee uuid.UUID
}

func seedCompany(t *testing.T, ctx context.Context, store *postgres.Store) seed {
	t.Helper()

	s := seed{company: uuid.New(), employee: uuid.New()}
	require.NoError(t, store.Exec(ctx,
		`INSERT INTO companies (id, name, tax_id, timezone) VALUES ($1, 'Acme SL', 'B12345678', 'Europe/Madrid')`,
		s.company))
	require.NoError(t, store.Exec(ctx,
		`INSERT INTO employees (id, company_id, code, first_name, last_name, hire_date)
		 VALUES ($1, $2, 'E001', 'Ana', 'García', '2024-03-01')`,
		s.employee, s.company))
	return s
}

func TestStore_Integration(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	t.Run("companies and events", func(t *testing.T) {
		s := seedCompany(t, ctx, store)
		at := time.Date(2026, 1, 12, 7, 0, 0, 0, time.UTC)
		for i, typ := range []domain.EventType{domain.EventClockIn, domain.EventClockOut} {
			require.NoError(t, store.Exec(ctx,
				`INSERT INTO time_events (id, company_id, employee_id, event_type, occurred_at, source)
				 VALUES ($1, $2, $3, $4, $5, 'terminal')`,
				uuid.New(), s.company, s.employee, string(typ), at.Add(time.Duration(i)*8*time.Hour)))
		}

		c, err := store.Companies().GetByID(ctx, s.company)
		require.NoError(t, err)
		assert.Equal(t, "B12345678", c.TaxID)

		events, err := store.TimeEvents().ListBetween(ctx, s.company, at, at.Add(8*time.Hour))
		require.NoError(t, err)
		require.Len(t, events, 1, "upper bound is exclusive")
		assert.Equal(t, domain.EventClockIn, events[0].EventType)

		employees, err := store.Employees().ListActive(ctx, s.company)
		require.NoError(t, err)
		require.Len(t, employees, 1)
		assert.Equal(t, "2024-03-01", employees[0].HireDate)

		_, err = store.Companies().GetByID(ctx, uuid.New())
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("daily root insert is idempotent", func(t *testing.T) {
		s := seedCompany(t, ctx, store)
		first := &domain.DailyRoot{
			ID: uuid.New(), CompanyID: s.company, Date: "2026-01-12",
			RootHash: strings.Repeat("a", 64), EventCount: 2, CreatedAt: time.Now(),
		}
		stored, created, err := store.DailyRoots().Insert(ctx, first)
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, "2026-01-12", stored.Date)

		second := *first
		second.ID = uuid.New()
		second.RootHash = strings.Repeat("b", 64)
		again, created, err := store.DailyRoots().Insert(ctx, &second)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.ID, again.ID)
		assert.Equal(t, first.RootHash, again.RootHash)

		roots, err := store.DailyRoots().ListBetween(ctx, s.company, "2026-01-01", "2026-01-31")
		require.NoError(t, err)
		assert.Len(t, roots, 1)
	})

	t.Run("case file external id is attached once", func(t *testing.T) {
		s := seedCompany(t, ctx, store)
		cf, err := store.CaseFiles().GetOrCreate(ctx, &domain.CaseFile{
			ID: uuid.New(), CompanyID: s.company, Name: "Registro Horario - Acme SL", CreatedAt: time.Now(),
		})
		require.NoError(t, err)

		again, err := store.CaseFiles().GetOrCreate(ctx, &domain.CaseFile{
			ID: uuid.New(), CompanyID: s.company, Name: "other", CreatedAt: time.Now(),
		})
		require.NoError(t, err)
		assert.Equal(t, cf.ID, again.ID)

		got, err := store.CaseFiles().AttachExternalID(ctx, cf.ID, "cf-1")
		require.NoError(t, err)
		assert.Equal(t, "cf-1", got.ExternalID)

		got, err = store.CaseFiles().AttachExternalID(ctx, cf.ID, "cf-2")
		require.NoError(t, err)
		assert.Equal(t, "cf-1", got.ExternalID)
	})

	t.Run("evidence transitions are guarded", func(t *testing.T) {
		s := seedCompany(t, ctx, store)
		cf, err := store.CaseFiles().GetOrCreate(ctx, &domain.CaseFile{ID: uuid.New(), CompanyID: s.company, Name: "cf", CreatedAt: time.Now()})
		require.NoError(t, err)
		g, err := store.EvidenceGroups().GetOrCreate(ctx, &domain.EvidenceGroup{
			ID: uuid.New(), CaseFileID: cf.ID, CompanyID: s.company, YearMonth: "2026-01", Name: "Fichajes 2026-01", CreatedAt: time.Now(),
		})
		require.NoError(t, err)

		now := time.Now()
		ev, created, err := store.Evidence().GetOrCreate(ctx, &domain.Evidence{
			ID: uuid.New(), CompanyID: s.company, GroupID: g.ID, Type: domain.EvidenceTypeDailyTimestamp,
			SubjectRef: "root-1", SubjectHash: strings.Repeat("c", 64), Status: domain.EvidenceStatusPending,
			CreatedAt: now, UpdatedAt: now,
		})
		require.NoError(t, err)
		assert.True(t, created)

		_, err = store.Evidence().MarkCompleted(ctx, s.company, ev.ID, domain.Completion{Token: "t", Timestamp: now, CompletedAt: now})
		require.ErrorIs(t, err, domain.ErrInvalidTransition)

		_, err = store.Evidence().MarkProcessing(ctx, s.company, ev.ID, domain.EvidenceStatusPending)
		require.NoError(t, err)

		failed, err := store.Evidence().MarkFailed(ctx, s.company, ev.ID, domain.Failure{Reason: "timeout", CountAttempt: true})
		require.NoError(t, err)
		assert.Equal(t, 1, failed.RetryCount)
		assert.Nil(t, failed.NextRetryAt)

		due, err := store.Evidence().ListRetryable(ctx, s.company, now, 10)
		require.NoError(t, err)
		assert.Len(t, due, 1)

		exhausted, err := store.Evidence().CountExhausted(ctx, s.company, 1)
		require.NoError(t, err)
		assert.Equal(t, 1, exhausted)

		_, err = store.Evidence().MarkProcessing(ctx, s.company, ev.ID, domain.EvidenceStatusFailed)
		require.NoError(t, err)
		done, err := store.Evidence().MarkCompleted(ctx, s.company, ev.ID, domain.Completion{Token: "tok", Timestamp: now, CompletedAt: now})
		require.NoError(t, err)
		assert.Equal(t, domain.EvidenceStatusCompleted, done.Status)
		assert.Equal(t, "tok", done.TSPToken)

		_, err = store.Evidence().MarkProcessing(ctx, s.company, ev.ID, domain.EvidenceStatusFailed, domain.EvidenceStatusCompleted)
		require.ErrorIs(t, err, domain.ErrInvalidTransition)
		require.ErrorIs(t, store.Evidence().ReplaceSubject(ctx, s.company, ev.ID, "x", "", ""), domain.ErrConflict)
		require.ErrorIs(t, store.Evidence().ReplaceSubject(ctx, s.company, uuid.New(), "x", "", ""), domain.ErrNotFound)

		bySubject, err := store.Evidence().ListBySubjects(ctx, s.company, []string{"root-1", "2026-01"})
		require.NoError(t, err)
		assert.Len(t, bySubject, 1)
	})

	t.Run("audit log is append-only", func(t *testing.T) {
		s := seedCompany(t, ctx, store)
		entry := &domain.AuditEntry{
			ID: uuid.New(), CompanyID: &s.company, Action: domain.AuditActionNotarize,
			Status: domain.AuditStatusSuccess, DurationMS: 120, Details: map[string]any{"op": "notarize"}, CreatedAt: time.Now(),
		}
		require.NoError(t, store.Audit().Record(ctx, entry))
		require.NoError(t, store.Audit().Record(ctx, &domain.AuditEntry{
			ID: uuid.New(), Action: domain.AuditActionHealthCheck, Status: domain.AuditStatusSuccess, CreatedAt: time.Now(),
		}))

		entries, err := store.Audit().ListByCompany(ctx, s.company, 10, 0)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "notarize", entries[0].Details["op"])

		err = store.Exec(ctx, `UPDATE qtsp_audit_log SET status = 'error' WHERE id = $1`, entry.ID)
		require.Error(t, err)
		err = store.Exec(ctx, `DELETE FROM qtsp_audit_log WHERE id = $1`, entry.ID)
		require.Error(t, err)
	})

	t.Run("package commit is atomic", func(t *testing.T) {
		s := seedCompany(t, ctx, store)
		pkg := &domain.Package{
			ID: uuid.New(), CompanyID: s.company, PeriodStart: "2026-01-01", PeriodEnd: "2026-01-31",
			Components:   domain.PackageComponents{DailyRecord: true},
			Reference:    &domain.ITSSReference{ExpedientNumber: "EXP-1", RequestDate: "2026-02-01"},
			Manifest:     []byte(`{"version":"1.0"}`),
			ManifestHash: strings.Repeat("d", 64),
			Deliverables: []domain.Deliverable{
				{Name: "daily_record.csv", Type: "csv", SHA256: "h1", Rows: 2, Content: []byte("a\nb\n")},
				{Name: "qtsp_evidence.json", Type: "json", SHA256: "h2", Rows: 0, Content: []byte("{}")},
			},
			GeneratedAt: time.Now().UTC().Truncate(time.Microsecond),
			CreatedAt:   time.Now(),
		}
		require.NoError(t, store.Packages().Create(ctx, pkg))

		got, err := store.Packages().GetByID(ctx, s.company, pkg.ID)
		require.NoError(t, err)
		assert.Equal(t, pkg.Manifest, got.Manifest)
		assert.Equal(t, pkg.Components, got.Components)
		assert.Equal(t, "EXP-1", got.Reference.ExpedientNumber)
		require.Len(t, got.Deliverables, 2)
		assert.Equal(t, "daily_record.csv", got.Deliverables[0].Name)
		assert.Equal(t, []byte("a\nb\n"), got.Deliverables[0].Content)

		require.ErrorIs(t, store.Packages().Create(ctx, pkg), domain.ErrConflict)

		// A duplicate deliverable name rolls back the whole package.
		broken := *pkg
		broken.ID = uuid.New()
		broken.Deliverables = []domain.Deliverable{pkg.Deliverables[0], pkg.Deliverables[0]}
		require.Error(t, store.Packages().Create(ctx, &broken))
		_, err = store.Packages().GetByID(ctx, s.company, broken.ID)
		require.ErrorIs(t, err, domain.ErrNotFound)

		list, err := store.Packages().List(ctx, s.company, 10, 0)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Len(t, list[0].Deliverables, 2)
		assert.Nil(t, list[0].Deliverables[0].Content)
	})
}
