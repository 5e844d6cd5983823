package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gosuda/timeproof/internal/domain"
)

type PackageRepo struct {
	pool *pgxpool.Pool
}

func NewPackageRepo(pool *pgxpool.Pool) *PackageRepo {
	return &PackageRepo{pool: pool}
}

type componentsRecord struct {
	DailyRecord     bool `json:"daily_record"`
	LaborCalendar   bool `json:"labor_calendar"`
	Policies        bool `json:"policies"`
	EmployeeSummary bool `json:"employee_summary"`
}

type referenceRecord struct {
	ExpedientNumber string `json:"expedient_number"`
	RequestDate     string `json:"request_date"`
	ContactPerson   string `json:"contact_person"`
}

const packageColumns = `id, company_id, period_start::text, period_end::text, components, itss_reference,
	manifest, manifest_hash, generated_at, created_at`

// Create writes the package row and its deliverables in one transaction.
func (r *PackageRepo) Create(ctx context.Context, p *domain.Package) error {
	components, err := json.Marshal(componentsRecord(p.Components))
	if err != nil {
		return fmt.Errorf("packageRepo.Create: marshal components: %w", err)
	}
	var reference []byte
	if p.Reference != nil {
		reference, err = json.Marshal(referenceRecord(*p.Reference))
		if err != nil {
			return fmt.Errorf("packageRepo.Create: marshal reference: %w", err)
		}
	}

	err = pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO export_packages (id, company_id, period_start, period_end, components, itss_reference,
			                              manifest, manifest_hash, generated_at, created_at)
			 VALUES ($1, $2, $3::text::date, $4::text::date, $5, $6, $7, $8, $9, $10)`,
			p.ID, p.CompanyID, p.PeriodStart, p.PeriodEnd, components, reference,
			p.Manifest, p.ManifestHash, p.GeneratedAt, p.CreatedAt,
		)
		if err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for i, d := range p.Deliverables {
			batch.Queue(
				`INSERT INTO export_deliverables (package_id, position, name, type, sha256, row_count, content)
				 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				p.ID, i, d.Name, d.Type, d.SHA256, d.Rows, d.Content,
			)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if isUniqueViolation(err) {
		return fmt.Errorf("packageRepo.Create: %w", domain.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("packageRepo.Create: %w", err)
	}

	return nil
}

func (r *PackageRepo) GetByID(ctx context.Context, companyID, id uuid.UUID) (*domain.Package, error) {
	p, err := scanPackage(r.pool.QueryRow(ctx,
		`SELECT `+packageColumns+` FROM export_packages WHERE company_id = $1 AND id = $2`,
		companyID, id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("packageRepo.GetByID: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("packageRepo.GetByID: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT name, type, sha256, row_count, content
		 FROM export_deliverables WHERE package_id = $1
		 ORDER BY position`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("packageRepo.GetByID: deliverables: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var d domain.Deliverable
		if err := rows.Scan(&d.Name, &d.Type, &d.SHA256, &d.Rows, &d.Content); err != nil {
			return nil, fmt.Errorf("packageRepo.GetByID: scan deliverable: %w", err)
		}
		p.Deliverables = append(p.Deliverables, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("packageRepo.GetByID: rows: %w", err)
	}

	return p, nil
}

// List returns package headers with deliverable descriptors but no content.
func (r *PackageRepo) List(ctx context.Context, companyID uuid.UUID, limit, offset int) ([]*domain.Package, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+packageColumns+` FROM export_packages
		 WHERE company_id = $1
		 ORDER BY created_at DESC, id
		 LIMIT $2 OFFSET $3`,
		companyID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("packageRepo.List: %w", err)
	}
	defer rows.Close()

	var (
		packages []*domain.Package
		ids      []uuid.UUID
		byID     = make(map[uuid.UUID]*domain.Package)
	)
	for rows.Next() {
		p, err := scanPackage(rows)
		if err != nil {
			return nil, fmt.Errorf("packageRepo.List: scan: %w", err)
		}
		packages = append(packages, p)
		ids = append(ids, p.ID)
		byID[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("packageRepo.List: rows: %w", err)
	}
	if len(ids) == 0 {
		return packages, nil
	}

	drows, err := r.pool.Query(ctx,
		`SELECT package_id, name, type, sha256, row_count
		 FROM export_deliverables WHERE package_id = ANY($1)
		 ORDER BY package_id, position`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("packageRepo.List: deliverables: %w", err)
	}
	defer drows.Close()

	for drows.Next() {
		var (
			pkgID uuid.UUID
			d     domain.Deliverable
		)
		if err := drows.Scan(&pkgID, &d.Name, &d.Type, &d.SHA256, &d.Rows); err != nil {
			return nil, fmt.Errorf("packageRepo.List: scan deliverable: %w", err)
		}
		if p, ok := byID[pkgID]; ok {
			p.Deliverables = append(p.Deliverables, d)
		}
	}
	if err := drows.Err(); err != nil {
		return nil, fmt.Errorf("packageRepo.List: deliverable rows: %w", err)
	}

	return packages, nil
}

func scanPackage(row pgx.Row) (*domain.Package, error) {
	var (
		p          domain.Package
		components []byte
		reference  []byte
	)
	if err := row.Scan(
		&p.ID, &p.CompanyID, &p.PeriodStart, &p.PeriodEnd, &components, &reference,
		&p.Manifest, &p.ManifestHash, &p.GeneratedAt, &p.CreatedAt,
	); err != nil {
		return nil, err
	}

	var c componentsRecord
	if err := json.Unmarshal(components, &c); err != nil {
		return nil, fmt.Errorf("unmarshal components: %w", err)
	}
	p.Components = domain.PackageComponents(c)

	if reference != nil {
		var ref referenceRecord
		if err := json.Unmarshal(reference, &ref); err != nil {
			return nil, fmt.Errorf("unmarshal reference: %w", err)
		}
		itss := domain.ITSSReference(ref)
		p.Reference = &itss
	}

	return &p, nil
}
