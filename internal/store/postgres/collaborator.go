package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gosuda/timeproof/internal/domain"
)

// Readers over tables the surrounding platform owns.

type EmployeeRepo struct {
	pool *pgxpool.Pool
}

func NewEmployeeRepo(pool *pgxpool.Pool) *EmployeeRepo {
	return &EmployeeRepo{pool: pool}
}

func (r *EmployeeRepo) ListActive(ctx context.Context, companyID uuid.UUID) ([]*domain.Employee, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, company_id, code, first_name, last_name, department, position, COALESCE(hire_date::text, '')
		 FROM employees WHERE company_id = $1 AND active
		 ORDER BY code, id`,
		companyID,
	)
	if err != nil {
		return nil, fmt.Errorf("employeeRepo.ListActive: %w", err)
	}
	defer rows.Close()

	var employees []*domain.Employee
	for rows.Next() {
		var e domain.Employee
		if err := rows.Scan(&e.ID, &e.CompanyID, &e.Code, &e.FirstName, &e.LastName, &e.Department, &e.Position, &e.HireDate); err != nil {
			return nil, fmt.Errorf("employeeRepo.ListActive: scan: %w", err)
		}
		employees = append(employees, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("employeeRepo.ListActive: rows: %w", err)
	}

	return employees, nil
}

type LaborCalendarRepo struct {
	pool *pgxpool.Pool
}

func NewLaborCalendarRepo(pool *pgxpool.Pool) *LaborCalendarRepo {
	return &LaborCalendarRepo{pool: pool}
}

// ListByYears returns the calendars for fromYear..toYear with their holidays
// in date order.
func (r *LaborCalendarRepo) ListByYears(ctx context.Context, companyID uuid.UUID, fromYear, toYear int) ([]*domain.LaborCalendar, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT c.id, c.year, c.name, h.holiday_date::text, h.name, h.kind
		 FROM labor_calendars c
		 LEFT JOIN holidays h ON h.calendar_id = c.id
		 WHERE c.company_id = $1 AND c.year BETWEEN $2 AND $3
		 ORDER BY c.year, c.name, c.id, h.holiday_date`,
		companyID, fromYear, toYear,
	)
	if err != nil {
		return nil, fmt.Errorf("laborCalendarRepo.ListByYears: %w", err)
	}
	defer rows.Close()

	var (
		calendars []*domain.LaborCalendar
		current   *domain.LaborCalendar
		currentID uuid.UUID
	)
	for rows.Next() {
		var (
			id                  uuid.UUID
			year                int
			name                string
			hDate, hName, hKind *string
		)
		if err := rows.Scan(&id, &year, &name, &hDate, &hName, &hKind); err != nil {
			return nil, fmt.Errorf("laborCalendarRepo.ListByYears: scan: %w", err)
		}
		if current == nil || id != currentID {
			current = &domain.LaborCalendar{Year: year, Name: name}
			currentID = id
			calendars = append(calendars, current)
		}
		if hDate != nil {
			current.Holidays = append(current.Holidays, domain.Holiday{Date: *hDate, Name: *hName, Kind: *hKind})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("laborCalendarRepo.ListByYears: rows: %w", err)
	}

	return calendars, nil
}

type PolicyDocumentRepo struct {
	pool *pgxpool.Pool
}

func NewPolicyDocumentRepo(pool *pgxpool.Pool) *PolicyDocumentRepo {
	return &PolicyDocumentRepo{pool: pool}
}

func (r *PolicyDocumentRepo) ListPublished(ctx context.Context, companyID uuid.UUID) ([]*domain.PolicyDocument, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT code, name, content_markdown
		 FROM policy_documents WHERE company_id = $1 AND published
		 ORDER BY code`,
		companyID,
	)
	if err != nil {
		return nil, fmt.Errorf("policyDocumentRepo.ListPublished: %w", err)
	}
	defer rows.Close()

	var docs []*domain.PolicyDocument
	for rows.Next() {
		var d domain.PolicyDocument
		if err := rows.Scan(&d.Code, &d.Name, &d.ContentMarkdown); err != nil {
			return nil, fmt.Errorf("policyDocumentRepo.ListPublished: scan: %w", err)
		}
		docs = append(docs, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("policyDocumentRepo.ListPublished: rows: %w", err)
	}

	return docs, nil
}

type CorrectionRepo struct {
	pool *pgxpool.Pool
}

func NewCorrectionRepo(pool *pgxpool.Pool) *CorrectionRepo {
	return &CorrectionRepo{pool: pool}
}

// ListBetween returns corrections for work dates from..to inclusive.
func (r *CorrectionRepo) ListBetween(ctx context.Context, companyID uuid.UUID, from, to string) ([]*domain.Correction, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, employee_id, work_date::text, reason, status, created_at
		 FROM corrections
		 WHERE company_id = $1 AND work_date BETWEEN $2::text::date AND $3::text::date
		 ORDER BY work_date, created_at`,
		companyID, from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("correctionRepo.ListBetween: %w", err)
	}
	defer rows.Close()

	var corrections []*domain.Correction
	for rows.Next() {
		var c domain.Correction
		if err := rows.Scan(&c.ID, &c.EmployeeID, &c.Date, &c.Reason, &c.Status, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("correctionRepo.ListBetween: scan: %w", err)
		}
		corrections = append(corrections, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("correctionRepo.ListBetween: rows: %w", err)
	}

	return corrections, nil
}
