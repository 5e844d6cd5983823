package v1

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/gosuda/timeproof/internal/domain"
	"github.com/gosuda/timeproof/internal/evidence"
)

type SubmitEvidenceInput struct {
	Body struct {
		DailyRootID uuid.UUID `json:"daily_root_id" doc:"Daily root to notarize"`
	}
}

type EvidenceOutput struct {
	Body *Evidence
}

type ListEvidenceInput struct {
	Status string `query:"status" enum:"pending,processing,completed,failed" doc:"Filter by status"`
	Limit  int    `query:"limit" minimum:"1" maximum:"500" default:"100"`
	Offset int    `query:"offset" minimum:"0"`
}

type ListEvidenceOutput struct {
	Body []*Evidence
}

type EvidenceIDInput struct {
	ID uuid.UUID `path:"id" doc:"Evidence ID"`
}

type RetryFailedOutput struct {
	Body struct {
		Succeeded int `json:"succeeded"`
		Failed    int `json:"failed"`
		Pending   int `json:"pending"`
		Exhausted int `json:"exhausted" doc:"Failed evidence past the retry limit, left for manual intervention"`
	}
}

type CheckPendingOutput struct {
	Body struct {
		Checked   int `json:"checked"`
		Completed int `json:"completed"`
		Failed    int `json:"failed"`
	}
}

type SealReportInput struct {
	Body struct {
		ReportMonth string `json:"report_month" pattern:"^\\d{4}-\\d{2}$" doc:"Month the report covers (YYYY-MM)"`
		FileName    string `json:"file_name" minLength:"1" maxLength:"255" doc:"Original file name"`
		PDF         []byte `json:"pdf" minLength:"1" doc:"Base64-encoded PDF document"`
	}
}

type EvidenceAuditOutput struct {
	Body []*AuditEntry
}

func RegisterEvidenceRoutes(api huma.API, notarizer Notarizer, audit AuditLog) {
	huma.Register(api, huma.Operation{
		OperationID: "submit-evidence",
		Method:      http.MethodPost,
		Path:        "/evidence",
		Summary:     "Notarize a daily root",
		Tags:        []string{"Evidence"},
	}, func(ctx context.Context, input *SubmitEvidenceInput) (*EvidenceOutput, error) {
		companyID, err := companyFrom(ctx)
		if err != nil {
			return nil, err
		}

		ev, err := notarizer.SubmitDailyRoot(ctx, companyID, input.Body.DailyRootID)
		if err != nil {
			return nil, toHTTPError(err, "failed to submit evidence")
		}
		return &EvidenceOutput{Body: newEvidence(ev)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-evidence",
		Method:      http.MethodGet,
		Path:        "/evidence",
		Summary:     "List evidence",
		Tags:        []string{"Evidence"},
	}, func(ctx context.Context, input *ListEvidenceInput) (*ListEvidenceOutput, error) {
		companyID, err := companyFrom(ctx)
		if err != nil {
			return nil, err
		}

		list, err := notarizer.List(ctx, companyID, domain.EvidenceStatus(input.Status), input.Limit, input.Offset)
		if err != nil {
			return nil, toHTTPError(err, "failed to list evidence")
		}
		return &ListEvidenceOutput{Body: newEvidenceList(list)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-evidence",
		Method:      http.MethodGet,
		Path:        "/evidence/{id}",
		Summary:     "Get evidence by ID",
		Tags:        []string{"Evidence"},
	}, func(ctx context.Context, input *EvidenceIDInput) (*EvidenceOutput, error) {
		companyID, err := companyFrom(ctx)
		if err != nil {
			return nil, err
		}

		ev, err := notarizer.Get(ctx, companyID, input.ID)
		if err != nil {
			return nil, toHTTPError(err, "evidence")
		}
		return &EvidenceOutput{Body: newEvidence(ev)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-evidence-audit-log",
		Method:      http.MethodGet,
		Path:        "/evidence/{id}/audit-log",
		Summary:     "List provider calls made for one evidence",
		Tags:        []string{"Evidence", "Audit Log"},
	}, func(ctx context.Context, input *EvidenceIDInput) (*EvidenceAuditOutput, error) {
		companyID, err := companyFrom(ctx)
		if err != nil {
			return nil, err
		}

		if _, err := notarizer.Get(ctx, companyID, input.ID); err != nil {
			return nil, toHTTPError(err, "evidence")
		}
		entries, err := audit.ListByEvidence(ctx, companyID, input.ID)
		if err != nil {
			return nil, toHTTPError(err, "failed to list audit entries")
		}
		return &EvidenceAuditOutput{Body: newAuditEntries(entries)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "retry-evidence",
		Method:      http.MethodPost,
		Path:        "/evidence/{id}/retry",
		Summary:     "Retry one evidence",
		Description: "Completed evidence is returned unchanged.",
		Tags:        []string{"Evidence"},
	}, func(ctx context.Context, input *EvidenceIDInput) (*EvidenceOutput, error) {
		companyID, err := companyFrom(ctx)
		if err != nil {
			return nil, err
		}

		ev, err := notarizer.Retry(ctx, companyID, input.ID)
		if err != nil {
			return nil, toHTTPError(err, "failed to retry evidence")
		}
		return &EvidenceOutput{Body: newEvidence(ev)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "retry-failed-evidence",
		Method:      http.MethodPost,
		Path:        "/evidence/retry",
		Summary:     "Retry every failed evidence that is due",
		Tags:        []string{"Evidence"},
	}, func(ctx context.Context, _ *struct{}) (*RetryFailedOutput, error) {
		companyID, err := companyFrom(ctx)
		if err != nil {
			return nil, err
		}

		report, err := notarizer.RetryFailed(ctx, companyID)
		if err != nil {
			return nil, toHTTPError(err, "failed to retry evidence")
		}
		return newRetryFailedOutput(report), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "check-pending-evidence",
		Method:      http.MethodPost,
		Path:        "/evidence/check-pending",
		Summary:     "Poll the provider for evidence stuck in processing",
		Tags:        []string{"Evidence"},
	}, func(ctx context.Context, _ *struct{}) (*CheckPendingOutput, error) {
		companyID, err := companyFrom(ctx)
		if err != nil {
			return nil, err
		}

		report, err := notarizer.CheckPending(ctx, companyID)
		if err != nil {
			return nil, toHTTPError(err, "failed to check pending evidence")
		}
		return newCheckPendingOutput(report), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "seal-report",
		Method:      http.MethodPost,
		Path:        "/evidence/seal",
		Summary:     "Seal a monthly report PDF with a qualified signature",
		Tags:        []string{"Evidence"},
	}, func(ctx context.Context, input *SealReportInput) (*EvidenceOutput, error) {
		companyID, err := companyFrom(ctx)
		if err != nil {
			return nil, err
		}

		ev, err := notarizer.SealPDF(ctx, companyID, input.Body.PDF, input.Body.ReportMonth, input.Body.FileName)
		if err != nil {
			return nil, toHTTPError(err, "failed to seal report")
		}
		return &EvidenceOutput{Body: newEvidence(ev)}, nil
	})
}

func newRetryFailedOutput(r evidence.RetryReport) *RetryFailedOutput {
	out := &RetryFailedOutput{}
	out.Body.Succeeded = r.Succeeded
	out.Body.Failed = r.Failed
	out.Body.Pending = r.Pending
	out.Body.Exhausted = r.Exhausted
	return out
}

func newCheckPendingOutput(r evidence.CheckReport) *CheckPendingOutput {
	out := &CheckPendingOutput{}
	out.Body.Checked = r.Checked
	out.Body.Completed = r.Completed
	out.Body.Failed = r.Failed
	return out
}
