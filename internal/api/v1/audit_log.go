package v1

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

type ListAuditLogInput struct {
	Limit  int `query:"limit" minimum:"1" maximum:"500" default:"50"`
	Offset int `query:"offset" minimum:"0"`
}

type ListAuditLogOutput struct {
	Body []*AuditEntry
}

func RegisterAuditLogRoutes(api huma.API, audit AuditLog) {
	huma.Register(api, huma.Operation{
		OperationID: "list-audit-log",
		Method:      http.MethodGet,
		Path:        "/audit-log",
		Summary:     "List provider calls newest first",
		Tags:        []string{"Audit Log"},
	}, func(ctx context.Context, input *ListAuditLogInput) (*ListAuditLogOutput, error) {
		companyID, err := companyFrom(ctx)
		if err != nil {
			return nil, err
		}

		entries, err := audit.List(ctx, companyID, input.Limit, input.Offset)
		if err != nil {
			return nil, toHTTPError(err, "failed to list audit log")
		}
		return &ListAuditLogOutput{Body: newAuditEntries(entries)}, nil
	})
}
