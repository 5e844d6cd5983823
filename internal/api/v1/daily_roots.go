package v1

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/gosuda/timeproof/internal/domain"
)

const (
	OutcomeCreated  = "created"
	OutcomeExisting = "existing"
	OutcomeSkipped  = "skipped"
	OutcomeDeferred = "deferred"
)

type BuildDailyRootInput struct {
	Body struct {
		Date string `json:"date" pattern:"^\\d{4}-\\d{2}-\\d{2}$" doc:"Company-local day to seal (YYYY-MM-DD)"`
	}
}

type BuildDailyRootOutput struct {
	Body struct {
		Outcome string     `json:"outcome" enum:"created,existing,skipped,deferred" doc:"What the build did"`
		Root    *DailyRoot `json:"root,omitempty"`
	}
}

type ListDailyRootsInput struct {
	From string `query:"from" required:"true" doc:"First day (YYYY-MM-DD)"`
	To   string `query:"to" required:"true" doc:"Last day (YYYY-MM-DD)"`
}

type ListDailyRootsOutput struct {
	Body []*DailyRoot
}

type VerifyDailyRootInput struct {
	Date string `path:"date" doc:"Day to verify (YYYY-MM-DD)"`
}

type VerifyDailyRootOutput struct {
	Body struct {
		Valid bool       `json:"valid"`
		Root  *DailyRoot `json:"root"`
	}
}

func RegisterDailyRootRoutes(api huma.API, roots RootBuilder) {
	huma.Register(api, huma.Operation{
		OperationID: "build-daily-root",
		Method:      http.MethodPost,
		Path:        "/daily-roots",
		Summary:     "Build the daily root for a finalized day",
		Tags:        []string{"Daily Roots"},
	}, func(ctx context.Context, input *BuildDailyRootInput) (*BuildDailyRootOutput, error) {
		companyID, err := companyFrom(ctx)
		if err != nil {
			return nil, err
		}

		out := &BuildDailyRootOutput{}
		root, created, err := roots.Build(ctx, companyID, input.Body.Date)
		switch {
		case errors.Is(err, domain.ErrEmptyDay):
			out.Body.Outcome = OutcomeSkipped
			return out, nil
		case errors.Is(err, domain.ErrNotFinalized):
			out.Body.Outcome = OutcomeDeferred
			return out, nil
		case err != nil:
			return nil, toHTTPError(err, "failed to build daily root")
		}

		out.Body.Outcome = OutcomeExisting
		if created {
			out.Body.Outcome = OutcomeCreated
		}
		out.Body.Root = newDailyRoot(root)
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-daily-roots",
		Method:      http.MethodGet,
		Path:        "/daily-roots",
		Summary:     "List daily roots in a date range",
		Tags:        []string{"Daily Roots"},
	}, func(ctx context.Context, input *ListDailyRootsInput) (*ListDailyRootsOutput, error) {
		companyID, err := companyFrom(ctx)
		if err != nil {
			return nil, err
		}

		list, err := roots.List(ctx, companyID, input.From, input.To)
		if err != nil {
			return nil, toHTTPError(err, "failed to list daily roots")
		}

		out := make([]*DailyRoot, 0, len(list))
		for _, r := range list {
			out = append(out, newDailyRoot(r))
		}
		return &ListDailyRootsOutput{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "verify-daily-root",
		Method:      http.MethodPost,
		Path:        "/daily-roots/{date}/verify",
		Summary:     "Recompute a daily root from current events and compare",
		Tags:        []string{"Daily Roots"},
	}, func(ctx context.Context, input *VerifyDailyRootInput) (*VerifyDailyRootOutput, error) {
		companyID, err := companyFrom(ctx)
		if err != nil {
			return nil, err
		}

		root, err := roots.Verify(ctx, companyID, input.Date)
		if err != nil {
			return nil, toHTTPError(err, "failed to verify daily root")
		}

		out := &VerifyDailyRootOutput{}
		out.Body.Valid = true
		out.Body.Root = newDailyRoot(root)
		return out, nil
	})
}
