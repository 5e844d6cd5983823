package v1

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/gosuda/timeproof/internal/domain"
	"github.com/gosuda/timeproof/internal/export"
)

type CreatePackageInput struct {
	Body struct {
		From          string         `json:"from" pattern:"^\\d{4}-\\d{2}-\\d{2}$" doc:"First day of the period (YYYY-MM-DD)"`
		To            string         `json:"to" pattern:"^\\d{4}-\\d{2}-\\d{2}$" doc:"Last day of the period (YYYY-MM-DD)"`
		Components    Components     `json:"components"`
		ITSSReference *ITSSReference `json:"itss_reference,omitempty"`
		DryRun        bool           `json:"dry_run,omitempty" doc:"Return the manifest and pre-checks without storing anything"`
	}
}

type CreatePackageOutput struct {
	Body *ExportResult
}

type ListPackagesInput struct {
	Limit  int `query:"limit" minimum:"1" maximum:"200" default:"50"`
	Offset int `query:"offset" minimum:"0"`
}

type ListPackagesOutput struct {
	Body []*Package
}

type PackageIDInput struct {
	ID uuid.UUID `path:"id" doc:"Package ID"`
}

type GetPackageOutput struct {
	Body *Package
}

type VerifyPackageOutput struct {
	Body struct {
		Valid        bool      `json:"valid"`
		PackageID    uuid.UUID `json:"package_id"`
		ManifestHash string    `json:"manifest_hash"`
		Deliverables int       `json:"deliverables"`
		DailyRoots   int       `json:"daily_roots"`
		Evidence     int       `json:"evidence"`
	}
}

type PackageArchiveOutput struct {
	ContentType        string `header:"Content-Type"`
	ContentDisposition string `header:"Content-Disposition"`
	Body               []byte
}

func RegisterPackageRoutes(api huma.API, exporter Exporter) {
	huma.Register(api, huma.Operation{
		OperationID: "create-package",
		Method:      http.MethodPost,
		Path:        "/packages",
		Summary:     "Assemble an inspection package",
		Tags:        []string{"Packages"},
	}, func(ctx context.Context, input *CreatePackageInput) (*CreatePackageOutput, error) {
		companyID, err := companyFrom(ctx)
		if err != nil {
			return nil, err
		}

		req := export.Request{
			CompanyID:  companyID,
			From:       input.Body.From,
			To:         input.Body.To,
			Components: domain.PackageComponents(input.Body.Components),
			DryRun:     input.Body.DryRun,
		}
		if ref := input.Body.ITSSReference; ref != nil {
			r := domain.ITSSReference(*ref)
			req.Reference = &r
		}

		res, err := exporter.Export(ctx, req)
		if err != nil {
			return nil, toHTTPError(err, "failed to assemble package")
		}

		out := &ExportResult{
			DryRun:    res.DryRun,
			Manifest:  res.Manifest,
			PreChecks: res.PreChecks,
		}
		if !res.DryRun && res.Package != nil {
			out.Package = newPackage(res.Package)
		}
		return &CreatePackageOutput{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-packages",
		Method:      http.MethodGet,
		Path:        "/packages",
		Summary:     "List stored packages",
		Tags:        []string{"Packages"},
	}, func(ctx context.Context, input *ListPackagesInput) (*ListPackagesOutput, error) {
		companyID, err := companyFrom(ctx)
		if err != nil {
			return nil, err
		}

		pkgs, err := exporter.List(ctx, companyID, input.Limit, input.Offset)
		if err != nil {
			return nil, toHTTPError(err, "failed to list packages")
		}

		out := make([]*Package, 0, len(pkgs))
		for _, p := range pkgs {
			out = append(out, newPackage(p))
		}
		return &ListPackagesOutput{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-package",
		Method:      http.MethodGet,
		Path:        "/packages/{id}",
		Summary:     "Get a stored package",
		Tags:        []string{"Packages"},
	}, func(ctx context.Context, input *PackageIDInput) (*GetPackageOutput, error) {
		companyID, err := companyFrom(ctx)
		if err != nil {
			return nil, err
		}

		pkg, err := exporter.Get(ctx, companyID, input.ID)
		if err != nil {
			return nil, toHTTPError(err, "package")
		}
		return &GetPackageOutput{Body: newPackage(pkg)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "verify-package",
		Method:      http.MethodPost,
		Path:        "/packages/{id}/verify",
		Summary:     "Verify a stored package against its hashes and current records",
		Description: "A mismatch answers 409 naming the offending item.",
		Tags:        []string{"Packages"},
	}, func(ctx context.Context, input *PackageIDInput) (*VerifyPackageOutput, error) {
		companyID, err := companyFrom(ctx)
		if err != nil {
			return nil, err
		}

		report, err := exporter.Verify(ctx, companyID, input.ID)
		if err != nil {
			return nil, toHTTPError(err, "package")
		}

		out := &VerifyPackageOutput{}
		out.Body.Valid = true
		out.Body.PackageID = report.PackageID
		out.Body.ManifestHash = report.ManifestHash
		out.Body.Deliverables = report.Deliverables
		out.Body.DailyRoots = report.DailyRoots
		out.Body.Evidence = report.Evidence
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-package-archive",
		Method:      http.MethodGet,
		Path:        "/packages/{id}/archive",
		Summary:     "Download a package as a zip archive",
		Tags:        []string{"Packages"},
	}, func(ctx context.Context, input *PackageIDInput) (*PackageArchiveOutput, error) {
		companyID, err := companyFrom(ctx)
		if err != nil {
			return nil, err
		}

		pkg, err := exporter.Get(ctx, companyID, input.ID)
		if err != nil {
			return nil, toHTTPError(err, "package")
		}

		var buf bytes.Buffer
		if err := export.WriteArchive(&buf, pkg); err != nil {
			return nil, toHTTPError(err, "failed to write package archive")
		}

		return &PackageArchiveOutput{
			ContentType:        "application/zip",
			ContentDisposition: fmt.Sprintf(`attachment; filename="%s"`, export.ArchiveName(pkg)),
			Body:               buf.Bytes(),
		}, nil
	})
}
