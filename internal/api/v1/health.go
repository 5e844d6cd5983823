package v1

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/gosuda/timeproof/internal/health"
)

type ProbeHealthOutput struct {
	Body struct {
		Sample   health.Sample   `json:"sample"`
		Shared   bool            `json:"shared" doc:"The probe joined one already in flight"`
		Snapshot health.Snapshot `json:"snapshot"`
	}
}

type HealthHistoryOutput struct {
	Body []health.Sample
}

type SetAlertsInput struct {
	Body struct {
		Enabled bool `json:"enabled"`
	}
}

type SnapshotOutput struct {
	Body health.Snapshot
}

func RegisterHealthRoutes(api huma.API, monitor HealthMonitor) {
	huma.Register(api, huma.Operation{
		OperationID: "probe-qtsp-health",
		Method:      http.MethodGet,
		Path:        "/qtsp/health",
		Summary:     "Probe the trust service provider",
		Description: "Concurrent callers share a single provider probe.",
		Tags:        []string{"QTSP Health"},
	}, func(ctx context.Context, _ *struct{}) (*ProbeHealthOutput, error) {
		if _, err := companyFrom(ctx); err != nil {
			return nil, err
		}

		sample, shared, err := monitor.Probe(ctx)
		if err != nil {
			return nil, toHTTPError(err, "failed to probe provider health")
		}
		snap, err := monitor.Current(ctx)
		if err != nil {
			return nil, toHTTPError(err, "failed to load provider health")
		}

		out := &ProbeHealthOutput{}
		out.Body.Sample = sample
		out.Body.Shared = shared
		out.Body.Snapshot = snap
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-qtsp-health-history",
		Method:      http.MethodGet,
		Path:        "/qtsp/health/history",
		Summary:     "List the rolling window of health samples",
		Tags:        []string{"QTSP Health"},
	}, func(ctx context.Context, _ *struct{}) (*HealthHistoryOutput, error) {
		if _, err := companyFrom(ctx); err != nil {
			return nil, err
		}

		samples, err := monitor.History(ctx)
		if err != nil {
			return nil, toHTTPError(err, "failed to load health history")
		}
		if samples == nil {
			samples = []health.Sample{}
		}
		return &HealthHistoryOutput{Body: samples}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reset-qtsp-health-history",
		Method:      http.MethodDelete,
		Path:        "/qtsp/health/history",
		Summary:     "Clear health samples and failure counters",
		Tags:        []string{"QTSP Health"},
	}, func(ctx context.Context, _ *struct{}) (*SnapshotOutput, error) {
		if _, err := companyFrom(ctx); err != nil {
			return nil, err
		}

		if err := monitor.Reset(ctx); err != nil {
			return nil, toHTTPError(err, "failed to reset health history")
		}
		snap, err := monitor.Current(ctx)
		if err != nil {
			return nil, toHTTPError(err, "failed to load provider health")
		}
		return &SnapshotOutput{Body: snap}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-qtsp-health-alerts",
		Method:      http.MethodPut,
		Path:        "/qtsp/health/alerts",
		Summary:     "Enable or disable health alerts",
		Tags:        []string{"QTSP Health"},
	}, func(ctx context.Context, input *SetAlertsInput) (*SnapshotOutput, error) {
		if _, err := companyFrom(ctx); err != nil {
			return nil, err
		}

		if err := monitor.SetAlertsEnabled(ctx, input.Body.Enabled); err != nil {
			return nil, toHTTPError(err, "failed to update alert setting")
		}
		snap, err := monitor.Current(ctx)
		if err != nil {
			return nil, toHTTPError(err, "failed to load provider health")
		}
		return &SnapshotOutput{Body: snap}, nil
	})
}
