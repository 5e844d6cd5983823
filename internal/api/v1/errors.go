package v1

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/timeproof/internal/domain"
	"github.com/gosuda/timeproof/internal/server/middleware"
)

func companyFrom(ctx context.Context) (uuid.UUID, error) {
	companyID, ok := middleware.CompanyIDFromContext(ctx)
	if !ok || companyID == uuid.Nil {
		return uuid.Nil, huma.Error403Forbidden("missing company context")
	}
	return companyID, nil
}

// toHTTPError maps domain errors onto problem responses. msg describes the
// failed operation for the 500 case.
func toHTTPError(err error, msg string) error {
	var (
		ve *domain.ValidationError
		ie *domain.IntegrityError
		pe *domain.ProviderError
	)
	switch {
	case errors.As(err, &ve):
		return huma.Error422UnprocessableEntity(ve.Error(), &huma.ErrorDetail{
			Message:  ve.Reason,
			Location: "body." + ve.Field,
		})
	case errors.Is(err, domain.ErrNotFound):
		return huma.Error404NotFound(msg + ": not found")
	case errors.As(err, &ie):
		return huma.Error409Conflict("integrity check failed: "+ie.Item, &huma.ErrorDetail{
			Message:  ie.Error(),
			Location: ie.Item,
			Value:    ie.Actual,
		})
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrInvalidTransition):
		return huma.Error409Conflict(msg + ": conflict")
	case errors.As(err, &pe):
		log.Warn().Err(err).Str("op", pe.Op).Msg("provider failure surfaced to caller")
		return huma.Error502BadGateway("trust service provider unavailable", err)
	default:
		log.Error().Err(err).Msg(msg)
		return huma.Error500InternalServerError(msg)
	}
}
