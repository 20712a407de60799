package widget

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/dharsanguruparan/ChartSnap/internal/clinical"
	"github.com/dharsanguruparan/ChartSnap/internal/commit"
	"github.com/dharsanguruparan/ChartSnap/internal/handoff"
	"github.com/dharsanguruparan/ChartSnap/internal/httpx"
	"github.com/dharsanguruparan/ChartSnap/internal/intake"
	"github.com/dharsanguruparan/ChartSnap/internal/model"
	"github.com/dharsanguruparan/ChartSnap/internal/session"
	"github.com/dharsanguruparan/ChartSnap/internal/tagging"
)

var errBadRequest = errors.New("bad request")

// respondErr maps domain errors onto status codes. Anything unrecognized is
// logged and reported as a 500 without leaking the message.
func (s *Server) respondErr(w http.ResponseWriter, err error) {
	var (
		commitErr *commit.ValidationError
		intakeErr *intake.ValidationError
		fieldErrs validator.ValidationErrors
		statusErr *clinical.StatusError
	)
	switch {
	case errors.Is(err, errBadRequest):
		httpx.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrNotFound), errors.Is(err, handoff.ErrNoSession):
		httpx.RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, session.ErrInvalidTransition),
		errors.Is(err, session.ErrImmutable),
		errors.Is(err, session.ErrDuplicate),
		errors.Is(err, commit.ErrNotFailed):
		httpx.RespondError(w, http.StatusConflict, err.Error())
	case errors.As(err, &commitErr):
		httpx.RespondError(w, http.StatusUnprocessableEntity, commitErr.Err.Error(), commitErr.IDs...)
	case errors.As(err, &intakeErr):
		httpx.RespondError(w, http.StatusUnprocessableEntity, intakeErr.Err.Error(), intakeErr.Files...)
	case errors.As(err, &fieldErrs):
		details := make([]string, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			details = append(details, fe.Namespace()+" failed "+fe.Tag())
		}
		httpx.RespondError(w, http.StatusUnprocessableEntity, "validation failed", details...)
	case errors.Is(err, tagging.ErrNotOffered),
		errors.Is(err, tagging.ErrNoSource),
		errors.Is(err, model.ErrInvalidRotation),
		errors.Is(err, model.ErrInvalidCrop),
		errors.Is(err, model.ErrInvalidArrow),
		errors.Is(err, handoff.ErrHandoffDisabled):
		httpx.RespondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &statusErr):
		s.log.Warn().Err(err).Msg("clinical system error")
		httpx.RespondError(w, http.StatusBadGateway, "clinical system error", statusErr.Error())
	case errors.Is(err, errClosed):
		httpx.RespondError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.log.Error().Err(err).Msg("request failed")
		httpx.RespondError(w, http.StatusInternalServerError, "internal error")
	}
}
