// Package responses writes the JSON envelopes every handler returns.
package responses

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	pkgerrors "github.com/partyconnect/engage-backend/pkg/errors"
	"github.com/partyconnect/engage-backend/pkg/logger"
	"github.com/partyconnect/engage-backend/pkg/types"
)

// requestIDHeader is set on the response by the request id middleware.
const requestIDHeader = "X-Request-Id"

func WriteSuccess(w http.ResponseWriter, data any) {
	WriteSuccessStatus(w, http.StatusOK, data)
}

func WriteSuccessStatus(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, types.SuccessEnvelope{Data: data})
}

// WriteError maps err to its HTTP status and public envelope. Untyped errors
// become INTERNAL_ERROR. When logg is set the full chain is logged.
func WriteError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	typed := pkgerrors.As(err)
	if typed == nil {
		typed = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unexpected error")
	}
	meta := pkgerrors.MetadataFor(typed.Code())

	apiErr := types.APIError{
		Code:      string(typed.Code()),
		Message:   pkgerrors.PublicMessage(typed),
		Retryable: meta.Retryable,
		RequestID: w.Header().Get(requestIDHeader),
	}
	if meta.DetailsAllowed {
		apiErr.Details = typed.Details()
	}
	if typed.Code() == pkgerrors.CodeRateLimit {
		if seconds := retryAfter(typed.Details(), time.Now()); seconds > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
		}
	}

	if logg != nil {
		fields := pkgerrors.Dump(err).Fields()
		if details, ok := typed.Details().(map[string]any); ok {
			if step, ok := details["step"]; ok {
				fields["step"] = step
			}
		}
		logg.Error(logg.WithFields(ctx, fields), "request.error", err)
	}

	writeJSON(w, meta.HTTPStatus, types.ErrorEnvelope{Error: apiErr})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":{"code":"INTERNAL_ERROR","message":"internal server error","retryable":true}}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}

// retryAfter reads either a retryAfterSeconds detail (HTTP throttles) or a
// resetsAt timestamp (daily point caps). Zero means no header.
func retryAfter(details any, now time.Time) int {
	fields, ok := details.(map[string]any)
	if !ok {
		return 0
	}
	switch v := fields["retryAfterSeconds"].(type) {
	case int:
		return v
	case int64:
		return int(v)
	}
	raw, ok := fields["resetsAt"].(string)
	if !ok {
		return 0
	}
	resetsAt, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return 0
	}
	return int(resetsAt.Sub(now).Round(time.Second).Seconds())
}
