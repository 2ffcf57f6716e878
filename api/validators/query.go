package validators

import (
	"net/http"
	"strconv"
	"strings"

	pkgerrors "github.com/partyconnect/engage-backend/pkg/errors"
	"github.com/partyconnect/engage-backend/pkg/pagination"
)

// maxOffset stops clients from asking the database to skip arbitrarily far.
const maxOffset = 1_000_000

// ParseQueryInt reads an optional integer query parameter within [min, max].
func ParseQueryInt(r *http.Request, key string, defaultVal, min, max int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return defaultVal, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, pkgerrors.Newf(pkgerrors.CodeValidation, "%s must be an integer", key).WithField("field", key)
	}
	if value < min || value > max {
		return 0, pkgerrors.Newf(pkgerrors.CodeValidation, "%s is out of range", key).
			WithField("field", key).
			WithField("min", min).
			WithField("max", max)
	}
	return value, nil
}

// ParsePage reads limit and offset. A missing limit uses defaultLimit.
func ParsePage(r *http.Request, defaultLimit int) (pagination.Page, error) {
	limit, err := ParseQueryInt(r, "limit", pagination.NormalizeLimit(0, defaultLimit), 1, pagination.MaxLimit)
	if err != nil {
		return pagination.Page{}, err
	}
	offset, err := ParseQueryInt(r, "offset", 0, 0, maxOffset)
	if err != nil {
		return pagination.Page{}, err
	}
	return pagination.Page{Limit: limit, Offset: offset}, nil
}
