package mandate

import (
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-custody/core"
)

const (
	MandateErrorInvalid          = "MANDATE_INVALID"
	MandateErrorInvalidSignature = "MANDATE_INVALID_SIGNATURE"
	MandateErrorDuplicate        = "MANDATE_DUPLICATE"
	MandateErrorNotFound         = "MANDATE_NOT_FOUND"
)

// MapError maps intake errors and defers everything else to core.MapError.
func MapError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	var (
		category goerrors.Category
		status   int
		code     string
	)
	switch {
	case errors.Is(err, ErrInvalidSignature):
		category, status, code = goerrors.CategoryBadInput, http.StatusBadRequest, MandateErrorInvalidSignature
	case errors.Is(err, ErrInvalidMandate):
		category, status, code = goerrors.CategoryBadInput, http.StatusBadRequest, MandateErrorInvalid
	case errors.Is(err, ErrDuplicateMandate):
		category, status, code = goerrors.CategoryConflict, http.StatusConflict, MandateErrorDuplicate
	case errors.Is(err, ErrNotFound):
		category, status, code = goerrors.CategoryNotFound, http.StatusNotFound, MandateErrorNotFound
	default:
		return core.MapError(err)
	}
	return goerrors.Wrap(err, category, strings.TrimPrefix(err.Error(), "mandate: ")).
		WithCode(status).
		WithTextCode(code).
		WithSeverity(goerrors.SeverityWarning)
}
