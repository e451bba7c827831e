package transport

import (
	"errors"
	"net/http"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-custody/core"
	"github.com/goliatone/go-custody/mandate"
)

type errorBody struct {
	Error    string         `json:"error"`
	Message  string         `json:"message"`
	Category string         `json:"category,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type serviceErrorer interface {
	ToServiceError() *goerrors.Error
}

func transportError(message string, category goerrors.Category, code int) *goerrors.Error {
	return goerrors.New(message, category).
		WithCode(code).
		WithTextCode(transportTextCode(category))
}

func transportTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return core.CustodyErrorBadInput
	case goerrors.CategoryNotFound:
		return core.CustodyErrorNotFound
	case goerrors.CategoryRateLimit:
		return core.CustodyErrorRateLimited
	default:
		return core.CustodyErrorInternal
	}
}

// envelope maps err onto the go-errors envelope rendered to clients.
func envelope(err error) *goerrors.Error {
	var serviceErr serviceErrorer
	if errors.As(err, &serviceErr) {
		if rich := serviceErr.ToServiceError(); rich != nil {
			return rich
		}
	}
	rich := mandate.MapError(err)
	if rich == nil {
		return transportError("An unexpected error occurred", goerrors.CategoryInternal, http.StatusInternalServerError)
	}
	return rich
}

func writeError(w http.ResponseWriter, err error) {
	rich := envelope(err)
	status := rich.Code
	if status < http.StatusBadRequest || status > 599 {
		status = http.StatusInternalServerError
	}
	message := rich.Message
	if status >= http.StatusInternalServerError && rich.Category == goerrors.CategoryInternal {
		message = "An unexpected error occurred"
	}
	writeJSON(w, status, errorBody{
		Error:    rich.TextCode,
		Message:  message,
		Category: rich.Category.String(),
		Metadata: rich.Metadata,
	})
}
