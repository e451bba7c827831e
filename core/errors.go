package core

import (
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

var (
	ErrInvalidAmount        = errors.New("core: invalid amount")
	ErrInsufficientBalance  = errors.New("core: insufficient balance")
	ErrWithdrawalPending    = errors.New("core: withdrawal already pending")
	ErrNoWithdrawalPending  = errors.New("core: no withdrawal pending")
	ErrWithdrawalNotReady   = errors.New("core: withdrawal not ready")
	ErrMandateExpired       = errors.New("core: mandate expired")
	ErrNonceUsed            = errors.New("core: nonce already used")
	ErrNotAuthorized        = errors.New("core: caller is not the administrator")
	ErrNotAuthorizedSP      = errors.New("core: agent is not authorized to settle")
	ErrArithmeticOverflow   = errors.New("core: arithmetic overflow")
	ErrArithmeticUnderflow  = errors.New("core: arithmetic underflow")
	ErrAlreadyInitialized   = errors.New("core: global config already initialized")
	ErrNotInitialized       = errors.New("core: global config not initialized")
	ErrInvalidIdentity      = errors.New("core: invalid identity")
	ErrInvalidWithdrawDelay = errors.New("core: withdraw delay must not be negative")
	ErrRateLimited          = errors.New("core: agent rate limit exceeded")
	ErrTransferFailed       = errors.New("core: transfer failed")
	ErrConfigNotFound       = errors.New("core: global config not found")
	ErrLedgerNotFound       = errors.New("core: ledger not found")
	ErrAgentNotFound        = errors.New("core: agent not found")
)

const (
	CustodyErrorInvalidAmount        = "CUSTODY_INVALID_AMOUNT"
	CustodyErrorInsufficientBalance  = "CUSTODY_INSUFFICIENT_BALANCE"
	CustodyErrorWithdrawalPending    = "CUSTODY_WITHDRAWAL_PENDING"
	CustodyErrorNoWithdrawalPending  = "CUSTODY_NO_WITHDRAWAL_PENDING"
	CustodyErrorWithdrawalNotReady   = "CUSTODY_WITHDRAWAL_NOT_READY"
	CustodyErrorMandateExpired       = "CUSTODY_MANDATE_EXPIRED"
	CustodyErrorNonceUsed            = "CUSTODY_NONCE_USED"
	CustodyErrorNotAuthorized        = "CUSTODY_NOT_AUTHORIZED"
	CustodyErrorNotAuthorizedSP      = "CUSTODY_NOT_AUTHORIZED_SP"
	CustodyErrorArithmeticOverflow   = "CUSTODY_ARITHMETIC_OVERFLOW"
	CustodyErrorArithmeticUnderflow  = "CUSTODY_ARITHMETIC_UNDERFLOW"
	CustodyErrorAlreadyInitialized   = "CUSTODY_ALREADY_INITIALIZED"
	CustodyErrorNotInitialized       = "CUSTODY_NOT_INITIALIZED"
	CustodyErrorInvalidIdentity      = "CUSTODY_INVALID_IDENTITY"
	CustodyErrorInvalidWithdrawDelay = "CUSTODY_INVALID_WITHDRAW_DELAY"
	CustodyErrorRateLimited          = "CUSTODY_RATE_LIMITED"
	CustodyErrorTransferFailed       = "CUSTODY_TRANSFER_FAILED"
	CustodyErrorNotFound             = "CUSTODY_NOT_FOUND"
	CustodyErrorBadInput             = "CUSTODY_BAD_INPUT"
	CustodyErrorInternal             = "CUSTODY_INTERNAL_ERROR"
)

type errorRule struct {
	sentinel error
	category goerrors.Category
	textCode string
	status   int
	severity goerrors.Severity
}

var custodyErrorRules = []errorRule{
	{ErrInvalidAmount, goerrors.CategoryBadInput, CustodyErrorInvalidAmount, http.StatusBadRequest, goerrors.SeverityWarning},
	{ErrInsufficientBalance, goerrors.CategoryOperation, CustodyErrorInsufficientBalance, http.StatusPaymentRequired, goerrors.SeverityWarning},
	{ErrWithdrawalPending, goerrors.CategoryConflict, CustodyErrorWithdrawalPending, http.StatusConflict, goerrors.SeverityWarning},
	{ErrNoWithdrawalPending, goerrors.CategoryConflict, CustodyErrorNoWithdrawalPending, http.StatusConflict, goerrors.SeverityWarning},
	{ErrWithdrawalNotReady, goerrors.CategoryConflict, CustodyErrorWithdrawalNotReady, http.StatusConflict, goerrors.SeverityWarning},
	{ErrMandateExpired, goerrors.CategoryBadInput, CustodyErrorMandateExpired, http.StatusBadRequest, goerrors.SeverityWarning},
	{ErrNonceUsed, goerrors.CategoryConflict, CustodyErrorNonceUsed, http.StatusConflict, goerrors.SeverityWarning},
	{ErrNotAuthorized, goerrors.CategoryAuthz, CustodyErrorNotAuthorized, http.StatusForbidden, goerrors.SeverityWarning},
	{ErrNotAuthorizedSP, goerrors.CategoryAuthz, CustodyErrorNotAuthorizedSP, http.StatusForbidden, goerrors.SeverityWarning},
	{ErrArithmeticOverflow, goerrors.CategoryInternal, CustodyErrorArithmeticOverflow, http.StatusInternalServerError, goerrors.SeverityCritical},
	{ErrArithmeticUnderflow, goerrors.CategoryInternal, CustodyErrorArithmeticUnderflow, http.StatusInternalServerError, goerrors.SeverityCritical},
	{ErrAlreadyInitialized, goerrors.CategoryConflict, CustodyErrorAlreadyInitialized, http.StatusConflict, goerrors.SeverityWarning},
	{ErrNotInitialized, goerrors.CategoryConflict, CustodyErrorNotInitialized, http.StatusConflict, goerrors.SeverityError},
	{ErrInvalidIdentity, goerrors.CategoryBadInput, CustodyErrorInvalidIdentity, http.StatusBadRequest, goerrors.SeverityWarning},
	{ErrInvalidWithdrawDelay, goerrors.CategoryBadInput, CustodyErrorInvalidWithdrawDelay, http.StatusBadRequest, goerrors.SeverityWarning},
	{ErrRateLimited, goerrors.CategoryRateLimit, CustodyErrorRateLimited, http.StatusTooManyRequests, goerrors.SeverityWarning},
	{ErrTransferFailed, goerrors.CategoryExternal, CustodyErrorTransferFailed, http.StatusBadGateway, goerrors.SeverityError},
	{ErrConfigNotFound, goerrors.CategoryNotFound, CustodyErrorNotFound, http.StatusNotFound, goerrors.SeverityInfo},
	{ErrLedgerNotFound, goerrors.CategoryNotFound, CustodyErrorNotFound, http.StatusNotFound, goerrors.SeverityInfo},
	{ErrAgentNotFound, goerrors.CategoryNotFound, CustodyErrorNotFound, http.StatusNotFound, goerrors.SeverityInfo},
}

// MapError converts err into a go-errors envelope. The original error stays
// in the chain so errors.Is keeps matching the sentinels.
func MapError(err error) *goerrors.Error {
	return custodyErrorMapper(err)
}

func custodyErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureCustodyErrorEnvelope(richErr)
	}

	for _, rule := range custodyErrorRules {
		if errors.Is(err, rule.sentinel) {
			return goerrors.Wrap(err, rule.category, strings.TrimPrefix(err.Error(), "core: ")).
				WithCode(rule.status).
				WithTextCode(rule.textCode).
				WithSeverity(rule.severity)
		}
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"):
		return ensureCustodyErrorEnvelope(
			goerrors.Wrap(err, goerrors.CategoryBadInput, err.Error()).WithTextCode(CustodyErrorBadInput),
		)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureCustodyErrorEnvelope(mapped)
}

func ensureCustodyErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = custodyHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultCustodyTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultCustodyTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return CustodyErrorBadInput
	case goerrors.CategoryNotFound:
		return CustodyErrorNotFound
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return CustodyErrorNotAuthorized
	case goerrors.CategoryRateLimit:
		return CustodyErrorRateLimited
	case goerrors.CategoryExternal:
		return CustodyErrorTransferFailed
	default:
		return CustodyErrorInternal
	}
}

func custodyHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
