package domain

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Error codes surfaced to callers
const (
	CodeInvalidStrategy    = "INVALID_STRATEGY"
	CodeStrategyNotFound   = "STRATEGY_NOT_FOUND"
	CodeStrategyNotActive  = "STRATEGY_NOT_ACTIVE"
	CodeAutoTradeEnabled   = "AUTO_TRADE_ENABLED"
	CodeNoActiveAccount    = "NO_ACTIVE_ACCOUNT"
	CodePricingUnavailable = "PRICING_UNAVAILABLE"
	CodeExchangeRejected   = "EXCHANGE_REJECTED"
	CodeRateLimited        = "RATE_LIMITED"
	CodeDuplicateOrder     = "DUPLICATE_ORDER"
	CodeBelowMinNotional   = "BELOW_MIN_NOTIONAL"
	CodeInvalidRequest     = "INVALID_REQUEST"
)

// Error is a coded domain error. Two errors match under errors.Is when their codes match.
type Error struct {
	Err     error
	Code    string
	Message string
	Symbols []string
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Code)
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Symbols) > 0 {
		b.WriteString(" [")
		b.WriteString(strings.Join(e.Symbols, ", "))
		b.WriteString("]")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same code
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is comparisons
var (
	ErrInvalidStrategy    = &Error{Code: CodeInvalidStrategy}
	ErrStrategyNotFound   = &Error{Code: CodeStrategyNotFound}
	ErrStrategyNotActive  = &Error{Code: CodeStrategyNotActive}
	ErrAutoTradeEnabled   = &Error{Code: CodeAutoTradeEnabled}
	ErrNoActiveAccount    = &Error{Code: CodeNoActiveAccount}
	ErrPricingUnavailable = &Error{Code: CodePricingUnavailable}
	ErrExchangeRejected   = &Error{Code: CodeExchangeRejected}
	ErrRateLimited        = &Error{Code: CodeRateLimited}
	ErrDuplicateOrder     = &Error{Code: CodeDuplicateOrder}
	ErrBelowMinNotional   = &Error{Code: CodeBelowMinNotional}
)

// NewError builds a coded error
func NewError(code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError attaches a code to an underlying error
func WrapError(code string, err error, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// NewPricingUnavailable lists every missing symbol, sorted and de-duplicated
func NewPricingUnavailable(symbols []string) *Error {
	seen := make(map[string]struct{}, len(symbols))
	missing := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		missing = append(missing, s)
	}
	sort.Strings(missing)
	return &Error{
		Code:    CodePricingUnavailable,
		Message: "no fresh price for one or more symbols",
		Symbols: missing,
	}
}

// ErrorCode extracts the code of a domain error, empty when err is not one
func ErrorCode(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// MissingSymbols returns the symbols attached to a pricing error
func MissingSymbols(err error) []string {
	var de *Error
	if errors.As(err, &de) {
		return de.Symbols
	}
	return nil
}

// HTTPStatus maps an error to the response status handlers should use
func HTTPStatus(err error) int {
	switch ErrorCode(err) {
	case CodeInvalidStrategy, CodeInvalidRequest:
		return http.StatusBadRequest
	case CodeStrategyNotFound:
		return http.StatusNotFound
	case CodeStrategyNotActive, CodeAutoTradeEnabled, CodeNoActiveAccount:
		return http.StatusConflict
	case CodePricingUnavailable:
		return http.StatusUnprocessableEntity
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeExchangeRejected, CodeDuplicateOrder:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// APICode maps an error to the code exposed in response bodies
func APICode(err error) string {
	switch code := ErrorCode(err); code {
	case CodePricingUnavailable:
		return "ERROR_PRICING"
	case CodeRateLimited:
		return "TOO_MANY_REQUESTS"
	case "":
		return "INTERNAL_ERROR"
	default:
		return code
	}
}
