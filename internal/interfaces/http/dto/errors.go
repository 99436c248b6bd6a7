package dto

import "net/http"

// Error codes returned by the ops API
const (
	ErrCodeInternal    = "ERR_INTERNAL"
	ErrCodeUnavailable = "ERR_UNAVAILABLE"

	ErrCodeUnauthorized = "ERR_UNAUTHORIZED"
	ErrCodeInvalidToken = "ERR_INVALID_TOKEN"
	ErrCodeTokenExpired = "ERR_TOKEN_EXPIRED"
	ErrCodeForbidden    = "ERR_FORBIDDEN"

	ErrCodeBadRequest    = "ERR_BAD_REQUEST"
	ErrCodeInvalidJSON   = "ERR_INVALID_JSON"
	ErrCodeInvalidPeriod = "ERR_INVALID_PERIOD"
	ErrCodeTooLarge      = "ERR_REQUEST_TOO_LARGE"
	ErrCodeNotFound      = "ERR_NOT_FOUND"
	ErrCodeConflict      = "ERR_CONFLICT"
	ErrCodeRunInProgress = "ERR_RUN_IN_PROGRESS"
)

var statusByCode = map[string]int{
	ErrCodeInternal:      http.StatusInternalServerError,
	ErrCodeUnavailable:   http.StatusServiceUnavailable,
	ErrCodeUnauthorized:  http.StatusUnauthorized,
	ErrCodeInvalidToken:  http.StatusUnauthorized,
	ErrCodeTokenExpired:  http.StatusUnauthorized,
	ErrCodeForbidden:     http.StatusForbidden,
	ErrCodeBadRequest:    http.StatusBadRequest,
	ErrCodeInvalidJSON:   http.StatusBadRequest,
	ErrCodeInvalidPeriod: http.StatusBadRequest,
	ErrCodeTooLarge:      http.StatusRequestEntityTooLarge,
	ErrCodeNotFound:      http.StatusNotFound,
	ErrCodeConflict:      http.StatusConflict,
	ErrCodeRunInProgress: http.StatusConflict,
}

// domainCodes translates shared.DomainError codes into API codes
var domainCodes = map[string]string{
	"INVALID_PERIOD":  ErrCodeInvalidPeriod,
	"RUN_IN_PROGRESS": ErrCodeRunInProgress,
	"NOT_FOUND":       ErrCodeNotFound,
	"INTERNAL_ERROR":  ErrCodeInternal,
}

// StatusOf returns the HTTP status for an API code, 500 when unknown
func StatusOf(code string) int {
	if s, ok := statusByCode[code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// CodeForDomain maps a domain error code to its API code. Unmapped codes
// come back as ERR_INTERNAL so internal names never leak.
func CodeForDomain(code string) string {
	if c, ok := domainCodes[code]; ok {
		return c
	}
	return ErrCodeInternal
}
