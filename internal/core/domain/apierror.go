package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// APIErrorKind is the closed set of upstream failure classes.
type APIErrorKind int

const (
	APIErrorGeneric APIErrorKind = iota
	APIErrorAuth
	APIErrorAccessDenied
	APIErrorRateLimited
	APIErrorFloodControl
	APIErrorCaptcha
)

func (k APIErrorKind) String() string {
	switch k {
	case APIErrorAuth:
		return "auth"
	case APIErrorAccessDenied:
		return "access_denied"
	case APIErrorRateLimited:
		return "rate_limited"
	case APIErrorFloodControl:
		return "flood_control"
	case APIErrorCaptcha:
		return "captcha_required"
	default:
		return "generic"
	}
}

// Retryable reports whether the client may repeat the same call.
func (k APIErrorKind) Retryable() bool {
	return k == APIErrorRateLimited || k == APIErrorFloodControl
}

// upstreamCodes maps numeric platform error codes to their class.
// Codes not listed are Generic.
var upstreamCodes = map[int]APIErrorKind{
	5:   APIErrorAuth,         // user authorization failed
	6:   APIErrorRateLimited,  // too many requests per second
	7:   APIErrorAccessDenied, // permission denied for this action
	9:   APIErrorFloodControl, // flood control
	14:  APIErrorCaptcha,      // captcha needed
	15:  APIErrorAccessDenied, // access denied
	18:  APIErrorAccessDenied, // page deleted or banned
	29:  APIErrorFloodControl, // method rate limit reached
	30:  APIErrorAccessDenied, // profile is private
	174: APIErrorAccessDenied, // cannot add self
	175: APIErrorAccessDenied, // blacklisted by target
	176: APIErrorAccessDenied, // target is blacklisted
	203: APIErrorAccessDenied, // group access denied
	260: APIErrorAccessDenied, // group privacy settings
	900: APIErrorAccessDenied, // cannot message a blacklisted user
	901: APIErrorAccessDenied, // user has not allowed messages
	902: APIErrorAccessDenied, // privacy settings forbid messages
}

// ClassifyCode resolves an upstream error code.
func ClassifyCode(code int) APIErrorKind {
	if kind, ok := upstreamCodes[code]; ok {
		return kind
	}
	return APIErrorGeneric
}

// APIError is a failed upstream call.
type APIError struct {
	Kind    APIErrorKind
	Code    int
	Message string
	Method  string
	// CaptchaSID and CaptchaImg are set for captcha challenges.
	CaptchaSID string
	CaptchaImg string
}

func NewAPIError(method string, code int, msg string) *APIError {
	return &APIError{Kind: ClassifyCode(code), Code: code, Message: msg, Method: method}
}

func (e *APIError) Error() string {
	return fmt.Sprintf("platform %s error %d (%s): %s", e.Method, e.Code, e.Kind, e.Message)
}

// APIErrorKindOf returns the class of err, or false if err is not an APIError.
func APIErrorKindOf(err error) (APIErrorKind, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind, true
	}
	return APIErrorGeneric, false
}

// IsAPIError reports whether err is an APIError of the given kind.
func IsAPIError(err error, kind APIErrorKind) bool {
	k, ok := APIErrorKindOf(err)
	return ok && k == kind
}

// APICall is one logical call, alone or inside a batch.
type APICall struct {
	Method string `json:"method"`
	Params Params `json:"params"`
}

// APIResult is the positional outcome of one call in a batch.
type APIResult struct {
	Response json.RawMessage
	Err      error
}

// MaxBatchSize is the largest number of calls one batch round-trip may carry.
const MaxBatchSize = 25
