package client

import (
	"fmt"
	"net/http"
)

// ErrorClass represents a classification of vendor call failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors other than 408 and 429.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 responses.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"
)

// VendorError represents a failed vendor call with its response metadata.
type VendorError struct {
	StatusCode int
	ErrorClass ErrorClass
	Message    string
	Body       string
	Headers    http.Header
	Err        error
}

// Error implements the error interface.
func (e *VendorError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("vendor %s error (status %d): %s: %v",
			e.ErrorClass, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("vendor %s error (status %d): %s",
		e.ErrorClass, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *VendorError) Unwrap() error {
	return e.Err
}

// ResponseHeaders exposes the failed response's headers to retry hints.
func (e *VendorError) ResponseHeaders() http.Header {
	return e.Headers
}

// classifyStatus categorizes an HTTP status code.
func classifyStatus(status int) ErrorClass {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case status == http.StatusRequestTimeout:
		return ErrorClassNetwork
	case status >= 400 && status < 500:
		return ErrorClassClient
	case status >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}

// shouldRetry determines if an error class is transient.
func shouldRetry(errorClass ErrorClass, retryClientErrors bool) bool {
	switch errorClass {
	case ErrorClassClient:
		return retryClientErrors
	case ErrorClassServer, ErrorClassRateLimit, ErrorClassNetwork:
		return true
	default:
		return false
	}
}
