package xapi

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrUnauthorized is matched by an APIError with status 401 and returned
// when no usable credential is available.
var ErrUnauthorized = errors.New("x api: unauthorized")

// ErrNoToken means no access token is stored or set in the environment.
var ErrNoToken = errors.New("missing access token; run `xstash auth login` or set XSTASH_ACCESS_TOKEN")

// maxErrorBody bounds how much of a failed response is kept for the error.
const maxErrorBody = 1024

// APIError is a non-2xx response from the X API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("x api: http %d: %s", e.Status, e.Body)
}

// Is matches ErrUnauthorized for 401 responses.
func (e *APIError) Is(target error) bool {
	return target == ErrUnauthorized && e.Status == http.StatusUnauthorized
}
