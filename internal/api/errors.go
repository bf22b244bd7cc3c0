package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// StatusError is a non-2xx response from the server.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d %s", e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Message)
}

// IsPermanent reports whether err is a 4xx rejection. Resending the same
// request will never succeed.
func IsPermanent(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code >= 400 && se.Code < 500
}

// IsTransient reports whether err is worth retrying: a 5xx or a transport
// failure that never produced a response.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500
	}
	return true
}

// checkStatus returns a *StatusError for non-2xx responses.
func checkStatus(status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}
	var resp ErrorResponse
	_ = json.Unmarshal(body, &resp)
	return &StatusError{Code: status, Message: resp.Message}
}
