package atproto

import (
	"errors"
	"fmt"
)

var (
	// ErrNotAuthenticated is returned when an operation needs a session and there is none.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrEmptyContent is returned by Publish when the trimmed content is empty.
	ErrEmptyContent = errors.New("content is empty")
	// ErrInvalidInput reports missing login arguments.
	ErrInvalidInput = errors.New("invalid input")
)

// XRPCError is a non-2xx XRPC response.
type XRPCError struct {
	NSID    string `json:"-"`
	Status  int    `json:"-"`
	Name    string `json:"error"`
	Message string `json:"message"`
}

func (e *XRPCError) Error() string {
	switch {
	case e.Name != "" && e.Message != "":
		return fmt.Sprintf("%s: %d %s: %s", e.NSID, e.Status, e.Name, e.Message)
	case e.Name != "":
		return fmt.Sprintf("%s: %d %s", e.NSID, e.Status, e.Name)
	default:
		return fmt.Sprintf("%s: status %d", e.NSID, e.Status)
	}
}

// tokenExpired reports whether err is the server rejecting an expired access token.
func tokenExpired(err error) bool {
	var xe *XRPCError
	if !errors.As(err, &xe) {
		return false
	}
	return xe.Name == "ExpiredToken" || (xe.Status == 401 && xe.Name == "")
}
