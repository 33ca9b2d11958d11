package utils

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the client, processor and image packages.
// Callers test them with errors.Is.
var (
	ErrUnauthorized         = errors.New("unauthorized")
	ErrForbidden            = errors.New("forbidden")
	ErrNotFound             = errors.New("not found")
	ErrBadRequest           = errors.New("bad request")
	ErrMaxTries             = errors.New("max tries exhausted")
	ErrTileFetch            = errors.New("tile fetch failure")
	ErrUnsupportedImageType = errors.New("unsupported image type")
	ErrMissingIdahoImages   = errors.New("no idaho images found")
	ErrAcompUnavailable     = errors.New("acomp unavailable")
	ErrAOIDisjoint          = errors.New("aoi disjoint from image")
	ErrAOIOutOfBounds       = errors.New("aoi out of image bounds")
	ErrBadGraph             = errors.New("bad graph")
	ErrBadParameter         = errors.New("bad parameter")
)

// HTTPStatusError maps a response status onto an error kind, keeping
// the server message when one was sent.
func HTTPStatusError(status int, url, serverMsg string) error {
	var kind error
	switch status {
	case 401:
		kind = ErrUnauthorized
	case 403:
		kind = ErrForbidden
	case 404:
		kind = ErrNotFound
	default:
		if status >= 400 && status < 500 {
			kind = ErrBadRequest
		} else {
			kind = fmt.Errorf("http status %d", status)
		}
	}
	if len(serverMsg) > 0 {
		return fmt.Errorf("%s: %s: %w", url, serverMsg, kind)
	}
	return fmt.Errorf("%s: %w", url, kind)
}
