// internal/failure/classify.go
package failure

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"syscall"
	"time"

	"mcp-meal-vision/internal/models"
)

// maxChainDepth bounds the walk so classification stays constant time.
const maxChainDepth = 32

var validationPattern = regexp.MustCompile(`(?s)^Invalid (\w+): (.+)$`)

// evidence collects the first occurrence of each signal found in an error chain.
type evidence struct {
	network     bool
	status      *StatusError
	parse       bool
	denied      *StoreAccessDenied
	unavailable bool
	full        bool
	credential  bool
	camera      bool
	validation  *models.ValidationError
}

// Classify maps a raw failure onto exactly one ErrorKind. Rules are applied in
// priority order over the whole chain; the first one that matches wins.
func Classify(err error) ErrorKind {
	return classifyAt(err, time.Now())
}

func classifyAt(err error, now time.Time) ErrorKind {
	if err == nil {
		return UnknownError{}
	}

	var ev evidence
	depth := 0
	ev.collect(err, &depth)

	switch {
	case ev.network:
		return NetworkError{}
	case ev.status != nil && ev.status.Code >= 500 && ev.status.Code <= 599:
		return ServerError{StatusCode: ev.status.Code}
	case ev.status != nil && (ev.status.Code == http.StatusUnauthorized || ev.status.Code == http.StatusForbidden):
		return AuthError{}
	case ev.status != nil && ev.status.Code == http.StatusTooManyRequests:
		return RateLimitError{RetryAfter: parseRetryAfter(ev.status.RetryAfter, now)}
	case ev.parse:
		return ParseError{}
	case ev.denied != nil:
		perms := make([]string, len(ev.denied.Permissions))
		copy(perms, ev.denied.Permissions)
		return PermissionDenied{Permissions: perms}
	case ev.unavailable:
		return ExternalStoreUnavailable{}
	case ev.full:
		return StorageFull{}
	case ev.credential:
		return CredentialMissing{}
	case ev.camera:
		return CameraPermissionDenied{}
	}

	if ev.validation != nil {
		if m := validationPattern.FindStringSubmatch(ev.validation.Error()); m != nil {
			return ValidationError{Field: m[1], Reason: m[2]}
		}
	}
	return UnknownError{}
}

func (ev *evidence) collect(err error, depth *int) {
	for err != nil {
		*depth++
		if *depth > maxChainDepth {
			return
		}

		switch e := err.(type) {
		case *StatusError:
			if ev.status == nil {
				ev.status = e
			}
		case *ParseFailure, *json.SyntaxError, *json.UnmarshalTypeError:
			ev.parse = true
		case *StoreAccessDenied:
			if ev.denied == nil {
				ev.denied = e
			}
		case *StoreUnavailable:
			ev.unavailable = true
		case *StorageFullError:
			ev.full = true
		case *CredentialMissingError:
			ev.credential = true
		case *CameraAccessError:
			ev.camera = true
		case *models.ValidationError:
			if ev.validation == nil {
				ev.validation = e
			}
		case *net.OpError, *net.DNSError:
			ev.network = true
		case syscall.Errno:
			switch e {
			case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.ECONNABORTED,
				syscall.ENETUNREACH, syscall.EHOSTUNREACH, syscall.ETIMEDOUT, syscall.EPIPE:
				ev.network = true
			case syscall.ENOSPC:
				ev.full = true
			}
		case net.Error:
			if e.Timeout() {
				ev.network = true
			}
		}

		if err == context.DeadlineExceeded || err == io.ErrUnexpectedEOF {
			ev.network = true
		}

		switch u := err.(type) {
		case interface{ Unwrap() []error }:
			for _, inner := range u.Unwrap() {
				ev.collect(inner, depth)
			}
			return
		default:
			err = errors.Unwrap(err)
		}
	}
}

// parseRetryAfter accepts delta-seconds or an HTTP-date.
func parseRetryAfter(v string, now time.Time) *int {
	if v == "" {
		return nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return nil
		}
		return &secs
	}
	if at, err := http.ParseTime(v); err == nil {
		secs := int(at.Sub(now).Round(time.Second) / time.Second)
		if secs < 0 {
			secs = 0
		}
		return &secs
	}
	return nil
}
