package portal

import (
	"errors"
	"fmt"
	"sort"

	"github.com/goodtune/labportal/internal/identity"
)

// NoticeKind selects how a notice is styled.
type NoticeKind string

const (
	NoticeSuccess NoticeKind = "success"
	NoticeInfo    NoticeKind = "info"
	NoticeError   NoticeKind = "error"
)

// Notice is a transient, dismissable message.
type Notice struct {
	Kind NoticeKind `json:"kind"`
	Text string     `json:"text"`
}

const (
	msgLoginSuccess       = "Login successful! Redirecting..."
	msgInvalidCredentials = "Invalid credentials. Please try again."
	msgAccountCreating    = "Account created! Logging you in..."
	msgAccountCreated     = "Account created successfully!"
	msgPleaseLogin        = "Please login with your credentials."
	msgCannotConnect      = "Cannot connect to server. Please make sure the identity service is running."
	msgRegistrationFailed = "Registration failed."
)

// RegistrationNotices turns a failed account creation into notices. The
// first matching shape wins: unreachable backend, per-field validation,
// server message, error text, then a generic fallback.
func RegistrationNotices(err error) []Notice {
	if err == nil {
		return nil
	}

	if errors.Is(err, identity.ErrUnavailable) {
		return []Notice{{Kind: NoticeError, Text: msgCannotConnect}}
	}

	var rerr *identity.ResponseError
	if errors.As(err, &rerr) {
		if len(rerr.Fields) > 0 {
			fields := make([]string, 0, len(rerr.Fields))
			for field := range rerr.Fields {
				fields = append(fields, field)
			}
			sort.Strings(fields)

			notices := make([]Notice, 0, len(fields))
			for _, field := range fields {
				fe := rerr.Fields[field]
				text := fe.Message
				if text == "" {
					text = fe.Code
				}
				if text == "" {
					text = "Invalid value"
				}
				notices = append(notices, Notice{Kind: NoticeError, Text: fmt.Sprintf("%s: %s", field, text)})
			}
			return notices
		}
		if rerr.Message != "" {
			return []Notice{{Kind: NoticeError, Text: rerr.Message}}
		}
		return []Notice{{Kind: NoticeError, Text: msgRegistrationFailed}}
	}

	if text := err.Error(); text != "" {
		return []Notice{{Kind: NoticeError, Text: text}}
	}
	return []Notice{{Kind: NoticeError, Text: msgRegistrationFailed}}
}
