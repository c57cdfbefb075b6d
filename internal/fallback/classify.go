// Package fallback decides when the live coaching backend is abandoned for the local
// mock generator, and owns the short-lived notice shown to the user when that happens.
package fallback

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/BTreeMap/CoachPipe/internal/coach"
)

// NoticeClass groups failures by the banner shown to the user.
type NoticeClass string

const (
	NoticeBilling           NoticeClass = "billing_unavailable"
	NoticeRateLimited       NoticeClass = "rate_limited"
	NoticeServerUnavailable NoticeClass = "server_unavailable"
	NoticeFormatError       NoticeClass = "response_format_error"
)

// QuotaMarker in an error body means the backend's LLM billing is exhausted.
const QuotaMarker = "insufficient_quota"

var noticeText = map[NoticeClass]string{
	NoticeBilling:           "Live coach unavailable (billing). Switched to mock.",
	NoticeRateLimited:       "Too many requests. Switched to mock.",
	NoticeServerUnavailable: "Server unavailable. Switched to mock.",
	NoticeFormatError:       "Response format error. Switched to mock.",
}

// Text returns the banner message for the class.
func (c NoticeClass) Text() string {
	return noticeText[c]
}

// Decision is the outcome of classifying a failed turn.
type Decision struct {
	Class NoticeClass
	Pin   bool
}

// Classify maps a turn failure to a notice class. ok is false for errors that are
// not backend failures (for example a cancelled context) and must not trigger fallback.
func Classify(err error) (d Decision, ok bool) {
	var cerr *coach.Error
	if !errors.As(err, &cerr) {
		return Decision{}, false
	}
	if cerr.Kind == coach.KindTransport && errors.Is(cerr.Err, context.Canceled) {
		// The caller gave up; the backend did nothing wrong.
		return Decision{}, false
	}
	switch cerr.Kind {
	case coach.KindHTTP:
		switch {
		case cerr.Status == http.StatusPaymentRequired || strings.Contains(strings.ToLower(cerr.Body), QuotaMarker):
			return Decision{Class: NoticeBilling, Pin: true}, true
		case cerr.Status == http.StatusTooManyRequests:
			return Decision{Class: NoticeRateLimited, Pin: true}, true
		default:
			// 5xx and every other status share the generic server notice.
			return Decision{Class: NoticeServerUnavailable, Pin: true}, true
		}
	case coach.KindTransport:
		return Decision{Class: NoticeServerUnavailable, Pin: true}, true
	case coach.KindDecode:
		return Decision{Class: NoticeFormatError, Pin: true}, true
	}
	return Decision{}, false
}
