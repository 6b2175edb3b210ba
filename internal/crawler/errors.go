package crawler

import "fmt"

// Kind is one of the closed set of failure categories a site crawler can
// report back to the fanout engine (spec §7).
type Kind int

const (
	// KindNumberEmpty means the input carried no usable catalog number.
	KindNumberEmpty Kind = iota
	// KindHTTPFailure covers any non-2xx/timeout response the client gave up on.
	KindHTTPFailure
	// KindTimeout means the per-site lookup exceeded its allotted time.
	KindTimeout
	// KindChallengeUnresolved means a Cloudflare challenge could not be cleared.
	KindChallengeUnresolved
	// KindParseFailure means the page was fetched but its shape didn't match
	// what the parser expected (layout change, A/B test, localized variant).
	KindParseFailure
	// KindSoftNotFound means the site returned 200 but the content is a
	// "not found" page in disguise (spec §4.4's soft-404 handling).
	KindSoftNotFound
	// KindNumberMismatch means the detail page was fetched but its own
	// displayed number doesn't match the one being looked up.
	KindNumberMismatch
)

func (k Kind) String() string {
	switch k {
	case KindNumberEmpty:
		return "number_empty"
	case KindHTTPFailure:
		return "http_failure"
	case KindTimeout:
		return "timeout"
	case KindChallengeUnresolved:
		return "challenge_unresolved"
	case KindParseFailure:
		return "parse_failure"
	case KindSoftNotFound:
		return "soft_not_found"
	case KindNumberMismatch:
		return "number_mismatch"
	default:
		return "unknown"
	}
}

// Error wraps a Kind with the site and an optional underlying cause, so
// callers can both errors.Is against a Kind and unwrap to inspect cause.
type Error struct {
	Kind  Kind
	Site  string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Site, e.Kind, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Site, e.Kind)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, crawler.Error{Kind: KindTimeout}) style sentinel
// comparisons work without callers needing the site or cause populated.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New constructs an *Error for the given site and kind.
func New(site string, kind Kind, cause error) *Error {
	return &Error{Kind: kind, Site: site, Cause: cause}
}

// Sentinel kinds for errors.Is comparisons, e.g. errors.Is(err, crawler.ErrTimeout).
var (
	ErrNumberEmpty         = &Error{Kind: KindNumberEmpty}
	ErrHTTPFailure         = &Error{Kind: KindHTTPFailure}
	ErrTimeout             = &Error{Kind: KindTimeout}
	ErrChallengeUnresolved = &Error{Kind: KindChallengeUnresolved}
	ErrParseFailure        = &Error{Kind: KindParseFailure}
	ErrSoftNotFound        = &Error{Kind: KindSoftNotFound}
	ErrNumberMismatch      = &Error{Kind: KindNumberMismatch}
)
