package httpclient

import (
	"math/rand"
	"strings"
	"time"
)

// challengeBodyMarkers are the body substrings spec §4.2's Cloudflare
// detection rule requires alongside a challenge status/header before a
// response counts as an interstitial.
var challengeBodyMarkers = []string{
	"just a moment",
	"cf-chl",
	"cdn-cgi/challenge-platform",
	"attention required",
	"enable javascript and cookies",
	"checking your browser before accessing",
}

// soloChallengeMarkers are the subset of challengeBodyMarkers that alone
// (with no qualifying status/header) still mean "this is a challenge" —
// the fallback half of spec §4.2's detection rule.
var soloChallengeMarkers = []string{"cf-chl", "cdn-cgi/challenge-platform"}

// challengeBodyPeekBytes bounds how much of the body the detector scans,
// per spec §4.2 ("first 8 KiB, lowercased").
const challengeBodyPeekBytes = 8 * 1024

// IsChallenge reports whether resp looks like a Cloudflare interstitial
// rather than the site's real content (spec §4.2's Cloudflare detection
// rule, applied verbatim).
func IsChallenge(resp *Response) bool {
	if resp == nil {
		return false
	}

	body := resp.Body
	if len(body) > challengeBodyPeekBytes {
		body = body[:challengeBodyPeekBytes]
	}
	lower := strings.ToLower(string(body))

	hasMarker := false
	for _, marker := range challengeBodyMarkers {
		if strings.Contains(lower, marker) {
			hasMarker = true
			break
		}
	}
	if !hasMarker {
		return false
	}

	statusQualifies := (resp.StatusCode == 403 || resp.StatusCode == 429 || resp.StatusCode == 503) &&
		strings.Contains(strings.ToLower(resp.Header.Get("Server")), "cloudflare")
	if statusQualifies || resp.Header.Get("cf-ray") != "" {
		return true
	}

	for _, marker := range soloChallengeMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// jitter returns a random duration in [0, maxSeconds) seconds, used to
// desynchronize retries across concurrent lookups (spec §4.2 step 8).
func jitter(maxSeconds float64) time.Duration {
	return time.Duration(rand.Float64() * maxSeconds * float64(time.Second))
}
