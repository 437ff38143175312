package telephony

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/url"
	"sort"
	"strings"
)

// SignatureHeader carries the provider's HMAC over the webhook URL and form.
const SignatureHeader = "X-Twilio-Signature"

// ComputeSignature returns the base64 HMAC-SHA1 of fullURL followed by every
// form key and value, keys sorted, keyed by the account's auth token.
// Ref: https://www.twilio.com/docs/usage/security#validating-requests
func ComputeSignature(authToken, fullURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		values := append([]string(nil), form[k]...)
		sort.Strings(values)
		for _, v := range values {
			b.WriteString(k)
			b.WriteString(v)
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// ValidSignature reports whether signature matches the request as the provider signed it.
func ValidSignature(authToken, fullURL string, form url.Values, signature string) bool {
	if authToken == "" || signature == "" {
		return false
	}
	want := ComputeSignature(authToken, fullURL, form)
	return hmac.Equal([]byte(want), []byte(signature))
}

// callStatuses is the closed set of call states the provider reports.
var callStatuses = map[string]bool{
	"queued":      true,
	"ringing":     true,
	"in-progress": true,
	"completed":   true,
	"busy":        true,
	"failed":      true,
	"no-answer":   true,
	"canceled":    true,
}

// CallStatusLabel maps a reported call status onto a bounded label value.
func CallStatusLabel(status string) string {
	switch {
	case status == "":
		return "unknown"
	case callStatuses[status]:
		return status
	default:
		return "other"
	}
}
