// Package bridgehttp implements the bridge's signed REST surface described
// in spec.md §4.7/§6: `run`, `status`, `health`, each guarded by a
// Date-header skew check and an HMAC signature over a bit-exact string.
// Grounded on arkeep's server/internal/api package for router/handler/
// response shape; the signature primitive itself is stdlib crypto/hmac
// since no pack library offers a closer fit for a pre-shared-key scheme
// that isn't JWT/OIDC.
package bridgehttp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/openportal/mesh/internal/cryptutil"
	"github.com/openportal/mesh/internal/grammar"
)

// dateSkew is spec.md §4.7/§6: "Date: <RFC 2822> — must be within ±5
// minutes of the server clock."
const dateSkew = 5 * time.Minute

const authScheme = "OpenPortal"

// signatureString builds the bit-exact string spec.md §6 describes:
// "protocol (lowercased verb), literal \"\napplication/json\n\", RFC 2822
// date, \"\n\", function name, and if arguments present \"\n\" + canonical
// JSON of arguments."
func signatureString(method, date, function string, args any) (string, error) {
	s := strings.ToLower(method) + "\napplication/json\n" + date + "\n" + function
	if args == nil {
		return s, nil
	}
	canonical, err := canonicalJSON(args)
	if err != nil {
		return "", err
	}
	if canonical == "null" {
		return s, nil
	}
	return s + "\n" + canonical, nil
}

// canonicalJSON re-marshals v through a map so key order is stable
// regardless of struct field order, matching what a Python-side bridge
// client (encoding a dict) would produce.
func canonicalJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return "", err
	}
	out, err := json.Marshal(generic)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Sign computes the Authorization header value for a request. VerifyRequest
// recomputes it to check an inbound request; tests use it to sign the
// client side of the scheme.
func Sign(key cryptutil.Key, method, date, function string, args any) (string, error) {
	s, err := signatureString(method, date, function, args)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, key.Bytes())
	mac.Write([]byte(s))
	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return authScheme + " " + sig, nil
}

// VerifyRequest checks a request's Date header skew and Authorization
// signature against the expected function/arguments, spec.md §8's
// testable property 8.
func VerifyRequest(key cryptutil.Key, r *http.Request, function string, args any, now time.Time) error {
	dateHeader := r.Header.Get("Date")
	if dateHeader == "" {
		return grammar.New(grammar.KindInvalidPeer, "missing Date header")
	}
	date, err := time.Parse(time.RFC1123Z, dateHeader)
	if err != nil {
		date, err = time.Parse(time.RFC1123, dateHeader)
		if err != nil {
			return grammar.Wrap(grammar.KindParse, err, "invalid Date header %q", dateHeader)
		}
	}
	skew := now.Sub(date)
	if skew < 0 {
		skew = -skew
	}
	if skew > dateSkew {
		return grammar.New(grammar.KindInvalidPeer, "date skew %s exceeds %s", skew, dateSkew)
	}

	auth := r.Header.Get("Authorization")
	prefix := authScheme + " "
	if !strings.HasPrefix(auth, prefix) {
		return grammar.New(grammar.KindInvalidPeer, "missing or malformed Authorization header")
	}
	provided := strings.TrimPrefix(auth, prefix)

	expected, err := Sign(key, r.Method, dateHeader, function, args)
	if err != nil {
		return err
	}
	expectedSig := strings.TrimPrefix(expected, prefix)

	if !hmac.Equal([]byte(provided), []byte(expectedSig)) {
		return grammar.New(grammar.KindInvalidPeer, "signature mismatch")
	}
	return nil
}
