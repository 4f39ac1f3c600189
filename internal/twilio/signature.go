package twilio

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// SignatureHeader carries Twilio's request signature.
const SignatureHeader = "X-Twilio-Signature"

// Sign computes the signature Twilio sends for a POST to fullURL with params:
// base64(HMAC-SHA1(authToken, fullURL + each key and value in key order)).
func Sign(authToken, fullURL string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		for _, v := range params[k] {
			b.WriteString(k)
			b.WriteString(v)
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Valid reports whether signature matches the request parameters.
func Valid(authToken, fullURL string, params url.Values, signature string) bool {
	expected := Sign(authToken, fullURL, params)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// RequireSignature rejects requests whose X-Twilio-Signature does not match.
// publicURL is the externally visible scheme and host (Twilio signs the URL it
// called, which differs from r.Host behind a proxy); empty falls back to the
// request's own host. An empty authToken disables the check.
func RequireSignature(authToken, publicURL string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if authToken == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := r.ParseForm(); err != nil {
				http.Error(w, "Failed to parse form", http.StatusBadRequest)
				return
			}
			fullURL := requestURL(r, publicURL)
			if !Valid(authToken, fullURL, r.PostForm, r.Header.Get(SignatureHeader)) {
				log.Printf("twilio: rejected request to %s: bad signature", fullURL)
				http.Error(w, "Invalid signature", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestURL(r *http.Request, publicURL string) string {
	if publicURL != "" {
		return strings.TrimRight(publicURL, "/") + r.URL.RequestURI()
	}
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}
