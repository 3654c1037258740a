package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

// DefaultTolerance is the freshness window for the signing timestamp. Older
// payloads are rejected to block replay of captured requests.
const DefaultTolerance = 5 * time.Minute

var (
	ErrSignatureMalformed = errors.New("webhook signature header is malformed")
	ErrSignatureStale     = errors.New("webhook signing timestamp outside tolerance")
	ErrSignatureInvalid   = errors.New("webhook signature mismatch")
)

// VerifySignature checks a signature header of the form
// "t=<unix>,v1=<hex hmac>" against the raw body. The MAC is HMAC-SHA256 over
// "<t>.<body>" with the shared secret. Multiple v1 entries are accepted to
// allow secret rotation.
func VerifySignature(payload []byte, signatureHeader, webhookSecret string, tolerance time.Duration, now time.Time) error {
	header := strings.TrimSpace(signatureHeader)
	secret := strings.TrimSpace(webhookSecret)
	if header == "" || secret == "" {
		return ErrSignatureMalformed
	}

	var timestamp int64
	var candidates [][]byte
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return ErrSignatureMalformed
			}
			timestamp = ts
		case "v1":
			sig, err := hex.DecodeString(strings.ToLower(v))
			if err != nil {
				return ErrSignatureMalformed
			}
			candidates = append(candidates, sig)
		}
	}
	if timestamp == 0 || len(candidates) == 0 {
		return ErrSignatureMalformed
	}

	if tolerance > 0 {
		age := now.Sub(time.Unix(timestamp, 0))
		if age > tolerance || age < -tolerance {
			return ErrSignatureStale
		}
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := mac.Sum(nil)

	for _, candidate := range candidates {
		if hmac.Equal(expected, candidate) {
			return nil
		}
	}
	return ErrSignatureInvalid
}

// SignPayload produces a signature header for the given body, used by tests
// and by the local webhook replay tool.
func SignPayload(payload []byte, webhookSecret string, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	return "t=" + ts + ",v1=" + hex.EncodeToString(mac.Sum(nil))
}
