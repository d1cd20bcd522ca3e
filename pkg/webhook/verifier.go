package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Delivery header names used by the provider's webhook transport.
const (
	HeaderID        = "svix-id"
	HeaderTimestamp = "svix-timestamp"
	HeaderSignature = "svix-signature"
)

// ErrSignatureInvalid is returned for every verification failure: a missing
// header, an unparseable or stale timestamp, or a signature mismatch. The
// same payload will never verify, so the caller should not retry this
// delivery; the provider retries the next legitimate attempt on its own.
var ErrSignatureInvalid = errors.New("invalid webhook signature")

// DefaultTolerance bounds how far a delivery timestamp may drift from the
// local clock before the delivery is rejected as a possible replay.
const DefaultTolerance = 5 * time.Minute

// Verifier validates that a delivery originated from the identity provider,
// using the shared signing secret and the per-delivery id and timestamp.
type Verifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

// NewVerifier builds a verifier from the provider's signing secret: the
// base64 key material after the "whsec_" prefix.
func NewVerifier(secret string) (*Verifier, error) {
	if secret == "" {
		return nil, errors.New("webhook signing secret is required")
	}
	key, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(secret, "whsec_"))
	if err != nil {
		return nil, fmt.Errorf("failed to decode webhook signing secret: %w", err)
	}
	return &Verifier{
		secret:    key,
		tolerance: DefaultTolerance,
		now:       time.Now,
	}, nil
}

// Verify checks the raw request body against the three delivery headers.
// It operates on raw bytes only; the body must not have been parsed or
// reserialized before this call. Fails closed on any missing input.
func (v *Verifier) Verify(body []byte, id, timestamp, signature string) error {
	if len(v.secret) == 0 {
		return ErrSignatureInvalid
	}
	if id == "" || timestamp == "" || signature == "" {
		return ErrSignatureInvalid
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrSignatureInvalid
	}
	if v.tolerance > 0 {
		drift := v.now().Sub(time.Unix(ts, 0))
		if drift > v.tolerance || drift < -v.tolerance {
			return ErrSignatureInvalid
		}
	}

	mac := hmac.New(sha256.New, v.secret)
	fmt.Fprintf(mac, "%s.%s.", id, timestamp)
	mac.Write(body)
	expected := mac.Sum(nil)

	// The signature header carries one or more space-separated versioned
	// entries ("v1,<base64>"); any v1 match passes. Comparison is
	// constant-time.
	for _, entry := range strings.Fields(signature) {
		version, sig, ok := strings.Cut(entry, ",")
		if !ok || version != "v1" {
			continue
		}
		decoded, err := base64.StdEncoding.DecodeString(sig)
		if err != nil {
			continue
		}
		if hmac.Equal(decoded, expected) {
			return nil
		}
	}
	return ErrSignatureInvalid
}

// Sign produces the v1 signature entry for a payload. Used by tests and by
// tooling that replays captured deliveries.
func (v *Verifier) Sign(body []byte, id, timestamp string) string {
	mac := hmac.New(sha256.New, v.secret)
	fmt.Fprintf(mac, "%s.%s.", id, timestamp)
	mac.Write(body)
	return "v1," + base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
