package webhook

import (
	"encoding/base64"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestVerifier(t *testing.T) *Verifier {
	t.Helper()
	secret := "whsec_" + base64.StdEncoding.EncodeToString([]byte("test-signing-key"))
	v, err := NewVerifier(secret)
	require.NoError(t, err)
	v.now = func() time.Time { return time.Unix(1700000000, 0) }
	return v
}

func validHeaders(v *Verifier, body []byte) (id, timestamp, signature string) {
	id = "msg_2a1b3c"
	timestamp = fmt.Sprintf("%d", v.now().Unix())
	signature = v.Sign(body, id, timestamp)
	return id, timestamp, signature
}

func TestNewVerifier(t *testing.T) {
	t.Run("rejects empty secret", func(t *testing.T) {
		_, err := NewVerifier("")
		assert.Error(t, err)
	})

	t.Run("rejects non-base64 secret", func(t *testing.T) {
		_, err := NewVerifier("whsec_!!!not-base64!!!")
		assert.Error(t, err)
	})

	t.Run("accepts secret without prefix", func(t *testing.T) {
		_, err := NewVerifier(base64.StdEncoding.EncodeToString([]byte("key")))
		assert.NoError(t, err)
	})
}

func TestVerifier_Verify(t *testing.T) {
	body := []byte(`{"type":"user.created","data":{"id":"user_1"}}`)

	t.Run("accepts a correctly signed delivery", func(t *testing.T) {
		v := newTestVerifier(t)
		id, ts, sig := validHeaders(v, body)
		assert.NoError(t, v.Verify(body, id, ts, sig))
	})

	t.Run("rejects a tampered body", func(t *testing.T) {
		v := newTestVerifier(t)
		id, ts, sig := validHeaders(v, body)
		tampered := []byte(`{"type":"user.created","data":{"id":"user_2"}}`)
		assert.ErrorIs(t, v.Verify(tampered, id, ts, sig), ErrSignatureInvalid)
	})

	t.Run("rejects a signature for different headers", func(t *testing.T) {
		v := newTestVerifier(t)
		_, ts, sig := validHeaders(v, body)
		assert.ErrorIs(t, v.Verify(body, "msg_other", ts, sig), ErrSignatureInvalid)
	})

	t.Run("rejects missing headers", func(t *testing.T) {
		v := newTestVerifier(t)
		id, ts, sig := validHeaders(v, body)

		assert.ErrorIs(t, v.Verify(body, "", ts, sig), ErrSignatureInvalid)
		assert.ErrorIs(t, v.Verify(body, id, "", sig), ErrSignatureInvalid)
		assert.ErrorIs(t, v.Verify(body, id, ts, ""), ErrSignatureInvalid)
	})

	t.Run("rejects an unparseable timestamp", func(t *testing.T) {
		v := newTestVerifier(t)
		id, _, _ := validHeaders(v, body)
		sig := v.Sign(body, id, "yesterday")
		assert.ErrorIs(t, v.Verify(body, id, "yesterday", sig), ErrSignatureInvalid)
	})

	t.Run("rejects a stale timestamp", func(t *testing.T) {
		v := newTestVerifier(t)
		stale := fmt.Sprintf("%d", v.now().Add(-10*time.Minute).Unix())
		sig := v.Sign(body, "msg_1", stale)
		assert.ErrorIs(t, v.Verify(body, "msg_1", stale, sig), ErrSignatureInvalid)
	})

	t.Run("rejects a future timestamp", func(t *testing.T) {
		v := newTestVerifier(t)
		future := fmt.Sprintf("%d", v.now().Add(10*time.Minute).Unix())
		sig := v.Sign(body, "msg_1", future)
		assert.ErrorIs(t, v.Verify(body, "msg_1", future, sig), ErrSignatureInvalid)
	})

	t.Run("accepts any matching entry among several", func(t *testing.T) {
		v := newTestVerifier(t)
		id, ts, sig := validHeaders(v, body)
		multi := "v1,AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA= " + sig
		assert.NoError(t, v.Verify(body, id, ts, multi))
	})

	t.Run("ignores entries with unknown versions", func(t *testing.T) {
		v := newTestVerifier(t)
		id, ts, sig := validHeaders(v, body)
		_, raw, ok := strings.Cut(sig, ",")
		require.True(t, ok)
		assert.ErrorIs(t, v.Verify(body, id, ts, "v2,"+raw), ErrSignatureInvalid)
	})

	t.Run("same-length wrong signature is rejected", func(t *testing.T) {
		v := newTestVerifier(t)
		id, ts, _ := validHeaders(v, body)
		wrong := "v1," + base64.StdEncoding.EncodeToString(make([]byte, 32))
		assert.ErrorIs(t, v.Verify(body, id, ts, wrong), ErrSignatureInvalid)
	})
}
