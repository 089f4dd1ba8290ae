package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"
)

const (
	SignatureHeader = "X-Dispatch-Signature"
	TimestampHeader = "X-Dispatch-Timestamp"
)

var (
	ErrBadSignature = errors.New("signature mismatch")
	ErrStale        = errors.New("signature timestamp outside tolerance")
)

// Sign returns the "v1=<hex>" HMAC-SHA256 of "<unix>.<payload>".
func Sign(secret string, payload []byte, at time.Time) (signature string, timestamp int64) {
	timestamp = at.Unix()
	return compute(secret, payload, timestamp), timestamp
}

func compute(secret string, payload []byte, timestamp int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return fmt.Sprintf("v1=%s", hex.EncodeToString(mac.Sum(nil)))
}

// Verify checks signature against payload. A zero tolerance disables the
// timestamp window check.
func Verify(secret string, payload []byte, timestamp int64, signature string, now time.Time, tolerance time.Duration) error {
	if tolerance > 0 {
		age := now.Sub(time.Unix(timestamp, 0))
		if age < 0 {
			age = -age
		}
		if age > tolerance {
			return ErrStale
		}
	}
	expected := compute(secret, payload, timestamp)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrBadSignature
	}
	return nil
}
