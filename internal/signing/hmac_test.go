package signing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSignVerify(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	payload := []byte(`{"token":"abc","title":"Order picked up"}`)

	sig, ts := Sign("secret", payload, now)
	require.Equal(t, now.Unix(), ts)
	require.Contains(t, sig, "v1=")

	require.NoError(t, Verify("secret", payload, ts, sig, now.Add(time.Minute), 5*time.Minute))
	require.ErrorIs(t, Verify("other", payload, ts, sig, now, 0), ErrBadSignature)
	require.ErrorIs(t, Verify("secret", []byte(`{}`), ts, sig, now, 0), ErrBadSignature)
	require.ErrorIs(t, Verify("secret", payload, ts, sig, now.Add(time.Hour), 5*time.Minute), ErrStale)
}

func TestSignIsDeterministic(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	a, _ := Sign("k", []byte("x"), now)
	b, _ := Sign("k", []byte("x"), now)
	require.Equal(t, a, b)
}
