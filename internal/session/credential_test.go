package session

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time          { return c.now }
func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestValidator() (*Validator, *clock) {
	c := &clock{now: time.Date(2024, 9, 1, 9, 0, 0, 0, time.UTC)}
	v := NewValidator([]byte("test-secret"))
	v.nowF = c.Now
	return v, c
}

func TestValidator_MintThenValidate(t *testing.T) {
	v, _ := newTestValidator()

	cred, exp, err := v.Mint("42")
	require.NoError(t, err)
	require.NotEmpty(t, cred)
	require.Equal(t, v.nowF().Add(Timeout), exp)

	verdict := v.Validate(cred)
	require.True(t, verdict.Authenticated())
	require.Equal(t, "42", verdict.Subject)
	require.True(t, verdict.Refreshed)
	require.False(t, verdict.Expired)
	require.NotEmpty(t, verdict.Credential)
}

func TestValidator_MintRejectsEmptySubject(t *testing.T) {
	v, _ := newTestValidator()
	_, _, err := v.Mint("")
	require.Error(t, err)
}

func TestValidator_SlidingExpiry(t *testing.T) {
	v, c := newTestValidator()
	const eps = time.Second

	cred, _, err := v.Mint("7")
	require.NoError(t, err)

	// t0: validate, which stamps lat = t0
	first := v.Validate(cred)
	require.True(t, first.Authenticated())
	t0 := c.Now()

	// just inside the window: accepted and lat moves forward
	c.Advance(Timeout - eps)
	second := v.Validate(first.Credential)
	require.True(t, second.Authenticated())
	claims, err := v.Inspect(second.Credential)
	require.NoError(t, err)
	require.Equal(t, t0.Add(Timeout-eps).UnixMilli(), claims.LastActivity)

	// the old credential is still judged from its own lat
	c.Advance(2 * eps)
	stale := v.Validate(first.Credential)
	require.False(t, stale.Authenticated())
	require.True(t, stale.Expired)

	// the refreshed one is measured from the new lat
	fresh := v.Validate(second.Credential)
	require.True(t, fresh.Authenticated())

	// idle past the timeout from the latest refresh: expired
	c.Advance(Timeout + eps)
	expired := v.Validate(fresh.Credential)
	require.False(t, expired.Authenticated())
	require.True(t, expired.Expired)
	require.Empty(t, expired.Subject)
	require.Empty(t, expired.Credential)
}

func TestValidator_ExpiresExactlyAtTimeout(t *testing.T) {
	v, c := newTestValidator()
	cred, _, err := v.Mint("7")
	require.NoError(t, err)

	c.Advance(Timeout)
	verdict := v.Validate(cred)
	require.True(t, verdict.Expired)
}

func TestValidator_PreservesIdentityClaims(t *testing.T) {
	v, c := newTestValidator()
	cred, _, err := v.Mint("9")
	require.NoError(t, err)
	orig, err := v.Inspect(cred)
	require.NoError(t, err)

	c.Advance(time.Minute)
	verdict := v.Validate(cred)
	refreshed, err := v.Inspect(verdict.Credential)
	require.NoError(t, err)

	require.Equal(t, orig.ID, refreshed.ID)
	require.Equal(t, orig.IssuedAt.Unix(), refreshed.IssuedAt.Unix())
	require.Greater(t, refreshed.LastActivity, orig.LastActivity)
}

func TestValidator_AnonymousVerdicts(t *testing.T) {
	v, _ := newTestValidator()

	other := NewValidator([]byte("other-secret"))
	other.nowF = v.nowF
	foreign, _, err := other.Mint("1")
	require.NoError(t, err)

	noneAlg := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "1", Issuer: issuer},
		LastActivity:     v.nowF().UnixMilli(),
	})
	unsigned, err := noneAlg.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, cred := range map[string]string{
		"absent":       "",
		"garbage":      "not.a.jwt",
		"wrong secret": foreign,
		"alg none":     unsigned,
	} {
		t.Run(name, func(t *testing.T) {
			verdict := v.Validate(cred)
			require.False(t, verdict.Authenticated())
			require.False(t, verdict.Expired)
			require.False(t, verdict.Refreshed)
		})
	}
}

func TestValidator_Remaining(t *testing.T) {
	v, c := newTestValidator()
	cred, _, err := v.Mint("3")
	require.NoError(t, err)

	c.Advance(10 * time.Minute)
	claims, err := v.Inspect(cred)
	require.NoError(t, err)
	require.Equal(t, 20*time.Minute, v.Remaining(claims))
}

func TestValidator_ReportsIdleTime(t *testing.T) {
	v, c := newTestValidator()
	cred, _, err := v.Mint("7")
	require.NoError(t, err)

	c.Advance(12 * time.Minute)
	verdict := v.Validate(cred)
	require.True(t, verdict.Authenticated())
	require.Equal(t, 12*time.Minute, verdict.Idle)

	c.Advance(3 * time.Minute)
	verdict = v.Validate(verdict.Credential)
	require.Equal(t, 3*time.Minute, verdict.Idle)

	c.Advance(Timeout)
	verdict = v.Validate(verdict.Credential)
	require.True(t, verdict.Expired)
	require.Zero(t, verdict.Idle)
}
