// Package session issues and validates the signed session credential.
//
// The credential is an HS256 JWT that records when its holder was last
// active. Expiry slides: every successful validation re-signs the
// credential with a fresh activity timestamp, and a credential whose holder
// has been idle for Timeout or longer is rejected. Expired, malformed and
// absent credentials all come back as an anonymous Verdict so callers have a
// single path for "not signed in".
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// Timeout is how long a session survives without a validated request.
	Timeout = 30 * time.Minute
	// WarningWindow is how long before expiry a client should warn its user.
	WarningWindow = 5 * time.Minute

	CookieName = "session"
	HeaderName = "X-Session-Token"

	issuer = "campusgate"
)

var (
	// ErrExpired is returned by Inspect for a credential idle past Timeout.
	ErrExpired = errors.New("session expired")
	// ErrInvalid is returned by Inspect for credentials that fail verification.
	ErrInvalid = errors.New("invalid session credential")
)

// Claims is the credential body. LastActivity is unix milliseconds.
type Claims struct {
	jwt.RegisteredClaims
	LastActivity int64 `json:"lat"`
}

// LastActivityTime returns LastActivity as a time.Time.
func (c *Claims) LastActivityTime() time.Time {
	return time.UnixMilli(c.LastActivity)
}

// Verdict is the result of Validate. A zero Subject means anonymous.
type Verdict struct {
	Subject string
	// Credential is the re-signed credential; empty unless Refreshed.
	Credential string
	ExpiresAt  time.Time
	// Idle is how long the holder had been inactive before this validation.
	Idle      time.Duration
	Refreshed bool
	Expired   bool
}

// Authenticated reports whether the verdict carries a subject.
func (v Verdict) Authenticated() bool { return v.Subject != "" }

// Validator mints and validates credentials.
type Validator struct {
	secret  []byte
	timeout time.Duration
	nowF    func() time.Time
}

// NewValidator returns a Validator signing with secret.
func NewValidator(secret []byte) *Validator {
	return NewValidatorWithClock(secret, time.Now)
}

// NewValidatorWithClock is NewValidator reading time from now.
func NewValidatorWithClock(secret []byte, now func() time.Time) *Validator {
	return &Validator{secret: secret, timeout: Timeout, nowF: now}
}

// Now reports the validator's current time.
func (v *Validator) Now() time.Time { return v.nowF() }

// Mint issues a fresh credential for subject, as done at login.
func (v *Validator) Mint(subject string) (string, time.Time, error) {
	if subject == "" {
		return "", time.Time{}, errors.New("session: empty subject")
	}
	now := v.nowF()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  subject,
			Issuer:   issuer,
			ID:       uuid.NewString(),
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	return v.sign(claims, now)
}

// Validate checks credential and, when it is live, slides its expiry to
// now + Timeout. It never returns an error: failures come back as an
// anonymous Verdict, with Expired set when idleness was the cause.
func (v *Validator) Validate(credential string) Verdict {
	claims, err := v.Inspect(credential)
	if err != nil {
		return Verdict{Expired: errors.Is(err, ErrExpired)}
	}
	now := v.nowF()
	idle := now.Sub(claims.LastActivityTime())
	token, exp, err := v.sign(claims, now)
	if err != nil {
		return Verdict{}
	}
	return Verdict{
		Subject:    claims.Subject,
		Credential: token,
		ExpiresAt:  exp,
		Idle:       idle,
		Refreshed:  true,
	}
}

// Inspect verifies credential without refreshing it.
func (v *Validator) Inspect(credential string) (*Claims, error) {
	if credential == "" {
		return nil, ErrInvalid
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(credential, claims, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(v.nowF),
		jwt.WithLeeway(time.Second),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if claims.Subject == "" || claims.LastActivity == 0 {
		return nil, ErrInvalid
	}
	if v.nowF().Sub(claims.LastActivityTime()) >= v.timeout {
		return nil, ErrExpired
	}
	return claims, nil
}

// Remaining reports how long the holder of claims may stay idle.
func (v *Validator) Remaining(claims *Claims) time.Duration {
	d := v.timeout - v.nowF().Sub(claims.LastActivityTime())
	if d < 0 {
		return 0
	}
	return d
}

func (v *Validator) sign(claims *Claims, now time.Time) (string, time.Time, error) {
	exp := now.Add(v.timeout)
	claims.LastActivity = now.UnixMilli()
	claims.ExpiresAt = jwt.NewNumericDate(exp)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, exp, nil
}
