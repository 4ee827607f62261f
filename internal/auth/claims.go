package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Issuer is the iss claim of every token.
const Issuer = "lightlink"

// Token scopes.
const (
	ScopeBroker = "mqtt"
	ScopeAPI    = "api"
)

// DefaultTTL applies when a non-positive TTL is requested.
const DefaultTTL = 60 * time.Minute

// Claims extends the registered JWT claims with a scope.
type Claims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope"`
}

// GenerateBrokerToken creates a signed token identifying clientID to the
// MQTT broker.
func GenerateBrokerToken(clientID, secret string, ttl time.Duration) (string, error) {
	return generate(clientID, ScopeBroker, secret, ttl, time.Now())
}

// GenerateAPIToken creates a signed bearer token for the status API.
func GenerateAPIToken(subject, secret string, ttl time.Duration) (string, error) {
	return generate(subject, ScopeAPI, secret, ttl, time.Now())
}

func generate(subject, scope, secret string, ttl time.Duration, now time.Time) (string, error) {
	if secret == "" {
		return "", ErrNoSecret
	}
	if subject == "" {
		return "", ErrNoSubject
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		Scope: scope,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing %s token: %w", scope, err)
	}
	return signed, nil
}

// ParseToken validates the signature, expiry and issuer of a token and
// returns its claims.
func ParseToken(tokenString, secret string) (*Claims, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %w", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	return claims, nil
}

// ParseScoped is ParseToken plus a scope check.
func ParseScoped(tokenString, secret, scope string) (*Claims, error) {
	claims, err := ParseToken(tokenString, secret)
	if err != nil {
		return nil, err
	}
	if claims.Scope != scope {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrWrongScope, claims.Scope, scope)
	}
	return claims, nil
}

// BrokerCredentials returns a hook that mints a fresh broker token for
// every connection attempt. The username defaults to clientID.
func BrokerCredentials(clientID, username, secret string, ttl time.Duration) func() (string, string, error) {
	if username == "" {
		username = clientID
	}
	return func() (string, string, error) {
		token, err := GenerateBrokerToken(clientID, secret, ttl)
		if err != nil {
			return "", "", err
		}
		return username, token, nil
	}
}
