package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/localmesh/relay/internal/normalize"
)

// JWTVerifier validates HMAC-signed JWT tokens issued by the identity
// service. It supports a keyed set of secrets so token rotation is
// possible: tokens carry a "kid" header selecting the verification key,
// and new tokens are signed with the active kid.
type JWTVerifier struct {
	keys      map[string]string
	activeKid string
	duration  time.Duration
}

// Claims is the JWT payload shared with the identity service.
type Claims struct {
	UserID      string `json:"user_id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
	jwt.RegisteredClaims
}

// NewJWTVerifier returns a verifier with a single secret key.
func NewJWTVerifier(secret string, duration time.Duration) *JWTVerifier {
	return NewJWTVerifierFromKeys(map[string]string{"default": secret}, "default", duration)
}

// NewJWTVerifierFromKeys returns a verifier holding multiple kid:secret
// pairs. activeKid selects the key used when minting.
func NewJWTVerifierFromKeys(keys map[string]string, activeKid string, duration time.Duration) *JWTVerifier {
	if activeKid == "" {
		for k := range keys {
			activeKid = k
			break
		}
	}
	return &JWTVerifier{keys: keys, activeKid: activeKid, duration: duration}
}

// Mint issues a signed token for an identity. The relay itself only mints
// in tests and trusted internal flows; clients arrive with tokens from the
// identity service.
func (v *JWTVerifier) Mint(id Identity) (string, time.Time, error) {
	expiresAt := time.Now().Add(v.duration)

	claims := &Claims{
		UserID:      normalize.ID(id.ID),
		Email:       normalize.Email(id.Email),
		DisplayName: id.DisplayName,
		Role:        id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = v.activeKid

	signed, err := token.SignedString([]byte(v.keys[v.activeKid]))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Verify parses and validates a token and returns the identity it vouches
// for. Any parse or signature failure maps to ErrInvalidCredential.
func (v *JWTVerifier) Verify(tokenString string) (Identity, error) {
	if tokenString == "" {
		return Identity{}, ErrInvalidCredential
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		// Only HMAC signatures are accepted; reject anything else before
		// looking up a key.
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			kid = v.activeKid
		}
		secret, ok := v.keys[kid]
		if !ok {
			return nil, fmt.Errorf("unknown key id %q", kid)
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}

	if claims.UserID == "" {
		return Identity{}, fmt.Errorf("%w: token missing user id", ErrInvalidCredential)
	}

	name := claims.DisplayName
	if name == "" {
		name = claims.Email
	}
	return Identity{
		ID:          claims.UserID,
		Email:       claims.Email,
		DisplayName: name,
		Role:        claims.Role,
	}, nil
}
