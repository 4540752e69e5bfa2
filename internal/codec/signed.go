package codec

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenTypeTempAccess is the token_type claim of temporary access tokens.
const TokenTypeTempAccess = "temp_access"

var (
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrExpired          = errors.New("token expired")
	ErrWrongTokenType   = errors.New("wrong token type")
	errMissingSecret    = errors.New("signing secret is required")
)

// Claims are the contents of a signed temporary access token.
type Claims struct {
	ResourceID   string   `json:"resource_id"`
	JobLabel     string   `json:"job_label,omitempty"`
	Scope        []string `json:"scope"`
	Name         string   `json:"name,omitempty"`
	Organization string   `json:"org,omitempty"`
	TokenType    string   `json:"token_type"`
	jwt.RegisteredClaims
}

// Recipient returns the recipient identity the token is scoped to.
func (c *Claims) Recipient() string {
	return c.Subject
}

// Signer encodes and decodes HS256 temporary access tokens.
type Signer struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewSigner returns a Signer for the given secret. now supplies the clock used
// for issue times and expiry checks; nil means time.Now.
func NewSigner(secret, issuer string, now func() time.Time) (*Signer, error) {
	if secret == "" {
		return nil, errMissingSecret
	}
	if now == nil {
		now = time.Now
	}
	return &Signer{secret: []byte(secret), issuer: issuer, now: now}, nil
}

// Encode packs claims into a signed token valid for ttl. IssuedAt, ExpiresAt,
// ID and TokenType are filled in here; the returned Claims reflect them.
func (s *Signer) Encode(claims Claims, ttl time.Duration) (string, *Claims, error) {
	if ttl <= 0 {
		return "", nil, fmt.Errorf("ttl must be positive, got %s", ttl)
	}
	now := s.now().UTC()
	claims.TokenType = TokenTypeTempAccess
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	claims.ID = uuid.NewString()
	if s.issuer != "" {
		claims.Issuer = s.issuer
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", nil, fmt.Errorf("sign token: %w", err)
	}
	return signed, &claims, nil
}

// Decode verifies the token's signature, expiry and type and returns its
// claims. Failures are reported as ErrInvalidSignature, ErrExpired or
// ErrWrongTokenType.
func (s *Signer) Decode(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, ErrInvalidSignature
	}
	if !token.Valid {
		return nil, ErrInvalidSignature
	}

	if claims.TokenType != TokenTypeTempAccess {
		return nil, ErrWrongTokenType
	}
	if claims.Subject == "" || claims.ResourceID == "" {
		return nil, ErrInvalidSignature
	}
	return claims, nil
}
