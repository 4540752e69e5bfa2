package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RoleAdmin is the only staff role; it may issue, list and revoke.
const RoleAdmin = "admin"

const adminTokenType = "staff"

// Principal is an authenticated staff member.
type Principal struct {
	Email string
	Role  string
}

// AuthService issues and verifies staff bearer tokens.
type AuthService struct {
	jwtSecret []byte
	issuer    string
}

func NewAuthService(jwtSecret, issuer string) *AuthService {
	return &AuthService{
		jwtSecret: []byte(jwtSecret),
		issuer:    issuer,
	}
}

// ValidateJWT verifies a staff bearer token and returns the caller identity.
func (s *AuthService) ValidateJWT(ctx context.Context, tokenStr string) (*Principal, error) {
	if len(s.jwtSecret) == 0 {
		return nil, ErrInvalidCredentials
	}
	claims := &staffClaims{}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	}, opts...)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	if !token.Valid || claims.TokenType != adminTokenType || claims.Email == "" {
		return nil, ErrInvalidCredentials
	}

	return &Principal{
		Email: claims.Email,
		Role:  claims.Role,
	}, nil
}

// IssueJWT creates a signed staff token for email.
func (s *AuthService) IssueJWT(ctx context.Context, email string, ttl time.Duration) (string, error) {
	if len(s.jwtSecret) == 0 {
		return "", errors.New("jwt secret is not configured")
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", ErrInvalidRecipient
	}
	now := time.Now()
	claims := staffClaims{
		Email:     email,
		Role:      RoleAdmin,
		TokenType: adminTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    s.issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

type staffClaims struct {
	Email     string `json:"email"`
	Role      string `json:"role"`
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}
