package services

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("insufficient permissions")
)

// Role grants access to the analytics API. Operators may also change state,
// for example clearing alerts.
type Role string

const (
	RoleViewer   Role = "viewer"
	RoleOperator Role = "operator"
)

type contextKey string

const UserContextKey contextKey = "user_id"

type AuthService interface {
	GenerateToken(userID, username string, role Role) (string, error)
	ValidateToken(tokenString string) (*Claims, error)
	CheckRole(claims *Claims, required Role) error
	GetUserFromContext(ctx context.Context) (string, error)
}

type Claims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
	jwt.RegisteredClaims
}

type authService struct {
	jwtSecret      []byte
	accessTokenTTL time.Duration
	issuer         string
}

func NewAuthService(jwtSecret string, accessTokenTTL time.Duration, issuer string) AuthService {
	return &authService{
		jwtSecret:      []byte(jwtSecret),
		accessTokenTTL: accessTokenTTL,
		issuer:         issuer,
	}
}

func (s *authService) GenerateToken(userID, username string, role Role) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:   userID,
		Username: username,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *authService) ValidateToken(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.jwtSecret, nil
	}, opts...)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		if claims.Role == "" {
			claims.Role = RoleViewer
		}
		return claims, nil
	}

	return nil, ErrInvalidToken
}

func (s *authService) CheckRole(claims *Claims, required Role) error {
	if claims == nil {
		return ErrUnauthorized
	}
	roleLevel := map[Role]int{
		RoleViewer:   1,
		RoleOperator: 2,
	}
	if roleLevel[claims.Role] >= roleLevel[required] {
		return nil
	}
	return ErrForbidden
}

func (s *authService) GetUserFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(UserContextKey).(string)
	if !ok || userID == "" {
		return "", ErrUnauthorized
	}
	return userID, nil
}
