package auth

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/gigboard/marketplace/internal/logger"
	"github.com/gigboard/marketplace/internal/models"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")

	// jwtKey starts from the environment and is replaced by InitJWTKey once config is loaded
	jwtKey = []byte(os.Getenv("JWT_SECRET"))
	log    = logger.New("auth")
)

const (
	tokenLifetime = 24 * time.Hour
	tokenIssuer   = "gigboard-marketplace"
)

// InitJWTKey sets the HMAC signing secret
func InitJWTKey(key []byte) {
	jwtKey = key
}

// JWTClaims carries the user id in the standard subject claim
type JWTClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// GenerateToken issues a token for user and returns it with its expiry
func GenerateToken(user *models.User) (string, time.Time, error) {
	if user == nil {
		return "", time.Time{}, errors.New("user cannot be nil")
	}
	if user.ID <= 0 {
		return "", time.Time{}, fmt.Errorf("cannot issue a token for user id %d", user.ID)
	}

	now := time.Now()
	expiresAt := now.Add(tokenLifetime)
	claims := &JWTClaims{
		Username: user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(user.ID, 10),
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(jwtKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ValidateToken checks signature, expiry and issuer. Failures wrap
// ErrExpiredToken or ErrInvalidToken.
func ValidateToken(tokenString string) (*JWTClaims, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	claims := &JWTClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return jwtKey, nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrExpiredToken
	case err != nil:
		log.Debug("Token rejected: %v", err)
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	case !token.Valid:
		return nil, ErrInvalidToken
	}

	if !claims.VerifyIssuer(tokenIssuer, true) {
		return nil, fmt.Errorf("%w: unexpected issuer %q", ErrInvalidToken, claims.Issuer)
	}
	return claims, nil
}

// GetUserIDFromToken parses the subject claim
func GetUserIDFromToken(claims *JWTClaims) (int64, error) {
	if claims == nil {
		return 0, errors.New("claims cannot be nil")
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: bad subject %q", ErrInvalidToken, claims.Subject)
	}
	return id, nil
}

// Authenticate validates tokenString and returns the user it was issued to
func Authenticate(tokenString string) (int64, *JWTClaims, error) {
	claims, err := ValidateToken(tokenString)
	if err != nil {
		return 0, nil, err
	}
	id, err := GetUserIDFromToken(claims)
	if err != nil {
		return 0, nil, err
	}
	return id, claims, nil
}
