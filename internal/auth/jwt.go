// Package auth - jwt.go issues and verifies the HS256 session tokens carried in the
// Authorization header or the session cookie. The secret comes from BANDYAB_JWT_SECRET.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTSecretEnv is the environment variable holding the signing secret
const JWTSecretEnv = "BANDYAB_JWT_SECRET"

const issuer = "bandyab"

var (
	jwtSecret     string
	jwtSecretOnce sync.Once
	jwtSecretErr  error
)

// Claims is the session token payload. Permissions are not embedded; they are
// derived from the profile on every request.
type Claims struct {
	AccountID string `json:"account_id"`
	jwt.RegisteredClaims
}

func isDevMode() bool {
	devMode := os.Getenv("BANDYAB_DEV_MODE")
	return devMode == "true" || devMode == "1" || os.Getenv("GIN_MODE") == "debug"
}

func generateRandomSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("dev-fallback-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

// ValidateJWTSecret checks that the signing secret is configured. Outside dev mode a
// missing secret is fatal; in dev mode a random one is generated and sessions do not
// survive a restart. Call this at startup.
func ValidateJWTSecret() error {
	jwtSecretOnce.Do(func() {
		secret := os.Getenv(JWTSecretEnv)
		if secret == "" {
			if isDevMode() {
				jwtSecret = generateRandomSecret()
				slog.Warn(JWTSecretEnv + " not set, using a generated secret; sessions will not persist across restarts")
			} else {
				jwtSecretErr = errors.New(JWTSecretEnv + " is required outside dev mode; generate one with: openssl rand -hex 32")
			}
			return
		}
		if len(secret) < 32 {
			slog.Warn(JWTSecretEnv + " is shorter than 32 characters")
		}
		jwtSecret = secret
	})
	return jwtSecretErr
}

// GetJWTSecret returns the validated secret, validating on first use.
// It panics when no secret can be established.
func GetJWTSecret() string {
	if jwtSecret == "" {
		if err := ValidateJWTSecret(); err != nil {
			panic(err)
		}
	}
	return jwtSecret
}

// GenerateJWT signs a session token for an account
func GenerateJWT(accountID string, expiresIn time.Duration) (string, error) {
	if expiresIn == 0 {
		expiresIn = 24 * time.Hour
	}
	now := time.Now()
	claims := &Claims{
		AccountID: accountID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   accountID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(GetJWTSecret()))
}

// ValidateJWT parses and verifies a session token
func ValidateJWT(tokenString string) (*Claims, error) {
	secret := GetJWTSecret()

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(issuer))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || claims.AccountID == "" {
		return nil, errors.New("invalid claims")
	}
	return claims, nil
}
