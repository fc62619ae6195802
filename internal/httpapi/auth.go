package httpapi

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Iterations = 120000
	pbkdf2KeyLen     = 32
	saltLen          = 16

	tokenTTL = 12 * time.Hour
)

// ErrBadPassword is returned when a submitted password doesn't match
// the configured hash.
var ErrBadPassword = errors.New("httpapi: bad password")

// ErrAuth is returned for a missing or invalid bearer token.
var ErrAuth = errors.New("httpapi: missing or invalid token")

// hashPassword derives a PBKDF2-SHA-256 hash for password, generating a
// fresh random salt. The stored form is "salt_hex:hash_hex".
func hashPassword(password string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	derived := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, pbkdf2KeyLen, sha256.New)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(derived), nil
}

// verifyPassword checks password against a hash produced by hashPassword.
func verifyPassword(password, stored string) bool {
	parts := strings.SplitN(stored, ":", 2)
	if len(parts) != 2 {
		return false
	}
	salt, err := hex.DecodeString(parts[0])
	if err != nil {
		return false
	}
	want, err := hex.DecodeString(parts[1])
	if err != nil {
		return false
	}
	got := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, pbkdf2KeyLen, sha256.New)
	return subtle.ConstantTimeCompare(got, want) == 1
}

// issueToken mints an opaque bearer token binding an expiry to the
// current password hash, so rotating the password invalidates every
// previously issued token. The token is HMAC-signed over the expiry
// and a fingerprint of the password hash; no session state is kept
// server-side, matching a single-operator deployment with no user
// store.
func issueToken(passwordHash string, now time.Time) string {
	exp := now.Add(tokenTTL).Unix()
	payload := fmt.Sprintf("%d", exp)
	mac := signToken(passwordHash, payload)
	return base64.RawURLEncoding.EncodeToString([]byte(payload)) + "." + mac
}

// verifyToken checks a bearer token against the currently configured
// password hash, rejecting expired or mis-signed tokens.
func verifyToken(token, passwordHash string, now time.Time) error {
	parts := strings.SplitN(token, ".", 2)
	if len(parts) != 2 {
		return ErrAuth
	}
	payloadRaw, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return ErrAuth
	}
	payload := string(payloadRaw)
	want := signToken(passwordHash, payload)
	if subtle.ConstantTimeCompare([]byte(want), []byte(parts[1])) != 1 {
		return ErrAuth
	}
	exp, err := strconv.ParseInt(payload, 10, 64)
	if err != nil {
		return ErrAuth
	}
	if now.Unix() > exp {
		return ErrAuth
	}
	return nil
}

func signToken(passwordHash, payload string) string {
	mac := hmac.New(sha256.New, []byte(passwordHash))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// bearerToken extracts the token from the Authorization header or the
// ?token= query parameter, preferring the header.
func bearerToken(authHeader, queryToken string) string {
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return queryToken
}
