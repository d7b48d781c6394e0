package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	codeDigits = 6

	// SessionTokenPrefix distinguishes opaque OTP sessions from JWTs.
	SessionTokenPrefix = "otp_session_"
)

var codeSpace = big.NewInt(1_000_000)

// GenerateCode returns a uniformly random six digit code.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", codeDigits, n.Int64()), nil
}

// HashCode hashes a code with bcrypt.
func HashCode(code string, cost int) (string, error) {
	if len(code) == 0 {
		return "", errors.New("code is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyCode compares a submitted code with the stored hash in constant time.
func VerifyCode(hash, code string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(strings.TrimSpace(code))) == nil
}

func newSessionToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return SessionTokenPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// IsSessionToken reports whether token is an opaque OTP session token.
func IsSessionToken(token string) bool {
	return strings.HasPrefix(token, SessionTokenPrefix)
}

func tokenDigest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
