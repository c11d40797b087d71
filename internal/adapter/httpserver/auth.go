package httpserver

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
)

// Argon2Params defines parameters for Argon2id password hashing.
type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLen     uint32
	KeyLen      uint32
}

var defaultArgon2Params = Argon2Params{
	Memory:      64 * 1024, // 64 MB
	Iterations:  3,
	Parallelism: 2,
	SaltLen:     16,
	KeyLen:      32,
}

// HashPassword creates an Argon2id hash of the password.
func HashPassword(password string, params Argon2Params) (string, error) {
	salt := make([]byte, params.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey([]byte(password), salt, params.Iterations, params.Memory, params.Parallelism, params.KeyLen)

	// Format: argon2id$iterations$memory$parallelism$salt$hash (base64 encoded)
	encoded := fmt.Sprintf("argon2id$%d$%d$%d$%s$%s",
		params.Iterations,
		params.Memory,
		params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	)
	return encoded, nil
}

// VerifyPassword verifies a password against its Argon2id hash. A stored
// credential that is not in hash format is compared in constant time, which
// keeps local dev setups with plain env passwords working.
func VerifyPassword(password, stored string) bool {
	parts := strings.Split(stored, "$")
	if len(parts) != 6 || parts[0] != "argon2id" {
		return subtle.ConstantTimeCompare([]byte(password), []byte(stored)) == 1
	}
	iters, err1 := parseUint32(parts[1])
	mem, err2 := parseUint32(parts[2])
	par64, err3 := parseUint32(parts[3])
	if err1 != nil || err2 != nil || err3 != nil {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	expectedHash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false
	}

	var par uint8
	if par64 > math.MaxUint8 {
		par = math.MaxUint8
	} else {
		par = uint8(par64)
	}
	keyLen := defaultArgon2Params.KeyLen
	if len(expectedHash) > 0 {
		keyLen = uint32(len(expectedHash))
	}
	actualHash := argon2.IDKey([]byte(password), salt, iters, mem, par, keyLen)
	return subtle.ConstantTimeCompare(actualHash, expectedHash) == 1
}

// TokenIssuer mints and validates HMAC-signed bearer tokens for the admin
// API. A token carries the username and an expiry; there is no server-side
// session store.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenIssuer creates a TokenIssuer signing with secret.
func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl}
}

// Issue returns a signed token for username.
func (ti *TokenIssuer) Issue(username string) string {
	expiresAt := time.Now().Add(ti.ttl)
	payload := fmt.Sprintf("%s:%d", username, expiresAt.Unix())
	mac := hmac.New(sha256.New, ti.secret)
	mac.Write([]byte(payload))
	signature := base64.URLEncoding.EncodeToString(mac.Sum(nil))
	return base64.URLEncoding.EncodeToString([]byte(payload)) + "." + signature
}

// Validate checks the token signature and expiry and returns the username.
func (ti *TokenIssuer) Validate(token string) (string, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid token format")
	}
	payloadRaw, err := base64.URLEncoding.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("invalid payload encoding")
	}
	mac := hmac.New(sha256.New, ti.secret)
	mac.Write(payloadRaw)
	expected := mac.Sum(nil)
	actual, err := base64.URLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("invalid signature encoding")
	}
	if !hmac.Equal(expected, actual) {
		return "", fmt.Errorf("invalid token signature")
	}

	payloadParts := strings.Split(string(payloadRaw), ":")
	if len(payloadParts) != 2 {
		return "", fmt.Errorf("invalid payload format")
	}
	expiresAt := time.Unix(parseInt64(payloadParts[1]), 0)
	if time.Now().After(expiresAt) {
		return "", fmt.Errorf("token expired")
	}
	return payloadParts[0], nil
}

// AdminGuard protects admin routes. It accepts either a bearer token minted
// by the login endpoint or HTTP Basic credentials, so both interactive
// tooling and one-shot curl invocations work.
func (s *Server) AdminGuard() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				token := strings.TrimPrefix(auth, "Bearer ")
				if _, err := s.tokens.Validate(token); err == nil {
					next.ServeHTTP(w, r)
					return
				}
			}
			if user, pass, ok := r.BasicAuth(); ok {
				userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.cfg.AdminUsername)) == 1
				if userOK && VerifyPassword(pass, s.cfg.AdminPassword) {
					next.ServeHTTP(w, r)
					return
				}
			}
			w.Header().Set("WWW-Authenticate", `Basic realm="admin"`)
			writeError(w, errUnauthorized)
		})
	}
}

func parseInt64(s string) int64 {
	x, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return x
}

func parseUint32(s string) (uint32, error) {
	x, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("parse")
	}
	return uint32(x), nil
}
