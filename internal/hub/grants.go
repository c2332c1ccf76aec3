package hub

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidGrant = errors.New("invalid grant token")

const defaultGrantTTL = 4 * time.Hour

// HMACMinter issues signed media room tokens. The media backend shares the
// secret and verifies tokens on join; the relay never sees the token again.
type HMACMinter struct {
	secret []byte
	ttl    time.Duration
}

func NewHMACMinter(secret string, ttl time.Duration) *HMACMinter {
	if ttl <= 0 {
		ttl = defaultGrantTTL
	}
	return &HMACMinter{secret: []byte(secret), ttl: ttl}
}

// Mint returns a token binding userID to roomName until the TTL expires.
func (m *HMACMinter) Mint(roomName, userID string) (string, error) {
	if roomName == "" || userID == "" {
		return "", errors.New("room name and user id are required")
	}
	exp := time.Now().Add(m.ttl).UnixMilli()
	claims := fmt.Sprintf("%s|%s|%d", roomName, userID, exp)
	body := base64.RawURLEncoding.EncodeToString([]byte(claims))
	return body + "." + m.sign(body), nil
}

// Verify checks the signature and expiry and returns the room and user the
// token was minted for.
func (m *HMACMinter) Verify(token string) (roomName, userID string, err error) {
	body, sig, ok := strings.Cut(token, ".")
	if !ok || !hmac.Equal([]byte(sig), []byte(m.sign(body))) {
		return "", "", ErrInvalidGrant
	}

	raw, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return "", "", ErrInvalidGrant
	}
	parts := strings.Split(string(raw), "|")
	if len(parts) != 3 {
		return "", "", ErrInvalidGrant
	}
	exp, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || time.Now().UnixMilli() > exp {
		return "", "", ErrInvalidGrant
	}
	return parts[0], parts[1], nil
}

func (m *HMACMinter) sign(body string) string {
	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(body))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
