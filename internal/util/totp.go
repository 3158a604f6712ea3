package util

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"strings"
	"time"
)

const (
	totpPeriod = 30 * time.Second
	totpDigits = 5
)

// totpAlphabet matches the remote service's authenticator output.
var totpAlphabet = []byte("23456789BCDFGHJKMNPQRTVWXY")

// GenerateTOTP derives the current time-based one-time code from a base32
// authenticator secret.
func GenerateTOTP(secret string, now time.Time) (string, error) {
	normalized := strings.ToUpper(strings.ReplaceAll(secret, " ", ""))
	key, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.TrimRight(normalized, "="))
	if err != nil {
		return "", fmt.Errorf("failed to decode authenticator secret: %w", err)
	}

	counter := uint64(now.Unix()) / uint64(totpPeriod.Seconds())
	msg := make([]byte, 8)
	binary.BigEndian.PutUint64(msg, counter)

	mac := hmac.New(sha1.New, key)
	mac.Write(msg)
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0F
	code := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7FFFFFFF

	out := make([]byte, totpDigits)
	for i := range out {
		out[i] = totpAlphabet[code%uint32(len(totpAlphabet))]
		code /= uint32(len(totpAlphabet))
	}
	return string(out), nil
}
