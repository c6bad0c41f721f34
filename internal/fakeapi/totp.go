package fakeapi

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"strings"
	"time"
)

const (
	totpDigits = 6
	totpStep   = 30 * time.Second
	// totpSkew is how many steps either side of now a code stays accepted.
	totpSkew = 1
)

var totpEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// verifyTOTPCode checks a code typed by the user against secret. Spaces are
// ignored and a code from one step early or late still passes.
func verifyTOTPCode(secret, code string, now time.Time) bool {
	code = strings.ReplaceAll(strings.TrimSpace(code), " ", "")
	if len(code) != totpDigits || strings.Trim(code, "0123456789") != "" {
		return false
	}
	key, err := decodeTOTPSecret(secret)
	if err != nil {
		return false
	}

	step := totpCounter(now)
	for d := -totpSkew; d <= totpSkew; d++ {
		want := hotp(key, step+uint64(d))
		if subtle.ConstantTimeCompare([]byte(want), []byte(code)) == 1 {
			return true
		}
	}
	return false
}

// TOTPCode is what an authenticator app shows for secret at the given time.
// Tests use it to answer the two factor challenge.
func TOTPCode(secret string, at time.Time) (string, error) {
	key, err := decodeTOTPSecret(secret)
	if err != nil {
		return "", err
	}
	return hotp(key, totpCounter(at)), nil
}

func decodeTOTPSecret(secret string) ([]byte, error) {
	key, err := totpEncoding.DecodeString(strings.ToUpper(strings.TrimRight(secret, "=")))
	if err != nil {
		return nil, fmt.Errorf("decoding totp secret: %w", err)
	}
	return key, nil
}

func totpCounter(t time.Time) uint64 {
	return uint64(t.Unix() / int64(totpStep/time.Second))
}

// hotp truncates HMAC-SHA1(key, counter) to a zero padded decimal code.
func hotp(key []byte, counter uint64) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], counter)
	mac := hmac.New(sha1.New, key)
	mac.Write(msg[:])
	sum := mac.Sum(nil)

	off := sum[len(sum)-1] & 0x0f
	n := binary.BigEndian.Uint32(sum[off:off+4]) & 0x7fffffff
	return fmt.Sprintf("%0*d", totpDigits, n%1_000_000)
}
