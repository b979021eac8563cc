package session

import (
	"crypto/rand"
	"math/big"
	"strings"
	"unicode/utf8"
)

const (
	roomIDLength  = 6
	roomIDCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	maxNameLength = 36
)

// GenerateRoomID draws a 6-character uppercase alphanumeric id uniformly.
func GenerateRoomID() (string, error) {
	code := make([]byte, roomIDLength)
	for i := range code {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(roomIDCharset))))
		if err != nil {
			return "", err
		}
		code[i] = roomIDCharset[num.Int64()]
	}
	return string(code), nil
}

func NormalizeRoomID(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

func normalizeName(raw string) (string, bool) {
	name := strings.TrimSpace(raw)
	if name == "" || utf8.RuneCountInString(name) > maxNameLength {
		return "", false
	}
	return name, true
}
