package protocol

import (
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	bytesPrefix = "b'"
	bytesSuffix = "'"
)

// EncodeHex renders p the way the python grid stack stringifies hexlified
// bytes: b'<lowercase hex>'.
func EncodeHex(p []byte) string {
	return bytesPrefix + hex.EncodeToString(p) + bytesSuffix
}

// DecodeHex reverses EncodeHex. A bare hex string without the b'...' wrapper
// is accepted too.
func DecodeHex(s string) ([]byte, error) {
	body := s
	if len(s) >= len(bytesPrefix)+len(bytesSuffix) &&
		strings.HasPrefix(s, bytesPrefix) && strings.HasSuffix(s, bytesSuffix) {
		body = s[len(bytesPrefix) : len(s)-len(bytesSuffix)]
	}
	out, err := hex.DecodeString(body)
	if err != nil {
		return nil, fmt.Errorf("decode hex payload: %w", err)
	}
	return out, nil
}
