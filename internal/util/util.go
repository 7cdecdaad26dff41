// Package util holds small helpers shared by the HTTP layer.
package util

import (
	"net/url"
	"strings"
)

// MaskSecret obscures a credential for logging, keeping only its edges.
func MaskSecret(value string) string {
	switch n := len(value); {
	case n > 8:
		return value[:4] + "..." + value[n-4:]
	case n > 4:
		return value[:2] + "..." + value[n-2:]
	case n > 2:
		return value[:1] + "..." + value[n-1:]
	default:
		return value
	}
}

// MaskSensitiveQuery masks credential-like parameters (tokens, PINs and
// secrets) inside a raw query string.
func MaskSensitiveQuery(raw string) string {
	if raw == "" {
		return ""
	}
	parts := strings.Split(raw, "&")
	changed := false
	for i, part := range parts {
		if part == "" {
			continue
		}
		keyPart, valuePart, _ := strings.Cut(part, "=")
		decodedKey, err := url.QueryUnescape(keyPart)
		if err != nil {
			decodedKey = keyPart
		}
		if !shouldMaskQueryParam(decodedKey) {
			continue
		}
		decodedValue, err := url.QueryUnescape(valuePart)
		if err != nil {
			decodedValue = valuePart
		}
		parts[i] = keyPart + "=" + url.QueryEscape(MaskSecret(strings.TrimSpace(decodedValue)))
		changed = true
	}
	if !changed {
		return raw
	}
	return strings.Join(parts, "&")
}

func shouldMaskQueryParam(key string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return false
	}
	key = strings.TrimSuffix(key, "[]")
	if key == "pin" || strings.HasSuffix(key, "_pin") {
		return true
	}
	for _, marker := range []string{"token", "secret", "password", "idempotency"} {
		if strings.Contains(key, marker) {
			return true
		}
	}
	return false
}
