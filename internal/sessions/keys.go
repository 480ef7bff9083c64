package sessions

import "strings"

// maxKeyLength bounds safe keys so they stay usable as file names.
const maxKeyLength = 64

// SafeKey normalises a client-supplied session key into an ASCII-safe form
// usable as a file name. Path separators and non-printing characters map to
// '-', the result is length-bounded, and an empty input yields "default".
func SafeKey(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "default"
	}

	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}

	key := b.String()
	// Dot-only names would collide with path navigation entries.
	if strings.Trim(key, ".") == "" {
		return "default"
	}
	if len(key) > maxKeyLength {
		key = key[:maxKeyLength]
	}
	return key
}
