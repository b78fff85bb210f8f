// Package identity generates and validates the identifiers players and rooms
// are addressed by.
package identity

import (
	"crypto/rand"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
)

// CodeAlphabet omits glyphs that are easily confused when read aloud or off a
// screen (0/O, 1/I/L).
const CodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const (
	CodeLength     = 6
	MinNameLength  = 2
	MaxNameLength  = 20
	MaxPlayerIDLen = 64
)

// Player is the caller context handed to every room and quiz operation.
// Nothing below the transport layer looks up "the current player" on its own.
type Player struct {
	ID          string `json:"player_id"`
	DisplayName string `json:"display_name"`
}

// NewPlayerID returns a random UUIDv4.
func NewPlayerID() string {
	return uuid.NewString()
}

// NewID returns an opaque record identifier.
func NewID() string {
	return uuid.NewString()
}

// NewRoomCode returns CodeLength characters drawn uniformly from CodeAlphabet.
// Uniqueness is the caller's problem.
func NewRoomCode() string {
	const n = len(CodeAlphabet)
	// largest multiple of n that fits in a byte; anything above is rejected
	// so every symbol stays equally likely
	const limit = 256 - 256%n

	out := make([]byte, 0, CodeLength)
	buf := make([]byte, 2*CodeLength)
	for len(out) < CodeLength {
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, CodeAlphabet[int(b)%n])
			if len(out) == CodeLength {
				break
			}
		}
	}

	return string(out)
}

// ValidRoomCode reports whether s is exactly CodeLength characters, all from
// CodeAlphabet. Lowercase input is rejected.
func ValidRoomCode(s string) bool {
	if len(s) != CodeLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(CodeAlphabet, s[i]) < 0 {
			return false
		}
	}
	return true
}

// ValidDisplayName reports whether the trimmed name is between MinNameLength
// and MaxNameLength characters long.
func ValidDisplayName(s string) bool {
	n := utf8.RuneCountInString(strings.TrimSpace(s))
	return n >= MinNameLength && n <= MaxNameLength
}

// NormalizeDisplayName trims surrounding whitespace.
func NormalizeDisplayName(s string) string {
	return strings.TrimSpace(s)
}

// ValidPlayerID accepts any self-asserted token that is non-empty, bounded and
// free of whitespace.
func ValidPlayerID(s string) bool {
	if s == "" || len(s) > MaxPlayerIDLen {
		return false
	}
	return strings.IndexFunc(s, unicode.IsSpace) < 0
}
