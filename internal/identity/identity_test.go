package identity

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRoomCode(t *testing.T) {
	valid := regexp.MustCompile(`^[ABCDEFGHJKMNPQRSTUVWXYZ23456789]{6}$`)
	confusing := regexp.MustCompile(`[O01IL]`)

	codes := make(map[string]struct{})
	const iterations = 1000
	for i := 0; i < iterations; i++ {
		code := NewRoomCode()
		assert.Len(t, code, CodeLength)
		assert.Regexp(t, valid, code)
		assert.NotRegexp(t, confusing, code)
		assert.True(t, ValidRoomCode(code))
		codes[code] = struct{}{}
	}

	assert.Greater(t, len(codes), iterations*95/100)
}

func TestNewPlayerID(t *testing.T) {
	uuidV4 := regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

	a, b := NewPlayerID(), NewPlayerID()
	assert.Regexp(t, uuidV4, a)
	assert.NotEqual(t, a, b)
	assert.True(t, ValidPlayerID(a))
}

func TestValidRoomCode(t *testing.T) {
	for _, code := range []string{"A2B3C4", "ZXYWVQ", "234567"} {
		assert.True(t, ValidRoomCode(code), code)
	}

	for _, code := range []string{"23456", "2345678", "A2B3C0", "A2B3CO", "A2B3CI", "A2B3C1", "A2B3CL", "", "a2b3c4"} {
		assert.False(t, ValidRoomCode(code), code)
	}
}

func TestValidDisplayName(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"Jo", true},
		{"Alice", true},
		{"Player123", true},
		{strings.Repeat("A", 20), true},
		{"  Jo  ", true},
		{"Jürgen", true},
		{"J", false},
		{strings.Repeat("A", 21), false},
		{"", false},
		{"   ", false},
		{"  J  ", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ValidDisplayName(tt.name), "%q", tt.name)
	}
}

func TestValidPlayerID(t *testing.T) {
	assert.True(t, ValidPlayerID("p1"))
	assert.False(t, ValidPlayerID(""))
	assert.False(t, ValidPlayerID("has space"))
	assert.False(t, ValidPlayerID(strings.Repeat("x", MaxPlayerIDLen+1)))
}
