package email

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "optin/pkg/domain-errors"
)

func TestNormalize(t *testing.T) {
	t.Run("lowercases and trims", func(t *testing.T) {
		got, err := Normalize("  Ann.Smith@Example.COM ")
		require.NoError(t, err)
		assert.Equal(t, "ann.smith@example.com", got)
	})

	t.Run("keeps plus addressing", func(t *testing.T) {
		got, err := Normalize("a+news@x.com")
		require.NoError(t, err)
		assert.Equal(t, "a+news@x.com", got)
	})

	rejected := map[string]string{
		"empty":        "   ",
		"no at":        "example.com",
		"display name": "Ann <ann@example.com>",
		"no tld":       "ann@localhost",
		"too long":     strings.Repeat("a", 250) + "@x.com",
	}
	for name, input := range rejected {
		t.Run("rejects "+name, func(t *testing.T) {
			_, err := Normalize(input)
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
		})
	}
}

func TestDomain(t *testing.T) {
	assert.Equal(t, "x.com", Domain("a@x.com"))
	assert.Equal(t, "", Domain("nope"))
}
