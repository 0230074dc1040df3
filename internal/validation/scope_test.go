package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidScopeToken_Valid(t *testing.T) {
	for _, v := range []string{
		"a",
		"repo",
		"read:org",
		"chat:write",
		"users:read.email",
		"app:mentionable",
		"openid",
		"https://www.googleapis.com/auth/drive",
		strings.Repeat("a", 256),
	} {
		assert.True(t, ValidScopeToken(v), v)
	}
}

func TestValidScopeToken_Invalid(t *testing.T) {
	for _, v := range []string{
		"",
		"bad space",
		"read,write\n",
		`quo"te`,
		`back\slash`,
		"tab\there",
		"ñandú",
		strings.Repeat("a", 257),
	} {
		assert.False(t, ValidScopeToken(v), v)
	}
}

func TestInvalidScopes(t *testing.T) {
	assert.Nil(t, InvalidScopes([]string{"repo", "read:org"}))
	assert.Equal(t, []string{"a b", ""}, InvalidScopes([]string{"ok", "a b", ""}))
}
