package locale

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestForKnownTags(t *testing.T) {
	for _, tag := range Supported() {
		c := For(tag)
		v := reflect.ValueOf(c)
		for i := 0; i < v.NumField(); i++ {
			assert.NotEmpty(t, v.Field(i).String(), "%s: %s is empty", tag, v.Type().Field(i).Name)
		}
	}
}

func TestForUnknownFallsBackToEnglish(t *testing.T) {
	assert.Equal(t, For(English), For("fr"))
	assert.Equal(t, For(English), For(""))
}

func TestLocalesDiffer(t *testing.T) {
	en, ar := For(English), For(Arabic)
	assert.NotEqual(t, en.SystemPrompt, ar.SystemPrompt)
	assert.NotEqual(t, en.Generic, ar.Generic)
	assert.Equal(t, "Sorry, something went wrong. Please try again.", en.Generic)
}

func TestFallbacksAreDistinct(t *testing.T) {
	c := For(English)
	seen := map[string]bool{}
	for _, s := range []string{c.NotConfigured, c.Rephrase, c.InvalidResponse, c.TryLater, c.TooLong, c.TechnicalDifficulties, c.Generic, c.NoResponse} {
		assert.False(t, seen[s], "duplicate fallback %q", s)
		seen[s] = true
	}
}
