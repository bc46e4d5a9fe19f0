package broker

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateTopicFilter(t *testing.T) {
	cases := []struct {
		description string
		filter      string
		expectedErr error
	}{
		{"should accept a standard topic filter", "foo/bar", nil},
		{"should accept a single string with no separator", "hello world", nil},
		{"should accept '/' at start", "/bar/buz", nil},
		{"should accept '/' at end", "foo/bar/buz/", nil},
		{"should accept a single '/'", "/", nil},
		{"should accept consecutive '///'", "///", nil},
		{"should accept non ascii utf-8", "jikoni/joto/°C", nil},
		{"should reject an empty filter", "", ErrInvalidTopicName},
		{"should reject NUL", "foo\x00bar", ErrInvalidTopicName},
		{"should reject invalid utf-8", "foo/\xff", ErrInvalidTopicName},
		{"should reject '#' not at the end", "foo/#/bar", ErrInvalidTopicName},
		{"should reject '#' sharing a level", "foo#", ErrInvalidTopicName},
		{"should reject '+' sharing a level on the left", "foo+/bar", ErrInvalidTopicName},
		{"should reject '+' sharing a level on the right", "foo/+bar", ErrInvalidTopicName},
		{"should flag a lone '#' as unsupported", "#", ErrWildcardUnsupported},
		{"should flag a trailing '#' as unsupported", "foo/#", ErrWildcardUnsupported},
		{"should flag a lone '+' as unsupported", "+", ErrWildcardUnsupported},
		{"should flag '+' levels as unsupported", "foo/+/bar/+", ErrWildcardUnsupported},
	}
	for _, cs := range cases {
		t.Run(cs.description, func(t *testing.T) {
			err := ValidateTopicFilter(cs.filter)
			if cs.expectedErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, cs.expectedErr)
		})
	}
}

func TestValidateTopicName(t *testing.T) {
	valid := []string{"foo/bar", "/", "a", "foo//bar", "sensors/°C"}
	for _, topic := range valid {
		require.NoError(t, ValidateTopicName(topic), "%q", topic)
	}
	invalid := []string{"", "foo/#", "+", "foo/+/bar", "nul\x00", "\xfe"}
	for _, topic := range invalid {
		require.ErrorIs(t, ValidateTopicName(topic), ErrInvalidTopicName, "%q", topic)
	}
}
