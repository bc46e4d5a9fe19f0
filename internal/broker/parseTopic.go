package broker

import (
	"unicode/utf8"

	"github.com/pkg/errors"
)

var (
	// ErrInvalidTopicName is returned whenever a topic name or filter
	// is invalid
	ErrInvalidTopicName = errors.New("invalid topic name/filter")

	// ErrWildcardUnsupported is returned for well formed filters that use
	// '+' or '#'. Topics are matched exactly.
	ErrWildcardUnsupported = errors.New("wildcard topic filters are not supported")
)

// ValidateTopicName checks the topic of a PUBLISH. It must be non empty
// UTF-8 without NUL or wildcard characters.
func ValidateTopicName(topic string) error {
	if len(topic) == 0 {
		// topic name must have 1 or more characters
		return ErrInvalidTopicName
	}
	for i := 0; i < len(topic); i++ {
		switch topic[i] {
		case '#', '+', 0:
			return errors.Wrapf(ErrInvalidTopicName, "%q", topic)
		}
	}
	if !utf8.ValidString(topic) {
		return errors.Wrap(ErrInvalidTopicName, "not utf-8")
	}
	return nil
}

// ValidateTopicFilter checks the filter of a SUBSCRIBE or UNSUBSCRIBE.
// Misplaced wildcards are ErrInvalidTopicName, correctly placed ones
// ErrWildcardUnsupported.
func ValidateTopicFilter(filter string) error {
	if len(filter) == 0 {
		return ErrInvalidTopicName
	}
	last := len(filter) - 1
	var hasWildcard bool
	for i := 0; i < len(filter); i++ {
		c := filter[i]
		switch {
		// topic filter should not contain NUL character
		case c == 0:
			return ErrInvalidTopicName

		// multilevel wildcard should only occur as last char, on a
		// level of its own
		case c == '#':
			if i != last || (i != 0 && filter[i-1] != '/') {
				return errors.Wrapf(ErrInvalidTopicName, "%q", filter)
			}
			hasWildcard = true

		// single level wildcard should take up a whole level by itself
		case c == '+':
			if (i != last && filter[i+1] != '/') || (i != 0 && filter[i-1] != '/') {
				return errors.Wrapf(ErrInvalidTopicName, "%q", filter)
			}
			hasWildcard = true
		}
	}
	if !utf8.ValidString(filter) {
		return errors.Wrap(ErrInvalidTopicName, "not utf-8")
	}
	if hasWildcard {
		return ErrWildcardUnsupported
	}
	return nil
}
