package idempotency

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/mcdev12/newsletter/go/internal/apperr"
)

const maxKeyLength = 50

var keyPattern = regexp.MustCompile(`^[a-zA-Z0-9\-]+$`)

var (
	ErrEmptyKey        = errors.New("idempotency key cannot be empty")
	ErrKeyTooLong      = fmt.Errorf("idempotency key must be at most %d characters", maxKeyLength)
	ErrInvalidKeyChars = errors.New("idempotency key may only contain letters, digits and hyphens")
)

// Key is a client-supplied token identifying one logical attempt of an action.
type Key string

// ParseKey validates s. It never touches storage.
func ParseKey(s string) (Key, error) {
	switch {
	case s == "":
		return "", apperr.Validation("parse idempotency key", ErrEmptyKey)
	case len(s) > maxKeyLength:
		return "", apperr.Validation("parse idempotency key", ErrKeyTooLong)
	case !keyPattern.MatchString(s):
		return "", apperr.Validation("parse idempotency key", ErrInvalidKeyChars)
	}
	return Key(s), nil
}

func (k Key) String() string {
	return string(k)
}
