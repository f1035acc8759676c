// Package validation checks names that end up in URLs, SQL and JSON paths.
package validation

import (
	"errors"
	"fmt"
	"regexp"
)

// IdentifierPattern определяет допустимый формат имени коллекции или поля:
// латинская буква или подчеркивание, затем буквы, цифры, подчеркивание
var IdentifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// MaxIdentifierLen максимальная длина имени
const MaxIdentifierLen = 64

// ErrInvalidIdentifier is wrapped by every ValidateIdentifier error
var ErrInvalidIdentifier = errors.New("invalid identifier")

// ValidateIdentifier проверяет имя коллекции (resource) или поля записи.
// what попадает в текст ошибки: "resource", "field" и т.п.
func ValidateIdentifier(what, name string) error {
	if name == "" {
		return fmt.Errorf("%w: %s cannot be empty", ErrInvalidIdentifier, what)
	}

	if len(name) > MaxIdentifierLen {
		return fmt.Errorf("%w: %s must not exceed %d characters", ErrInvalidIdentifier, what, MaxIdentifierLen)
	}

	if !IdentifierPattern.MatchString(name) {
		return fmt.Errorf("%w: %s %q can only contain letters (a-z, A-Z), numbers (0-9) and underscores (_) and must not start with a number",
			ErrInvalidIdentifier, what, name)
	}

	return nil
}
