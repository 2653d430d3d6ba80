package common

import (
	"errors"
	"regexp"
	"strings"
)

var handleRegex = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

func ValidateHandle(handle string) error {
	handle = strings.TrimSpace(handle)
	if len(handle) < 3 || len(handle) > 50 {
		return errors.New("handle must be between 3 and 50 characters")
	}

	if !handleRegex.MatchString(handle) {
		return errors.New("handle can only contain letters, numbers, and underscores")
	}

	return nil
}

func ValidatePassword(password string) error {
	if len(password) < 6 {
		return errors.New("password must be at least 6 characters long")
	}

	if len(password) > 100 {
		return errors.New("password is too long")
	}

	return nil
}

func ValidateCaption(caption string) error {
	if len(caption) > 2200 {
		return errors.New("caption is too long")
	}
	return nil
}
