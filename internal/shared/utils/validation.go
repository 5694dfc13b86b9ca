package utils

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// String length limits
const (
	MaxIDLength      = 128
	MaxCommandLength = 1024
)

// AgentIDPattern allows host names as well as plain ids.
var AgentIDPattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// ValidateString validates a string field with length and content checks
func ValidateString(value, fieldName string, minLen, maxLen int, required bool) error {
	if required && value == "" {
		return fmt.Errorf("%s is required", fieldName)
	}

	if value == "" && !required {
		return nil
	}

	if !utf8.ValidString(value) {
		return fmt.Errorf("%s is not valid UTF-8", fieldName)
	}

	length := utf8.RuneCountInString(value)
	if length < minLen {
		return fmt.Errorf("%s must be at least %d characters", fieldName, minLen)
	}
	if length > maxLen {
		return fmt.Errorf("%s must not exceed %d characters", fieldName, maxLen)
	}

	if strings.Contains(value, "\x00") {
		return fmt.Errorf("%s contains invalid characters", fieldName)
	}

	return nil
}

// ValidateAgentID validates an agent id
func ValidateAgentID(id string) error {
	if err := ValidateString(id, "agentId", 1, MaxIDLength, true); err != nil {
		return err
	}
	if !AgentIDPattern.MatchString(id) {
		return fmt.Errorf("agentId contains invalid characters (only alphanumeric, dots, hyphens, and underscores allowed)")
	}
	return nil
}

// ValidateCommand checks that command is a single HyperDeck protocol line.
// The protocol is line based, so a line break would smuggle a second
// command to the device.
func ValidateCommand(command string) error {
	if err := ValidateString(command, "command", 1, MaxCommandLength, true); err != nil {
		return err
	}
	if strings.ContainsAny(command, "\r\n") {
		return fmt.Errorf("command must be a single line")
	}
	return nil
}
