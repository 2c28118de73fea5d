package config

import (
	"fmt"
	"os"
	"strings"
)

// LoadPromptFile reads a prompt text from path. Trailing whitespace is
// trimmed and an empty prompt is rejected.
func LoadPromptFile(path string) (string, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return "", fmt.Errorf("prompt file not found: %s", path)
	}

	content, err := os.ReadFile(path) // #nosec G304 - Path comes from config and is expected to be dynamic
	if err != nil {
		return "", fmt.Errorf("failed to read prompt file: %w", err)
	}

	prompt := strings.TrimRight(string(content), " \t\r\n")
	if err := ValidatePrompt(prompt); err != nil {
		return "", err
	}
	return prompt, nil
}

// ValidatePrompt ensures a prompt text is non-empty after trimming whitespace.
func ValidatePrompt(prompt string) error {
	if strings.TrimSpace(prompt) == "" {
		return fmt.Errorf("prompt is empty")
	}
	return nil
}
