package config

import (
	"fmt"
	"strings"
	"unicode"
)

// SecretStrength represents the strength level of a secret
type SecretStrength int

const (
	SecretStrengthWeak SecretStrength = iota
	SecretStrengthMedium
	SecretStrengthStrong
)

// minProductionSecretLength is the shortest password accepted in production.
const minProductionSecretLength = 12

// Values that must never reach production credentials
var commonPlaceholders = []string{
	"changeme",
	"please_change_me",
	"password",
	"secret",
	"postgres",
	"stratalloc",
	"example",
	"default",
}

// SecretValidationResult contains the result of secret validation
type SecretValidationResult struct {
	IsValid  bool
	Strength SecretStrength
	Errors   []string
}

// ValidateSecret checks a password for placeholders, length and character
// variety. requireStrong rejects anything below medium strength.
func ValidateSecret(secret, name string, minLength int, requireStrong bool) SecretValidationResult {
	result := SecretValidationResult{IsValid: true, Strength: SecretStrengthStrong}

	if secret == "" {
		result.IsValid = false
		result.Strength = SecretStrengthWeak
		result.Errors = append(result.Errors, fmt.Sprintf("%s cannot be empty", name))
		return result
	}

	lowerSecret := strings.ToLower(secret)
	for _, placeholder := range commonPlaceholders {
		if strings.Contains(lowerSecret, placeholder) {
			result.IsValid = false
			result.Strength = SecretStrengthWeak
			result.Errors = append(result.Errors, fmt.Sprintf("%s appears to be a placeholder value (%s)", name, placeholder))
			return result
		}
	}

	if len(secret) < minLength {
		result.IsValid = false
		result.Strength = SecretStrengthWeak
		result.Errors = append(result.Errors, fmt.Sprintf("%s must be at least %d characters (got %d)", name, minLength, len(secret)))
		return result
	}

	var hasUpper, hasLower, hasNumber, hasSpecial bool
	for _, char := range secret {
		switch {
		case unicode.IsUpper(char):
			hasUpper = true
		case unicode.IsLower(char):
			hasLower = true
		case unicode.IsDigit(char):
			hasNumber = true
		case unicode.IsPunct(char) || unicode.IsSymbol(char):
			hasSpecial = true
		}
	}

	typesCount := 0
	for _, has := range []bool{hasUpper, hasLower, hasNumber, hasSpecial} {
		if has {
			typesCount++
		}
	}

	switch {
	case len(secret) >= 16 && typesCount >= 3:
		result.Strength = SecretStrengthStrong
	case len(secret) >= 12 && typesCount >= 2:
		result.Strength = SecretStrengthMedium
	default:
		result.Strength = SecretStrengthWeak
	}

	if requireStrong && result.Strength == SecretStrengthWeak {
		result.IsValid = false
		result.Errors = append(result.Errors, fmt.Sprintf("%s is too weak for production use", name))
	}

	return result
}

// ValidateProductionSecrets validates all credentials for production use
func ValidateProductionSecrets(cfg *Config) ValidationErrors {
	var errors ValidationErrors

	check := func(field, name, secret string) {
		if secret == "" {
			return
		}
		result := ValidateSecret(secret, name, minProductionSecretLength, true)
		for _, msg := range result.Errors {
			errors = append(errors, ValidationError{Field: field, Message: msg})
		}
	}

	check("database.password", "Database password", cfg.Database.Password)
	check("redis.password", "Redis password", cfg.Redis.Password)
	check("publish.secret_access_key", "S3 secret access key", cfg.Publish.SecretAccessKey)

	return errors
}

// GetSecretStrengthDescription returns a human-readable description of secret strength
func GetSecretStrengthDescription(strength SecretStrength) string {
	switch strength {
	case SecretStrengthWeak:
		return "Weak"
	case SecretStrengthMedium:
		return "Medium"
	case SecretStrengthStrong:
		return "Strong"
	default:
		return "Unknown"
	}
}
