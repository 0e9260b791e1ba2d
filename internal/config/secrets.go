package config

import (
	"encoding/json"
	"fmt"
)

// maskedValue is the placeholder for masked sensitive data. Full-width
// blocks avoid substring matches against real secret fragments.
const maskedValue = "████████"

// maskSecret masks a secret for safe logging. Secrets of 8 bytes or fewer
// are fully masked; longer ones keep the first and last two characters for
// debug utility. This guards accidental logging, nothing more: rotate
// secrets if logs leak.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON masks every sensitive field. New secret fields must be added
// here or to the nested struct's MarshalJSON.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.Database.URL = maskSecret(a.Database.URL)
	a.Auth.JWTSecret = maskSecret(a.Auth.JWTSecret)
	a.Providers.Serpro.ConsumerKey = maskSecret(a.Providers.Serpro.ConsumerKey)
	a.Providers.Serpro.ConsumerSecret = maskSecret(a.Providers.Serpro.ConsumerSecret)
	a.Providers.OpenAI.APIKey = maskSecret(a.Providers.OpenAI.APIKey)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer so fmt verbs never print raw secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
