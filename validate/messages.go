package validate

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// MessageProvider provides validation error messages with i18n support.
//
// Lookup tries "<field>.<key>" before "<key>", first in the active locale
// and then in the fallback locale. Messages may use the {field} and
// {param} placeholders.
type MessageProvider struct {
	mu       sync.RWMutex
	messages map[string]map[string]string // locale -> key -> message
	locale   string
	fallback string
}

// NewMessageProvider creates an empty message provider.
func NewMessageProvider() *MessageProvider {
	return &MessageProvider{
		messages: make(map[string]map[string]string),
		locale:   "fr",
		fallback: "fr",
	}
}

// DefaultMessages returns a provider with the built-in French and English
// catalogs. French is both the active and the fallback locale.
func DefaultMessages() *MessageProvider {
	m := NewMessageProvider()
	m.RegisterLocale("fr", defaultFrenchMessages)
	m.RegisterLocale("en", defaultEnglishMessages)
	return m
}

// SetLocale selects the active locale. The tag may be any BCP 47 tag; it is
// matched against the registered locales ("fr-CA" selects "fr"). Tags that
// match nothing select the fallback locale.
func (m *MessageProvider) SetLocale(tag string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locale = m.match(tag)
}

// Locale returns the active locale.
func (m *MessageProvider) Locale() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.locale
}

// RegisterLocale replaces the messages for a locale.
func (m *MessageProvider) RegisterLocale(locale string, messages map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make(map[string]string, len(messages))
	for k, v := range messages {
		cp[k] = v
	}
	m.messages[locale] = cp
}

// AddMessage adds or updates a message for a locale.
func (m *MessageProvider) AddMessage(locale, key, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.messages[locale] == nil {
		m.messages[locale] = make(map[string]string)
	}
	m.messages[locale][key] = message
}

// LoadYAML merges a catalog of the form
//
//	fr:
//	  name.alphaspace: "Nom invalide"
//	en:
//	  name.alphaspace: "Invalid name"
//
// into the provider. Existing keys are overwritten, other keys are kept.
func (m *MessageProvider) LoadYAML(r io.Reader) error {
	var catalog map[string]map[string]string
	if err := yaml.NewDecoder(r).Decode(&catalog); err != nil {
		if err == io.EOF {
			return nil
		}
		return fmt.Errorf("validate: decode message catalog: %w", err)
	}
	for locale, msgs := range catalog {
		for k, v := range msgs {
			m.AddMessage(locale, k, v)
		}
	}
	return nil
}

// LoadYAMLFile is LoadYAML on the named file.
func (m *MessageProvider) LoadYAMLFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("validate: open message catalog: %w", err)
	}
	defer f.Close()
	return m.LoadYAML(f)
}

// Lookup returns the message for a failed rule on field.
func (m *MessageProvider) Lookup(field, key, param string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, locale := range []string{m.locale, m.fallback} {
		msgs, ok := m.messages[locale]
		if !ok {
			continue
		}
		if msg, ok := msgs[field+"."+key]; ok {
			return format(msg, field, param)
		}
		if msg, ok := msgs[key]; ok {
			return format(msg, field, param)
		}
	}

	return fmt.Sprintf("%s validation failed for %s", key, field)
}

// Text returns a plain message by key, or the key itself when no locale
// defines it.
func (m *MessageProvider) Text(key string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, locale := range []string{m.locale, m.fallback} {
		if msg, ok := m.messages[locale][key]; ok {
			return msg
		}
	}
	return key
}

// match must be called with m.mu held.
func (m *MessageProvider) match(tag string) string {
	if _, ok := m.messages[tag]; ok {
		return tag
	}

	want, err := language.Parse(tag)
	if err != nil {
		return m.fallback
	}

	names := make([]string, 0, len(m.messages))
	for name := range m.messages {
		names = append(names, name)
	}
	sort.Strings(names)

	var (
		supported []language.Tag
		index     []string
	)
	for _, name := range names {
		t, err := language.Parse(name)
		if err != nil {
			continue
		}
		supported = append(supported, t)
		index = append(index, name)
	}
	if len(supported) == 0 {
		return m.fallback
	}

	_, i, conf := language.NewMatcher(supported).Match(want)
	if conf == language.No {
		return m.fallback
	}
	return index[i]
}

func format(msg, field, param string) string {
	msg = strings.ReplaceAll(msg, "{field}", field)
	return strings.ReplaceAll(msg, "{param}", param)
}

var defaultFrenchMessages = map[string]string{
	"required":      "{field} est obligatoire",
	"accepted":      "{field} doit être accepté",
	"alphaspace":    "{field} ne doit contenir que des lettres et des espaces",
	"email":         "{field} doit être une adresse email valide",
	"min":           "{field} doit contenir au moins {param} caractères",
	"eqfield":       "{field} doit être identique à {param}",
	"startswithany": "{field} doit commencer par {param}",

	"name.required":              "Nom invalide (pas de chiffres)",
	"name.alphaspace":            "Nom invalide (pas de chiffres)",
	"email.required":             "Email invalide",
	"email.email":                "Email invalide",
	"password.min":               "Mot de passe trop court (min {param} caractères)",
	"confirmPassword.eqfield":    "Les mots de passe ne correspondent pas",
	"profileImage.required":      "L'URL de l'image doit commencer par http:// ou https://",
	"profileImage.startswithany": "L'URL de l'image doit commencer par http:// ou https://",
	"acceptedTerms.accepted":     "Vous devez accepter les CGU",

	"form.success": "Inscription réussie !",
}

var defaultEnglishMessages = map[string]string{
	"required":      "{field} is required",
	"accepted":      "{field} must be accepted",
	"alphaspace":    "{field} must contain only letters and spaces",
	"email":         "{field} must be a valid email address",
	"min":           "{field} must be at least {param} characters",
	"eqfield":       "{field} must equal {param}",
	"startswithany": "{field} must start with {param}",

	"name.required":              "Invalid name (no digits)",
	"name.alphaspace":            "Invalid name (no digits)",
	"email.required":             "Invalid email",
	"email.email":                "Invalid email",
	"password.min":               "Password too short (min {param} characters)",
	"confirmPassword.eqfield":    "Passwords do not match",
	"profileImage.required":      "Image URL must start with http:// or https://",
	"profileImage.startswithany": "Image URL must start with http:// or https://",
	"acceptedTerms.accepted":     "You must accept the terms of service",

	"form.success": "Registration successful!",
}
