package providers

import (
	"fmt"
	"strings"
	"time"
)

// Family selects the transport protocol used to reach a provider.
type Family string

const (
	FamilyChatCompletion Family = "chat_completion"
	FamilyGemini         Family = "gemini"
	FamilyLocal          Family = "local"
)

// ParseFamily converts a configuration value into a Family.
func ParseFamily(value string) (Family, error) {
	switch Family(strings.ToLower(strings.TrimSpace(value))) {
	case FamilyChatCompletion:
		return FamilyChatCompletion, nil
	case FamilyGemini:
		return FamilyGemini, nil
	case FamilyLocal:
		return FamilyLocal, nil
	default:
		return "", fmt.Errorf("unknown provider family %q", value)
	}
}

// Descriptor describes one provider. It is constructed at startup and never
// mutated afterwards.
type Descriptor struct {
	Name     string
	Priority int
	Family   Family
	Model    string
	// CredentialEnv lists environment variable names in try order. Empty means
	// the provider needs no credential.
	CredentialEnv []string
	// BaseURL is optional; transports fall back to their own default.
	BaseURL string
	Timeout time.Duration
	Headers map[string]string
}

// RequiresCredential reports whether the provider is keyed.
func (d Descriptor) RequiresCredential() bool {
	return len(d.CredentialEnv) > 0
}

// Credential is a resolved secret bound to one credential source.
type Credential struct {
	Source string
	Secret string
	// Index is 1-based within the resolved set.
	Index int
	Total int
}

// Label identifies the credential in logs without exposing the secret.
func (c Credential) Label() string {
	if c.Source == "" {
		return "none"
	}
	return fmt.Sprintf("%s (%d/%d)", c.Source, c.Index, c.Total)
}

// LookupFunc returns the value of a credential source and whether it is set.
type LookupFunc func(name string) (string, bool)

// ResolveCredentials returns the present credentials in listed order. Unset
// and blank sources are skipped. A provider without credential sources
// yields nil; callers use RequiresCredential to tell that apart from a keyed
// provider with nothing resolved.
func (d Descriptor) ResolveCredentials(lookup LookupFunc) []Credential {
	if len(d.CredentialEnv) == 0 || lookup == nil {
		return nil
	}
	creds := make([]Credential, 0, len(d.CredentialEnv))
	for _, source := range d.CredentialEnv {
		value, ok := lookup(source)
		value = strings.TrimSpace(value)
		if !ok || value == "" {
			continue
		}
		creds = append(creds, Credential{Source: source, Secret: value})
	}
	for i := range creds {
		creds[i].Index = i + 1
		creds[i].Total = len(creds)
	}
	return creds
}

func (d Descriptor) clone() Descriptor {
	d.CredentialEnv = append([]string(nil), d.CredentialEnv...)
	if d.Headers != nil {
		headers := make(map[string]string, len(d.Headers))
		for k, v := range d.Headers {
			headers[k] = v
		}
		d.Headers = headers
	}
	return d
}
