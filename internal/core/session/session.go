// Package session holds the authenticated identity used to talk to the
// remote case service.
package session

import (
	"fmt"
	"sort"
	"strings"

	"github.com/vietddude/juror/internal/core/domain"
)

const (
	// CSRFCredential is the cookie field that must be present before a run starts.
	CSRFCredential = "bili_jct"

	// AccountCredential identifies the account in logs and history.
	AccountCredential = "DedeUserID"
)

// Session is a read-only view of a cookie credential bundle.
type Session struct {
	raw    string
	values map[string]string
}

// Parse splits a "k1=v1; k2=v2" cookie string. Later duplicates win.
func Parse(cookie string) *Session {
	s := &Session{raw: strings.TrimSpace(cookie), values: make(map[string]string)}
	for _, part := range strings.Split(cookie, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, _ := strings.Cut(part, "=")
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		s.values[key] = strings.TrimSpace(value)
	}
	return s
}

// Credential returns the named cookie value. Empty values count as absent.
func (s *Session) Credential(name string) (string, bool) {
	v, ok := s.values[name]
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// CSRF returns the CSRF token or a configuration error when it is missing.
func (s *Session) CSRF() (string, error) {
	v, ok := s.Credential(CSRFCredential)
	if !ok {
		return "", domain.NewConfigurationError(
			fmt.Sprintf("cookie lacks %s field", CSRFCredential),
			domain.ErrMissingCredential,
		)
	}
	return v, nil
}

// Account returns the account id, or "anonymous" when the cookie has none.
func (s *Session) Account() string {
	if v, ok := s.Credential(AccountCredential); ok {
		return v
	}
	return "anonymous"
}

// Header renders the bundle for the Cookie request header.
func (s *Session) Header() string {
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+s.values[k])
	}
	return strings.Join(parts, "; ")
}

// Validate checks the credentials a run needs.
func (s *Session) Validate() error {
	_, err := s.CSRF()
	return err
}
