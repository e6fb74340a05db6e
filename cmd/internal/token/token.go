// Package token lazily resolves the RPC bearer token for CLI commands, from
// an environment variable or by prompting the operator without echo.
package token

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Source resolves the admin token once and caches it for the process.
type Source struct {
	envVar string
	prompt bool

	once  sync.Once
	value string
	err   error
}

// NewSource constructs a token source that checks envVar first. When prompt
// is set a missing environment value falls back to an interactive prompt.
func NewSource(envVar string, prompt bool) *Source {
	return &Source{envVar: strings.TrimSpace(envVar), prompt: prompt}
}

// Get returns the cached token or resolves it on first call.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		if s.envVar != "" {
			if value, ok := os.LookupEnv(s.envVar); ok && strings.TrimSpace(value) != "" {
				s.value = strings.TrimSpace(value)
				return
			}
		}
		if !s.prompt {
			if s.envVar != "" {
				s.err = fmt.Errorf("RPC token required; set %s or pass --token-prompt", s.envVar)
			} else {
				s.err = errors.New("RPC token required")
			}
			return
		}
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			s.err = errors.New("RPC token prompt requires an interactive terminal")
			return
		}
		fmt.Fprint(os.Stderr, "Enter RPC auth token: ")
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			s.err = fmt.Errorf("failed to read token: %w", err)
			return
		}
		value := strings.TrimSpace(string(raw))
		if value == "" {
			s.err = errors.New("RPC token cannot be empty")
			return
		}
		s.value = value
	})
	return s.value, s.err
}
