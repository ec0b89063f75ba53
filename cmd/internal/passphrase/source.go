package passphrase

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

var (
	ErrEmpty      = errors.New("passphrase: empty")
	ErrMismatch   = errors.New("passphrase: entries do not match")
	ErrNoTerminal = errors.New("passphrase: no terminal available")
)

// fileSuffix names the companion variable pointing at a secret file, the way
// container secrets are mounted.
const fileSuffix = "_FILE"

// Source resolves the passphrase protecting a storechain keystore. It tries
// the environment variable, then the file named by <var>_FILE, then the
// terminal. The first outcome is cached, error included.
type Source struct {
	envVar  string
	label   string
	confirm bool
	prompt  func(text string) (string, error)

	once  sync.Once
	value string
	err   error
}

// Option customises a Source.
type Option func(*Source)

// WithLabel names the key in prompts and errors, e.g. "platform operator".
func WithLabel(label string) Option {
	return func(s *Source) {
		if label = strings.TrimSpace(label); label != "" {
			s.label = label
		}
	}
}

// WithConfirmation asks for the passphrase twice on the terminal. Use it when
// the passphrase will encrypt a new keystore.
func WithConfirmation() Option {
	return func(s *Source) { s.confirm = true }
}

func NewSource(envVar string, opts ...Option) *Source {
	s := &Source{
		envVar: strings.TrimSpace(envVar),
		label:  "keystore",
		prompt: terminalPrompt,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the cached passphrase, resolving it on the first call.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		s.value, s.err = s.resolve()
	})
	return s.value, s.err
}

func (s *Source) resolve() (string, error) {
	if s.envVar != "" {
		if value, ok := os.LookupEnv(s.envVar); ok {
			if strings.TrimSpace(value) == "" {
				return "", fmt.Errorf("%w: %s is set but empty", ErrEmpty, s.envVar)
			}
			return value, nil
		}
		if path, ok := os.LookupEnv(s.envVar + fileSuffix); ok {
			return readSecretFile(s.envVar+fileSuffix, path)
		}
	}

	value, err := s.prompt(fmt.Sprintf("Enter %s passphrase: ", s.label))
	if errors.Is(err, ErrNoTerminal) && s.envVar != "" {
		return "", fmt.Errorf("%s passphrase required; set %s or %s%s: %w", s.label, s.envVar, s.envVar, fileSuffix, err)
	}
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("%w: %s passphrase", ErrEmpty, s.label)
	}
	if s.confirm {
		again, err := s.prompt(fmt.Sprintf("Repeat %s passphrase: ", s.label))
		if err != nil {
			return "", err
		}
		if again != value {
			return "", ErrMismatch
		}
	}
	return value, nil
}

// readSecretFile drops one trailing line break, which editors and
// `echo > file` add.
func readSecretFile(envVar, path string) (string, error) {
	raw, err := os.ReadFile(strings.TrimSpace(path))
	if err != nil {
		return "", fmt.Errorf("%s: %w", envVar, err)
	}
	value := strings.TrimSuffix(strings.TrimSuffix(string(raw), "\n"), "\r")
	if strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("%w: %s points at an empty file", ErrEmpty, envVar)
	}
	return value, nil
}

func terminalPrompt(text string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", ErrNoTerminal
	}
	fmt.Fprint(os.Stderr, text)
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read passphrase: %w", err)
	}
	return string(raw), nil
}
