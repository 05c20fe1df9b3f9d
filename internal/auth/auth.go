// Package auth resolves exchange API credentials from an apikeys file with
// environment overrides.
//
// The apikeys format is one entry per line of whitespace separated key value
// tokens, e.g.
//
//	name binance label main apikey "abc" secret 'def'
//
// Blank lines and lines starting with # are ignored.
package auth

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

const (
	EnvAPIKey   = "EXCHANGE_API_KEY"
	EnvSecret   = "EXCHANGE_API_SECRET"
	EnvPassword = "EXCHANGE_API_PASSWORD"
)

type Credentials struct {
	APIKey   string
	Secret   string
	Password string
}

// Empty reports whether no key and no secret are set.
func (c Credentials) Empty() bool {
	return c.APIKey == "" && c.Secret == ""
}

// Entry is one parsed apikeys line; keys are lowercased.
type Entry map[string]string

func (e Entry) credentials() Credentials {
	return Credentials{APIKey: e["apikey"], Secret: e["secret"], Password: e["password"]}
}

func Parse(r io.Reader) ([]Entry, error) {
	var entries []Entry
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		tokens := strings.Fields(line)
		e := Entry{}
		// a trailing unpaired token is ignored
		for i := 0; i+1 < len(tokens); i += 2 {
			e[strings.ToLower(tokens[i])] = unquote(tokens[i+1])
		}
		entries = append(entries, e)
	}
	return entries, sc.Err()
}

func unquote(v string) string {
	if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') && v[len(v)-1] == v[0] {
		return v[1 : len(v)-1]
	}
	return v
}

// Select picks an entry: name and label, then label alone, then name, then the first entry.
func Select(entries []Entry, exchange, label string) (Credentials, bool) {
	if len(entries) == 0 {
		return Credentials{}, false
	}
	if label != "" {
		for _, e := range entries {
			if e["name"] == exchange && e["label"] == label {
				return e.credentials(), true
			}
		}
		for _, e := range entries {
			if e["label"] == label {
				return e.credentials(), true
			}
		}
	}
	for _, e := range entries {
		if e["name"] == exchange {
			return e.credentials(), true
		}
	}
	return entries[0].credentials(), true
}

// DefaultPaths are searched in order; the first file with entries wins.
func DefaultPaths() []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	return []string{
		filepath.Join(home, ".apikeys"),
		filepath.Join(home, ".config", "apikeys"),
	}
}

type Loader struct {
	Paths []string
	// DotEnv is an optional .env file whose values apply when the process env lacks them.
	DotEnv string
	Getenv func(string) string
}

func NewLoader() *Loader {
	return &Loader{Paths: DefaultPaths(), DotEnv: ".env", Getenv: os.Getenv}
}

// Load returns credentials for exchange. Missing files are not an error;
// an unreadable or malformed file is.
func (l *Loader) Load(exchange, label string) (Credentials, error) {
	var creds Credentials
	for _, p := range l.Paths {
		entries, err := parseFile(p)
		if err != nil {
			return Credentials{}, err
		}
		if len(entries) > 0 {
			creds, _ = Select(entries, exchange, label)
			break
		}
	}

	env, err := l.env()
	if err != nil {
		return Credentials{}, err
	}
	if v := env(EnvAPIKey); v != "" {
		creds.APIKey = v
	}
	if v := env(EnvSecret); v != "" {
		creds.Secret = v
	}
	if v := env(EnvPassword); v != "" {
		creds.Password = v
	}
	return creds, nil
}

func (l *Loader) env() (func(string) string, error) {
	getenv := l.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	if l.DotEnv == "" {
		return getenv, nil
	}
	dot, err := godotenv.Read(l.DotEnv)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return getenv, nil
		}
		return nil, fmt.Errorf("read %s: %w", l.DotEnv, err)
	}
	return func(k string) string {
		if v := getenv(k); v != "" {
			return v
		}
		return dot[k]
	}, nil
}

func parseFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	entries, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return entries, nil
}

// Load is NewLoader().Load.
func Load(exchange, label string) (Credentials, error) {
	return NewLoader().Load(exchange, label)
}
