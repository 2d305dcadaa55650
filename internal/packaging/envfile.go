package packaging

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// EnvFileMode keeps tokens readable only by root and the service group.
const EnvFileMode = 0o640

var envKeyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// EnvEntry is one KEY=value line.
type EnvEntry struct {
	Key   string
	Value string
}

// EnvRecord is an ordered set of environment entries. Setting an existing key
// replaces its value in place.
type EnvRecord struct {
	entries []EnvEntry
}

// Set adds or replaces key.
func (r *EnvRecord) Set(key, value string) {
	for i := range r.entries {
		if r.entries[i].Key == key {
			r.entries[i].Value = value
			return
		}
	}
	r.entries = append(r.entries, EnvEntry{Key: key, Value: value})
}

// Get returns the value for key.
func (r *EnvRecord) Get(key string) (string, bool) {
	for _, e := range r.entries {
		if e.Key == key {
			return e.Value, true
		}
	}
	return "", false
}

// Entries returns a copy of the entries in insertion order.
func (r *EnvRecord) Entries() []EnvEntry {
	return append([]EnvEntry(nil), r.entries...)
}

// Render produces the file content in systemd EnvironmentFile syntax.
func (r *EnvRecord) Render() ([]byte, error) {
	var b strings.Builder
	b.WriteString("# Managed by sdrprov. Changes are overwritten on the next provision run.\n")
	for _, e := range r.entries {
		if !envKeyPattern.MatchString(e.Key) {
			return nil, fmt.Errorf("packaging: env file: invalid key %q", e.Key)
		}
		if strings.ContainsAny(e.Value, "\n\r") {
			return nil, fmt.Errorf("packaging: env file: value of %s contains a newline", e.Key)
		}
		b.WriteString(e.Key)
		b.WriteByte('=')
		b.WriteString(quoteEnvValue(e.Value))
		b.WriteByte('\n')
	}
	return []byte(b.String()), nil
}

// quoteEnvValue double-quotes values that systemd would otherwise split or
// treat as a comment.
func quoteEnvValue(v string) string {
	if v == "" || !strings.ContainsAny(v, " \t\"'\\#$`") {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "$", `\$`, "`", "\\`")
	return `"` + r.Replace(v) + `"`
}

// ReadEnvFile parses an existing environment file. A missing file yields an
// empty map and no error.
func ReadEnvFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("packaging: read env file: %w", err)
	}
	return ParseEnv(data), nil
}

// ParseEnv reads KEY=value lines as written by Render. Comments, blank lines
// and lines without '=' are ignored.
func ParseEnv(data []byte) map[string]string {
	out := make(map[string]string)
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || line[0] == '#' || line[0] == ';' {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if !envKeyPattern.MatchString(key) {
			continue
		}
		out[key] = unquoteEnvValue(strings.TrimSpace(val))
	}
	return out
}

func unquoteEnvValue(v string) string {
	if len(v) < 2 || v[0] != '"' || v[len(v)-1] != '"' {
		return v
	}
	inner := v[1 : len(v)-1]
	var b strings.Builder
	for i := 0; i < len(inner); i++ {
		if inner[i] == '\\' && i+1 < len(inner) {
			i++
		}
		b.WriteByte(inner[i])
	}
	return b.String()
}
