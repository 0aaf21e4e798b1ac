// Package environment reads configuration overrides from environment
// variables that share a common prefix.
//
// Unset or empty variables leave the caller's value untouched. Variables that
// are set but cannot be parsed return an error instead of silently falling
// back, so a typo in a deployment surfaces at startup.
package environment

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Env looks up variables named Prefix + name.
type Env struct {
	Prefix string
	lookup func(string) (string, bool)
}

// New returns an Env backed by the process environment.
func New(prefix string) Env {
	return Env{Prefix: prefix, lookup: os.LookupEnv}
}

// WithLookup returns an Env that reads from fn instead of the process
// environment.
func WithLookup(prefix string, fn func(string) (string, bool)) Env {
	return Env{Prefix: prefix, lookup: fn}
}

// Key returns the full variable name for name.
func (e Env) Key(name string) string { return e.Prefix + name }

func (e Env) get(name string) (string, bool) {
	lookup := e.lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	v, ok := lookup(e.Key(name))
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

// String overwrites *dst when the variable is set and non-empty.
func (e Env) String(name string, dst *string) {
	if v, ok := e.get(name); ok {
		*dst = v
	}
}

// FirstString overwrites *dst with the first non-empty variable among names.
// Names are used verbatim, without the prefix.
func (e Env) FirstString(dst *string, names ...string) {
	lookup := e.lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	for _, n := range names {
		if v, ok := lookup(n); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
			return
		}
	}
}

// Int overwrites *dst with the parsed decimal value of the variable.
func (e Env) Int(name string, dst *int) error {
	v, ok := e.get(name)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: invalid integer %q", e.Key(name), v)
	}
	*dst = n
	return nil
}

// Bool overwrites *dst with the parsed value of the variable. Recognised
// values are those of strconv.ParseBool.
func (e Env) Bool(name string, dst *bool) error {
	v, ok := e.get(name)
	if !ok {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: invalid boolean %q", e.Key(name), v)
	}
	*dst = b
	return nil
}

// Duration overwrites *dst with the parsed duration ("2s", "1m30s").
func (e Env) Duration(name string, dst *time.Duration) error {
	v, ok := e.get(name)
	if !ok {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q", e.Key(name), v)
	}
	*dst = d
	return nil
}

// StringSlice overwrites *dst with the comma-separated, trimmed, non-empty
// elements of the variable.
func (e Env) StringSlice(name string, dst *[]string) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	if len(out) > 0 {
		*dst = out
	}
}
