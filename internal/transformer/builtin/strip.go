// Package builtin contains the cleaning steps used by the Redfin transform.
package builtin

import (
	"fmt"
	"strings"

	"redfinetl/internal/transformer"
)

// StripChars removes every occurrence of the characters in Chars from one
// string column. Nulls stay null.
type StripChars struct {
	Field string
	Chars string

	ix int
}

func (s *StripChars) Name() string { return "strip_chars(" + s.Field + ")" }

func (s *StripChars) Bind(columns []string) ([]string, error) {
	ix, err := transformer.Index(columns, s.Field)
	if err != nil {
		return nil, err
	}
	s.ix = ix
	return columns, nil
}

func (s *StripChars) Apply(r *transformer.Row) (bool, error) {
	switch v := r.V[s.ix].(type) {
	case nil:
	case string:
		if strings.ContainsAny(v, s.Chars) {
			r.V[s.ix] = strings.Map(s.drop, v)
		}
	default:
		return false, fmt.Errorf("%s: want text, got %T: %w", s.Field, v, transformer.ErrInvalidValue)
	}
	return true, nil
}

func (s *StripChars) drop(c rune) rune {
	if strings.ContainsRune(s.Chars, c) {
		return -1
	}
	return c
}
