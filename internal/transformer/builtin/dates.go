package builtin

import (
	"fmt"
	"strings"
	"time"

	"redfinetl/internal/transformer"
)

// DateLayouts are tried in order by ParseDates when Layouts is empty.
var DateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"01/02/2006",
	"2006/01/02",
}

// ParseDates replaces the text in Fields with a time.Time (UTC). A value that
// matches none of the layouts is an error; nulls stay null.
type ParseDates struct {
	Fields  []string
	Layouts []string

	idx []int
}

func (p *ParseDates) Name() string { return "parse_dates" }

func (p *ParseDates) Bind(columns []string) ([]string, error) {
	idx, err := transformer.Indexes(columns, p.Fields)
	if err != nil {
		return nil, err
	}
	p.idx = idx
	if len(p.Layouts) == 0 {
		p.Layouts = DateLayouts
	}
	return columns, nil
}

func (p *ParseDates) Apply(r *transformer.Row) (bool, error) {
	for n, ix := range p.idx {
		switch v := r.V[ix].(type) {
		case nil, time.Time:
		case string:
			t, err := ParseDate(v, p.Layouts)
			if err != nil {
				return false, fmt.Errorf("%s: %w", p.Fields[n], err)
			}
			r.V[ix] = t
		default:
			return false, fmt.Errorf("%s: want text, got %T: %w", p.Fields[n], v, transformer.ErrInvalidValue)
		}
	}
	return true, nil
}

// ParseDate parses s with the first matching layout. Values without a zone
// are taken as UTC.
func ParseDate(s string, layouts []string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, ok := parseISODate(s); ok {
		return t, nil
	}
	for _, l := range layouts {
		if t, err := time.ParseInLocation(l, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse %q as a date: %w", s, transformer.ErrInvalidValue)
}

// parseISODate is a zero-allocation parser for "2006-01-02", the layout every
// Redfin period column uses.
func parseISODate(s string) (time.Time, bool) {
	if len(s) != 10 || s[4] != '-' || s[7] != '-' {
		return time.Time{}, false
	}
	y3, y2, y1, y0 := s[0]-'0', s[1]-'0', s[2]-'0', s[3]-'0'
	m1, m0 := s[5]-'0', s[6]-'0'
	d1, d0 := s[8]-'0', s[9]-'0'
	if y3 > 9 || y2 > 9 || y1 > 9 || y0 > 9 || m1 > 9 || m0 > 9 || d1 > 9 || d0 > 9 {
		return time.Time{}, false
	}
	year := int(y3)*1000 + int(y2)*100 + int(y1)*10 + int(y0)
	mon := int(m1)*10 + int(m0)
	day := int(d1)*10 + int(d0)
	if mon < 1 || mon > 12 || day < 1 || day > daysIn(time.Month(mon), year) {
		return time.Time{}, false
	}
	return time.Date(year, time.Month(mon), day, 0, 0, 0, 0, time.UTC), true
}

func daysIn(m time.Month, year int) int {
	return time.Date(year, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
