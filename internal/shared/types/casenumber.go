package types

import (
	"fmt"
	"strconv"
	"strings"
)

// MaxCaseSequence is the largest sequence a single year can issue.
const MaxCaseSequence = 999999

// CaseNumber is the human-facing case identifier, YYYY-NNNNNN.
type CaseNumber struct {
	Year     int
	Sequence int
}

// NewCaseNumber builds a case number, rejecting out-of-range parts.
func NewCaseNumber(year, sequence int) (CaseNumber, error) {
	if year < 1000 || year > 9999 {
		return CaseNumber{}, fmt.Errorf("case number year %d out of range", year)
	}
	if sequence < 1 || sequence > MaxCaseSequence {
		return CaseNumber{}, fmt.Errorf("case number sequence %d out of range", sequence)
	}
	return CaseNumber{Year: year, Sequence: sequence}, nil
}

// ParseCaseNumber parses the YYYY-NNNNNN form.
func ParseCaseNumber(s string) (CaseNumber, error) {
	s = strings.TrimSpace(s)
	year, seq, ok := strings.Cut(s, "-")
	if !ok || len(year) != 4 || len(seq) != 6 {
		return CaseNumber{}, fmt.Errorf("malformed case number %q", s)
	}
	y, err := strconv.Atoi(year)
	if err != nil {
		return CaseNumber{}, fmt.Errorf("malformed case number %q", s)
	}
	n, err := strconv.Atoi(seq)
	if err != nil {
		return CaseNumber{}, fmt.Errorf("malformed case number %q", s)
	}
	return NewCaseNumber(y, n)
}

// String formats the number as YYYY-NNNNNN.
func (n CaseNumber) String() string {
	return fmt.Sprintf("%04d-%06d", n.Year, n.Sequence)
}

// IsZero reports whether the number was never assigned.
func (n CaseNumber) IsZero() bool {
	return n.Year == 0 && n.Sequence == 0
}

// MarshalText implements encoding.TextMarshaler.
func (n CaseNumber) MarshalText() ([]byte, error) {
	return []byte(n.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (n *CaseNumber) UnmarshalText(b []byte) error {
	parsed, err := ParseCaseNumber(string(b))
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}
