package verification

import (
	"strings"
	"time"
)

// Fields are the identity attributes extracted from a passport or ID card image.
// Any of them may be missing when the scan was partial.
type Fields struct {
	FirstName      string     `json:"firstName,omitempty"`
	LastName       string     `json:"lastName,omitempty"`
	FullName       string     `json:"fullName,omitempty"`
	Nationality    string     `json:"nationality,omitempty"`
	DocumentNumber string     `json:"documentNumber,omitempty"`
	DateOfBirth    *time.Time `json:"dateOfBirth,omitempty"`
	DocumentExpiry *time.Time `json:"documentExpiry,omitempty"`
	Gender         string     `json:"gender,omitempty"`
	IssuingCountry string     `json:"issuingCountry,omitempty"`
}

// Name returns the best available holder name.
func (f Fields) Name() string {
	if n := strings.TrimSpace(f.FullName); n != "" {
		return n
	}
	return strings.TrimSpace(strings.TrimSpace(f.FirstName) + " " + strings.TrimSpace(f.LastName))
}

// IsEmpty reports whether nothing was extracted.
func (f Fields) IsEmpty() bool {
	return f.Name() == "" &&
		f.Nationality == "" &&
		f.DocumentNumber == "" &&
		f.DateOfBirth == nil &&
		f.DocumentExpiry == nil &&
		f.Gender == "" &&
		f.IssuingCountry == ""
}
