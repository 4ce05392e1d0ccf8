package verification

import (
	"math"
	"regexp"
	"time"
)

// Issue describes one structural problem found in the extracted fields.
type Issue struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Report summarises a scan and the structural checks run against it.
type Report struct {
	OCRSucceeded      bool      `json:"ocrSucceeded"`
	OCRError          string    `json:"ocrError,omitempty"`
	ServiceConfidence float64   `json:"serviceConfidence"`
	Confidence        float64   `json:"confidence"`
	ChecksPassed      int       `json:"checksPassed"`
	ChecksTotal       int       `json:"checksTotal"`
	Issues            []Issue   `json:"issues,omitempty"`
	ProcessedAt       time.Time `json:"processedAt"`
	Fields            Fields    `json:"fields"`
}

// Valid reports whether every structural check passed.
func (r Report) Valid() bool {
	return r.OCRSucceeded && len(r.Issues) == 0
}

// NeedsReview reports whether a human should look at the document before relying on it.
func (r Report) NeedsReview(minConfidence float64) bool {
	return !r.Valid() || r.Confidence < minConfidence
}

var documentNumberPattern = regexp.MustCompile(`^[A-Z0-9]{5,20}$`)

const (
	minHolderAge = 18
	maxHolderAge = 120
)

// FailedReport records an OCR failure so the upload can still be persisted.
func FailedReport(err error, now time.Time) Report {
	r := Report{ProcessedAt: now}
	if err != nil {
		r.OCRError = err.Error()
	}
	return r
}

// Evaluate runs the structural checks over a successful scan and scores it.
func Evaluate(scan ScanResult, now time.Time) Report {
	f := scan.Fields
	r := Report{
		OCRSucceeded:      true,
		ServiceConfidence: scan.Confidence,
		ProcessedAt:       now,
		Fields:            f,
	}

	check := func(ok bool, field, code, msg string) {
		r.ChecksTotal++
		if ok {
			r.ChecksPassed++
			return
		}
		r.Issues = append(r.Issues, Issue{Field: field, Code: code, Message: msg})
	}

	check(f.Name() != "", "name", "missing", "holder name was not extracted")

	switch {
	case f.DocumentNumber == "":
		check(false, "documentNumber", "missing", "document number was not extracted")
	default:
		check(documentNumberPattern.MatchString(f.DocumentNumber), "documentNumber", "malformed", "document number must be 5-20 letters or digits")
	}

	switch {
	case f.DateOfBirth == nil:
		check(false, "dateOfBirth", "missing", "date of birth was not extracted")
	default:
		age := yearsBetween(*f.DateOfBirth, now)
		check(age >= minHolderAge && age <= maxHolderAge, "dateOfBirth", "implausible", "holder age must be between 18 and 120")
	}

	switch {
	case f.DocumentExpiry == nil:
		check(false, "documentExpiry", "missing", "document expiry was not extracted")
	default:
		check(!f.DocumentExpiry.Before(now), "documentExpiry", "expired", "document has expired")
	}

	check(f.Nationality != "" || f.IssuingCountry != "", "nationality", "missing", "nationality or issuing country was not extracted")

	if f.Gender != "" {
		check(f.Gender == "M" || f.Gender == "F" || f.Gender == "X", "gender", "malformed", "gender must be M, F or X")
	}

	ratio := float64(r.ChecksPassed) / float64(r.ChecksTotal)
	r.Confidence = math.Round(clamp(scan.Confidence*(0.5+0.5*ratio))*1000) / 1000

	return r
}

func yearsBetween(from, to time.Time) int {
	years := to.Year() - from.Year()
	if to.YearDay() < from.YearDay() {
		years--
	}
	return years
}
