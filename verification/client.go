package verification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultClientTimeout bounds a single scan at the transport level. Callers
// apply their own, shorter request timeout through the context.
const DefaultClientTimeout = 15 * time.Minute

var (
	// ErrScanFailed signals the OCR service could not read the document.
	ErrScanFailed = errors.New("verification: scan failed")
	// ErrUnavailable signals the OCR service could not be reached or answered with an error status.
	ErrUnavailable = errors.New("verification: ocr unavailable")
)

// ScanResult is what the OCR service returned for one image.
type ScanResult struct {
	Fields     Fields
	Confidence float64
}

// Client calls the external identity OCR service over HTTPS.
type Client struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

// NewClient initializes an OCR client.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 || timeout > DefaultClientTimeout {
		timeout = DefaultClientTimeout
	}
	return &Client{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
	}
}

type scanRequest struct {
	ImageURL string `json:"image_url"`
}

type scanResponse struct {
	Success    bool       `json:"success"`
	Confidence float64    `json:"confidence"`
	Error      string     `json:"error"`
	Fields     wireFields `json:"fields"`
}

type wireFields struct {
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	FullName       string `json:"full_name"`
	Nationality    string `json:"nationality"`
	DocumentNumber string `json:"document_number"`
	DateOfBirth    string `json:"date_of_birth"`
	DocumentExpiry string `json:"expiry_date"`
	Gender         string `json:"gender"`
	IssuingCountry string `json:"issuing_country"`
}

// Scan asks the OCR service to extract identity fields from the image at imageURL.
func (c *Client) Scan(ctx context.Context, imageURL string) (ScanResult, error) {
	body, err := json.Marshal(scanRequest{ImageURL: imageURL})
	if err != nil {
		return ScanResult{}, fmt.Errorf("verification: marshal scan request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/identity/scan", bytes.NewReader(body))
	if err != nil {
		return ScanResult{}, fmt.Errorf("verification: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return ScanResult{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return ScanResult{}, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out scanResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return ScanResult{}, fmt.Errorf("verification: decode scan response: %w", err)
	}
	if !out.Success {
		reason := out.Error
		if reason == "" {
			reason = "document unreadable"
		}
		return ScanResult{}, fmt.Errorf("%w: %s", ErrScanFailed, reason)
	}

	return ScanResult{
		Fields:     out.Fields.toFields(),
		Confidence: clamp(out.Confidence),
	}, nil
}

var dateLayouts = []string{"2006-01-02", "02/01/2006", "02.01.2006", "20060102", "02 Jan 2006", "2 Jan 2006"}

func parseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

func (w wireFields) toFields() Fields {
	return Fields{
		FirstName:      strings.TrimSpace(w.FirstName),
		LastName:       strings.TrimSpace(w.LastName),
		FullName:       strings.TrimSpace(w.FullName),
		Nationality:    strings.TrimSpace(w.Nationality),
		DocumentNumber: strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(w.DocumentNumber), " ", "")),
		DateOfBirth:    parseDate(w.DateOfBirth),
		DocumentExpiry: parseDate(w.DocumentExpiry),
		Gender:         strings.ToUpper(strings.TrimSpace(w.Gender)),
		IssuingCountry: strings.TrimSpace(w.IssuingCountry),
	}
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
