// Package http provides HTTP server and handler implementations.
//
// This file implements utilities for parsing and validating HTTP request data:
// the employee-month selection, row inputs and path indexes.

package http

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"participation/internal/core"
)

// maxBodyBytes bounds form and JSON bodies; editor requests are tiny.
const maxBodyBytes = 64 << 10

// RowInput is the add-row form: project and role come from structured
// select values, never from display labels.
type RowInput struct {
	ProjectID string
	RoleCode  core.RoleCode
	Rate      int
}

// ParseSelection builds the MonthKey from the selection form. Year and month
// fall back to the current Seoul month when absent.
func ParseSelection(p *RequestBodyParser, now time.Time) (core.MonthKey, error) {
	now = now.In(core.Seoul())
	key := core.MonthKey{
		EmployeeID: p.Get("employee"),
		Year:       now.Year(),
		Month:      int(now.Month()),
	}

	if v := p.Get("year"); v != "" {
		y, err := strconv.Atoi(v)
		if err != nil {
			return core.MonthKey{}, fmt.Errorf("%w: year %q is not a number", core.ErrInvalidKey, v)
		}
		key.Year = y
	}
	if v := p.Get("month"); v != "" {
		m, err := strconv.Atoi(v)
		if err != nil {
			return core.MonthKey{}, fmt.Errorf("%w: month %q is not a number", core.ErrInvalidKey, v)
		}
		key.Month = m
	}

	if err := key.Validate(); err != nil {
		return core.MonthKey{}, err
	}
	return key, nil
}

// ParseRowInput reads the add-row form.
func ParseRowInput(p *RequestBodyParser) (RowInput, error) {
	in := RowInput{
		ProjectID: p.Get("project"),
		RoleCode:  core.RoleCode(p.Get("role")),
	}
	if in.ProjectID == "" || in.RoleCode == "" {
		return RowInput{}, core.ErrInvalidSelection
	}
	rate, err := parseRate(p.Get("rate"))
	if err != nil {
		return RowInput{}, err
	}
	in.Rate = rate
	return in, nil
}

func parseRate(v string) (int, error) {
	if v == "" {
		return 0, fmt.Errorf("%w: rate is required", core.ErrInvalidRate)
	}
	rate, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a whole number", core.ErrInvalidRate, v)
	}
	return rate, nil
}

// parseRowIndex reads the {index} path value.
func parseRowIndex(r *http.Request) (int, error) {
	v := r.PathValue("index")
	index, err := strconv.Atoi(v)
	if err != nil || index < 0 {
		return 0, fmt.Errorf("%w: index %q", core.ErrRowNotFound, v)
	}
	return index, nil
}

// yearOptions lists next year, this year and last year.
func yearOptions(now time.Time) []int {
	y := now.In(core.Seoul()).Year()
	return []int{y + 1, y, y - 1}
}

// RequestBodyParser handles different content types for request body parsing.
// It supports both JSON and form-encoded data, commonly used with HTMX.
type RequestBodyParser struct {
	body        []byte
	contentType string
	jsonData    map[string]interface{}
	formData    url.Values
	parsed      bool
	err         error
}

// NewRequestBodyParser creates a parser for the given request.
// It reads the body once and stores it for subsequent parsing.
func NewRequestBodyParser(r *http.Request) *RequestBodyParser {
	p := &RequestBodyParser{
		contentType: r.Header.Get("Content-Type"),
	}
	if r.Body != nil {
		p.body, p.err = io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	}
	return p
}

// Parse attempts to parse the body as JSON or form data.
func (p *RequestBodyParser) Parse() error {
	if p.parsed {
		return p.err
	}
	p.parsed = true

	if p.err != nil {
		return p.err
	}

	if len(p.body) == 0 {
		p.formData = url.Values{}
		return nil
	}

	// Try JSON first if content looks like JSON
	if p.body[0] == '{' {
		p.jsonData = make(map[string]interface{})
		if err := json.Unmarshal(p.body, &p.jsonData); err != nil {
			p.err = err
			return err
		}
		return nil
	}

	p.formData, p.err = url.ParseQuery(string(p.body))
	return p.err
}

// Get returns a sanitized string value from the parsed data (JSON or form).
func (p *RequestBodyParser) Get(key string) string {
	if p.jsonData != nil {
		if val, ok := p.jsonData[key]; ok {
			return sanitizeInput(stringValue(val))
		}
	}
	if p.formData != nil {
		return sanitizeInput(p.formData.Get(key))
	}
	return ""
}

// IsJSON returns true if the parsed content was JSON.
func (p *RequestBodyParser) IsJSON() bool {
	return p.jsonData != nil
}

// stringValue converts an interface{} to string.
func stringValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}

// sanitizeInput drops control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}
