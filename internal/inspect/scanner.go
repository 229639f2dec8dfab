// Package inspect scans outbound payloads for sensitive-data patterns.
// Detection is best-effort and pattern-based: a payload that cannot be
// scanned yields ErrUnscannable, never a false "no findings".
package inspect

import (
	"bytes"
	"errors"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

// Kind identifies the restricted category of a finding.
type Kind string

const (
	KindCardNumber      Kind = "card_number"
	KindNationalID      Kind = "national_id"
	KindEmail           Kind = "email"
	KindOtherRestricted Kind = "other_restricted"
)

// Finding is a single detected instance of sensitive content.
// Offset and Length locate the flagged span in the original payload;
// Excerpt never contains the raw value.
type Finding struct {
	Kind    Kind   `json:"kind"`
	Offset  int    `json:"offset"`
	Length  int    `json:"length"`
	Excerpt string `json:"redacted_excerpt"`
}

// ErrUnscannable marks a payload the inspector cannot treat as text.
// Policy maps this to a warn, never silently to an allow.
var ErrUnscannable = errors.New("inspect: payload not scannable")

// RedactionMarker is the fixed-width replacement for every flagged span.
const RedactionMarker = "[REDACTED]"

// maxScanBytes caps the payload size the scanner will process.
const maxScanBytes = 1 << 20

// Compiled patterns for restricted content.
var (
	// Card numbers: 13–19 digits, optionally grouped by single spaces or
	// dashes. Shape match alone is not a finding — the digits must also
	// pass the mod-10 checksum.
	cardRe = regexp.MustCompile(`\b\d(?:[ -]?\d){12,18}\b`)

	// National identifiers: fixed-width digit groups (NNN-NN-NNNN).
	nationalIDRe = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)

	// Email addresses.
	emailRe = regexp.MustCompile(`\b([a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,})\b`)
)

// Inspect scans a payload and returns findings ordered by offset.
// Binary or oversized payloads return ErrUnscannable.
func Inspect(payload []byte) ([]Finding, error) {
	if len(payload) > maxScanBytes {
		return nil, ErrUnscannable
	}
	if !utf8.Valid(payload) || bytes.IndexByte(payload, 0) >= 0 {
		return nil, ErrUnscannable
	}
	return scanText(string(payload)), nil
}

// scanText finds all restricted patterns, deduplicates overlapping spans,
// and returns findings sorted by position (earliest first).
func scanText(text string) []Finding {
	var findings []Finding

	for _, loc := range cardRe.FindAllStringIndex(text, -1) {
		if luhnValid(digitsOf(text[loc[0]:loc[1]])) {
			findings = append(findings, Finding{
				Kind:    KindCardNumber,
				Offset:  loc[0],
				Length:  loc[1] - loc[0],
				Excerpt: RedactionMarker,
			})
		}
	}

	for _, loc := range nationalIDRe.FindAllStringIndex(text, -1) {
		findings = append(findings, Finding{
			Kind:    KindNationalID,
			Offset:  loc[0],
			Length:  loc[1] - loc[0],
			Excerpt: RedactionMarker,
		})
	}

	for _, loc := range emailRe.FindAllStringIndex(text, -1) {
		findings = append(findings, Finding{
			Kind:    KindEmail,
			Offset:  loc[0],
			Length:  loc[1] - loc[0],
			Excerpt: RedactionMarker,
		})
	}

	sort.Slice(findings, func(i, j int) bool {
		if findings[i].Offset != findings[j].Offset {
			return findings[i].Offset < findings[j].Offset
		}
		return findings[i].Length > findings[j].Length
	})

	// Drop spans fully contained in an earlier, longer one.
	deduped := findings[:0]
	lastEnd := -1
	for _, f := range findings {
		if f.Offset+f.Length <= lastEnd {
			continue
		}
		deduped = append(deduped, f)
		if end := f.Offset + f.Length; end > lastEnd {
			lastEnd = end
		}
	}

	return deduped
}

// digitsOf strips separator characters, leaving digits only.
func digitsOf(s string) string {
	var b strings.Builder
	for _, c := range s {
		if c >= '0' && c <= '9' {
			b.WriteRune(c)
		}
	}
	return b.String()
}

// luhnValid reports whether a digit string passes the weighted mod-10
// checksum: every second digit, starting from the second-to-last, is
// doubled (minus 9 when the double exceeds 9) before summing.
func luhnValid(digits string) bool {
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

// Redact replaces every finding span in text with the fixed-width marker.
// Findings must refer to offsets in text.
func Redact(text string, findings []Finding) string {
	if len(findings) == 0 {
		return text
	}
	var b strings.Builder
	pos := 0
	for _, f := range findings {
		if f.Offset < pos || f.Offset+f.Length > len(text) {
			continue
		}
		b.WriteString(text[pos:f.Offset])
		b.WriteString(RedactionMarker)
		pos = f.Offset + f.Length
	}
	b.WriteString(text[pos:])
	return b.String()
}

// Scrub scans text and redacts everything it finds. Used as the last line
// of defense before anything is written to persistent storage.
func Scrub(text string) string {
	return Redact(text, scanText(text))
}
