// Package ingest parses lead candidate files (CSV, XLSX) into raw
// candidates ready for deduplication.
package ingest

import (
	"strings"

	"github.com/sells-group/leadpipe/internal/model"
)

// columns holds resolved column indexes for the candidate fields.
// An index of -1 means the column is absent.
type columns struct {
	fullName    int
	linkedInURL int
	email       int
	company     int
}

// headerAliases maps normalized header names to candidate fields.
var headerAliases = map[string]string{
	"full_name":     "full_name",
	"fullname":      "full_name",
	"name":          "full_name",
	"contact":       "full_name",
	"contact_name":  "full_name",
	"linkedin":      "linkedin_url",
	"linkedin_url":  "linkedin_url",
	"profile":       "linkedin_url",
	"profile_url":   "linkedin_url",
	"url":           "linkedin_url",
	"email":         "email",
	"e_mail":        "email",
	"email_address": "email",
	"company":       "company",
	"company_name":  "company",
	"organization":  "company",
	"organisation":  "company",
	"employer":      "company",
	"account":       "company",
}

func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.ReplaceAll(h, " ", "_")
	h = strings.ReplaceAll(h, "-", "_")
	return h
}

// resolveColumns maps a header row to column indexes. The first header
// matching each field wins.
func resolveColumns(header []string) columns {
	cols := columns{fullName: -1, linkedInURL: -1, email: -1, company: -1}
	for i, h := range header {
		field, ok := headerAliases[normalizeHeader(h)]
		if !ok {
			continue
		}
		switch field {
		case "full_name":
			if cols.fullName < 0 {
				cols.fullName = i
			}
		case "linkedin_url":
			if cols.linkedInURL < 0 {
				cols.linkedInURL = i
			}
		case "email":
			if cols.email < 0 {
				cols.email = i
			}
		case "company":
			if cols.company < 0 {
				cols.company = i
			}
		}
	}
	return cols
}

func (c columns) found() bool {
	return c.linkedInURL >= 0 || c.email >= 0
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

// candidate builds a RawCandidate from a row. Returns false when the row
// carries no identity (no profile URL and no email).
func (c columns) candidate(row []string, origin string) (model.RawCandidate, bool) {
	cand := model.RawCandidate{
		FullName:    cell(row, c.fullName),
		LinkedInURL: cell(row, c.linkedInURL),
		Email:       cell(row, c.email),
		Company:     cell(row, c.company),
		Origin:      origin,
	}
	if cand.LinkedInURL == "" && cand.Email == "" {
		return model.RawCandidate{}, false
	}
	return cand, true
}

// Result reports what an ingest pass produced.
type Result struct {
	Candidates []model.RawCandidate
	Skipped    int // rows without a usable identity
}
