// Package secrets redacts credentials from captured source lines before they are stored.
package secrets

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/zricethezav/gitleaks/v8/detect"
)

// Finding is a detected secret. The secret value itself is not kept.
type Finding struct {
	RuleID      string
	Description string
	Line        int
}

// Redactor replaces secrets found by the default gitleaks rule set with markers.
type Redactor struct {
	mu       sync.Mutex
	detector *detect.Detector
}

// NewRedactor loads the default gitleaks configuration.
func NewRedactor() (*Redactor, error) {
	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load gitleaks config: %w", err)
	}
	return &Redactor{detector: detector}, nil
}

// Redact returns content with every detected secret replaced by "[REDACTED:<rule>]".
func (r *Redactor) Redact(content string) (string, []Finding) {
	if content == "" {
		return content, nil
	}

	r.mu.Lock()
	found := r.detector.DetectString(content)
	r.mu.Unlock()

	if len(found) == 0 {
		return content, nil
	}

	// Longest first so a secret that contains another is replaced whole.
	sort.Slice(found, func(i, j int) bool { return len(found[i].Secret) > len(found[j].Secret) })

	findings := make([]Finding, 0, len(found))
	for _, f := range found {
		findings = append(findings, Finding{RuleID: f.RuleID, Description: f.Description, Line: f.StartLine})
		if f.Secret == "" {
			continue
		}
		content = strings.ReplaceAll(content, f.Secret, "[REDACTED:"+f.RuleID+"]")
	}
	return content, findings
}

// RedactAll redacts each string in place and returns the total number of findings.
func (r *Redactor) RedactAll(values []string) int {
	total := 0
	for i, v := range values {
		redacted, findings := r.Redact(v)
		values[i] = redacted
		total += len(findings)
	}
	return total
}
