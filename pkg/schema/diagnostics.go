package schema

import (
	"fmt"
	"sync"
)

// Diagnostic codes for non-fatal construction issues.
const (
	DiagTapsNoneWithInitial = "DIAG_TAPS_NONE_WITH_INITIAL"
	DiagTestValueMissing    = "DIAG_TEST_VALUE_MISSING"
)

// Severity indicates whether an issue is a warning or purely informational.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Issue is a single diagnostic with location context.
type Issue struct {
	Path     string   `json:"path"`
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

func (i Issue) String() string {
	return fmt.Sprintf("%s %s: %s (%s)", i.Severity, i.Path, i.Message, i.Code)
}

// Diagnostics collects non-fatal issues raised while constructing a loop.
// The zero value is ready to use and safe for concurrent use.
type Diagnostics struct {
	mu       sync.Mutex
	Warnings []Issue `json:"warnings,omitempty"`
	Infos    []Issue `json:"infos,omitempty"`
}

// AddWarning appends a warning-severity issue.
func (d *Diagnostics) AddWarning(path, code, message string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Warnings = append(d.Warnings, Issue{
		Path: path, Code: code, Message: message, Severity: SeverityWarning,
	})
}

// AddInfo appends an info-severity issue.
func (d *Diagnostics) AddInfo(path, code, message string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Infos = append(d.Infos, Issue{
		Path: path, Code: code, Message: message, Severity: SeverityInfo,
	})
}

// Len returns the total number of recorded issues.
func (d *Diagnostics) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Warnings) + len(d.Infos)
}

// Has reports whether any issue with the given code was recorded.
func (d *Diagnostics) Has(code string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, is := range d.Warnings {
		if is.Code == code {
			return true
		}
	}
	for _, is := range d.Infos {
		if is.Code == code {
			return true
		}
	}
	return false
}

// Merge combines another Diagnostics into this one.
func (d *Diagnostics) Merge(other *Diagnostics) {
	if other == nil || other == d {
		return
	}
	other.mu.Lock()
	warnings := append([]Issue(nil), other.Warnings...)
	infos := append([]Issue(nil), other.Infos...)
	other.mu.Unlock()

	d.mu.Lock()
	defer d.mu.Unlock()
	d.Warnings = append(d.Warnings, warnings...)
	d.Infos = append(d.Infos, infos...)
}
