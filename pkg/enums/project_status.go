package enums

import (
	"fmt"
	"strings"
)

// ProjectStatus mirrors the status owned by the project collaborator.
type ProjectStatus string

const (
	ProjectStatusDraft     ProjectStatus = "DRAFT"
	ProjectStatusOpen      ProjectStatus = "OPEN"
	ProjectStatusClosed    ProjectStatus = "CLOSED"
	ProjectStatusCompleted ProjectStatus = "COMPLETED"
)

var validProjectStatuses = []ProjectStatus{
	ProjectStatusDraft,
	ProjectStatusOpen,
	ProjectStatusClosed,
	ProjectStatusCompleted,
}

// String implements fmt.Stringer.
func (s ProjectStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known project status.
func (s ProjectStatus) IsValid() bool {
	for _, candidate := range validProjectStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// AcceptsBids reports whether new bids may be placed on a project in this status.
func (s ProjectStatus) AcceptsBids() bool {
	return s == ProjectStatusOpen
}

// ParseProjectStatus converts raw input into a ProjectStatus.
func ParseProjectStatus(value string) (ProjectStatus, error) {
	normalized := ProjectStatus(strings.ToUpper(strings.TrimSpace(value)))
	if normalized.IsValid() {
		return normalized, nil
	}
	return "", fmt.Errorf("invalid project status %q", value)
}
