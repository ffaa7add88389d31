package policy

import (
	"time"

	"github.com/cloudjanitor/cloudjanitor/pkg/cleanup"
)

// Package is the Rego package every protection policy contributes to.
const Package = "janitor"

// Query collects the reasons a resource must be kept.
const Query = "data." + Package + ".protect"

// Policy is a Rego module contributing "protect contains reason" rules.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Source is the file the policy was loaded from, empty for built-ins.
	Source string `json:"source,omitempty"`

	// LoadedAt is when the policy was loaded.
	LoadedAt time.Time `json:"loaded_at"`
}

// Input is the document policies see as input.
type Input struct {
	Resource cleanup.Resource `json:"resource"`
	Context  Context          `json:"context"`
}

// Context describes the run asking the question.
type Context struct {
	// Now is the evaluation time in RFC 3339.
	Now string `json:"now"`

	// ExecutionID identifies the run, if known.
	ExecutionID string `json:"execution_id,omitempty"`
}

// Decision is the outcome for one resource.
type Decision struct {
	Resource string   `json:"resource"`
	Reasons  []string `json:"reasons,omitempty"`
}

// Protected reports whether any policy asked to keep the resource.
func (d Decision) Protected() bool { return len(d.Reasons) > 0 }
