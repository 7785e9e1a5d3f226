package domain

import (
	"fmt"
	"strings"
	"time"
)

// Stream identifies an analysis stream of a project on a Connect instance.
type Stream struct {
	Instance      string
	Project       string
	Name          string
	Label         string
	DefaultAction string
	Filter        *FilterSpecification
}

// Key joins instance, project and stream the way build detail links expect.
func (s Stream) Key() string {
	return fmt.Sprintf("%s_%s_%s", s.Instance, s.Project, s.Name)
}

// DisplayName prefers the configured label.
func (s Stream) DisplayName() string {
	if s.Label != "" {
		return s.Label
	}
	return s.Name
}

// Validate checks the stream before any request is issued for it.
func (s Stream) Validate() error {
	switch {
	case strings.TrimSpace(s.Instance) == "":
		return &ConfigurationError{Stream: s.Name, Field: "instance", Reason: "is required"}
	case strings.TrimSpace(s.Project) == "":
		return &ConfigurationError{Stream: s.Name, Field: "project", Reason: "is required"}
	case strings.TrimSpace(s.Name) == "":
		return &ConfigurationError{Stream: s.Name, Field: "stream", Reason: "is required"}
	}

	if s.Filter == nil {
		return nil
	}
	for _, d := range s.Filter.dimensions() {
		for _, v := range d.values {
			if strings.TrimSpace(v) == "" {
				return &ConfigurationError{Stream: s.Name, Field: d.name, Reason: "contains an empty value"}
			}
		}
	}
	return nil
}

// FilterSpecification restricts which defects are accepted for a stream.
// A nil or empty dimension places no restriction; a zero Cutoff disables
// the first-detected check.
type FilterSpecification struct {
	Classifications []string
	Severities      []string
	Actions         []string
	Impacts         []string
	Components      []string
	Checkers        []string
	Cutoff          time.Time
}

// IsEmpty reports whether the specification restricts nothing.
func (f *FilterSpecification) IsEmpty() bool {
	if f == nil {
		return true
	}
	for _, d := range f.dimensions() {
		if len(d.values) > 0 {
			return false
		}
	}
	return f.Cutoff.IsZero()
}

type dimension struct {
	name   string
	values []string
}

func (f *FilterSpecification) dimensions() []dimension {
	return []dimension{
		{"classification", f.Classifications},
		{"severity", f.Severities},
		{"action", f.Actions},
		{"impact", f.Impacts},
		{"component", f.Components},
		{"checker", f.Checkers},
	}
}
