package filter

import (
	"slices"
	"strings"

	"CoverityPublisher/internal/domain"
	"CoverityPublisher/internal/ports"
)

// Ladders list ranked levels from lowest to highest.
var (
	ImpactLadder   = []string{"Low", "Medium", "High"}
	SeverityLadder = []string{"Minor", "Moderate", "Major"}
)

// Matches reports whether the defect satisfies every restricted dimension of spec.
func Matches(defect domain.DefectSummary, spec *domain.FilterSpecification) bool {
	if spec == nil {
		return true
	}

	if !allowed(spec.Classifications, defect.Classification) ||
		!allowed(spec.Severities, defect.Severity) ||
		!allowed(spec.Actions, defect.Action) ||
		!allowed(spec.Impacts, defect.Impact) ||
		!allowed(spec.Components, defect.Component) ||
		!allowed(spec.Checkers, defect.Checker) {
		return false
	}

	if !spec.Cutoff.IsZero() && defect.FirstDetected.Before(spec.Cutoff) {
		return false
	}

	return true
}

// Apply keeps the defects that match spec, preserving order.
func Apply(defects []domain.DefectSummary, spec *domain.FilterSpecification) []domain.DefectSummary {
	if spec.IsEmpty() {
		return defects
	}

	kept := make([]domain.DefectSummary, 0, len(defects))
	for _, d := range defects {
		if Matches(d, spec) {
			kept = append(kept, d)
		}
	}
	return kept
}

func allowed(set []string, value string) bool {
	return len(set) == 0 || slices.Contains(set, value)
}

// ExpandImpacts resolves "Medium+" style entries against ImpactLadder.
func ExpandImpacts(values []string) []string {
	return expand(values, ImpactLadder)
}

// ExpandSeverities resolves "Moderate+" style entries against SeverityLadder.
func ExpandSeverities(values []string) []string {
	return expand(values, SeverityLadder)
}

// expand replaces a trailing-plus entry with its level and every level above it.
// Unknown levels are kept verbatim without the plus.
func expand(values, ladder []string) []string {
	if len(values) == 0 {
		return values
	}

	out := make([]string, 0, len(values))
	add := func(v string) {
		if !slices.Contains(out, v) {
			out = append(out, v)
		}
	}

	for _, raw := range values {
		v := strings.TrimSpace(raw)
		base, ranged := strings.CutSuffix(v, "+")
		if !ranged {
			add(v)
			continue
		}
		idx := slices.Index(ladder, base)
		if idx < 0 {
			add(base)
			continue
		}
		for _, level := range ladder[idx:] {
			add(level)
		}
	}
	return out
}

// ServerFilter translates the dimensions the defect service understands into
// a request filter. The client still re-applies the full specification.
func ServerFilter(stream domain.Stream) ports.StreamFilter {
	req := ports.StreamFilter{
		Project: stream.Project,
		Stream:  stream.Name,
	}

	spec := stream.Filter
	if spec == nil {
		return req
	}

	req.Checkers = slices.Clone(spec.Checkers)
	req.Classifications = slices.Clone(spec.Classifications)
	req.Actions = slices.Clone(spec.Actions)
	req.Severities = slices.Clone(spec.Severities)
	req.Impacts = slices.Clone(spec.Impacts)
	req.Components = slices.Clone(spec.Components)
	req.FirstDetectedAfter = spec.Cutoff
	return req
}
