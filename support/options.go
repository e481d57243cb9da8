package support

// ConceptValidationOptions tunes a single code validation.
type ConceptValidationOptions struct {
	// ValidateDisplay checks the supplied display against the code's display.
	ValidateDisplay bool
	// InferSystem lets a module find the system when only a code is given.
	InferSystem bool
}

// ValueSetExpansionOptions tunes an expansion.
type ValueSetExpansionOptions struct {
	Offset                  int
	Count                   int
	IncludeHierarchy        bool
	FailOnMissingCodeSystem bool
	DisplayLanguage         string
	// Filter is a case-insensitive substring matched against code displays.
	Filter string
}

// DefaultExpansionOptions returns count 1000, offset 0 and fail-on-missing.
func DefaultExpansionOptions() *ValueSetExpansionOptions {
	return &ValueSetExpansionOptions{
		Count:                   1000,
		FailOnMissingCodeSystem: true,
	}
}

// Page applies Offset and Count to n items, returning the [start, end) window.
func (o *ValueSetExpansionOptions) Page(n int) (start, end int) {
	if o == nil {
		o = DefaultExpansionOptions()
	}
	start = o.Offset
	if start < 0 {
		start = 0
	}
	if start > n {
		start = n
	}
	end = n
	if o.Count > 0 && start+o.Count < n {
		end = start + o.Count
	}
	return start, end
}
