package session

import "strings"

// FormatKind enumerates the known set formats.
type FormatKind uint8

const (
	Friendlies FormatKind = iota
	Practice
	Bo3
	Bo5
	Bo7
	FT5
	FT10
	Other
)

var formatNames = [...]struct{ short, long string }{
	Friendlies: {"Friendlies", "Friendlies"},
	Practice:   {"Practice", "Practice"},
	Bo3:        {"Bo3", "Best of 3"},
	Bo5:        {"Bo5", "Best of 5"},
	Bo7:        {"Bo7", "Best of 7"},
	FT5:        {"FT5", "First to 5"},
	FT10:       {"FT10", "First to 10"},
	Other:      {"Other", "Other"},
}

// SetFormat describes how a set is played. Other carries a free-text label.
type SetFormat struct {
	Kind  FormatKind
	Label string // only meaningful for Other
}

// Format is shorthand for a SetFormat without a label.
func Format(k FormatKind) SetFormat { return SetFormat{Kind: k} }

// OtherFormat returns a free-text format.
func OtherFormat(label string) SetFormat { return SetFormat{Kind: Other, Label: label} }

// ParseSetFormat accepts short or long descriptions in any case, with or
// without spaces ("bo3", "Best of 3", "ft 5"). Anything else becomes an
// Other format carrying the input as label; an empty string is Friendlies.
func ParseSetFormat(s string) SetFormat {
	s = strings.TrimSpace(s)
	if s == "" {
		return Format(Friendlies)
	}
	norm := strings.ToLower(strings.ReplaceAll(s, " ", ""))
	for k, n := range formatNames {
		if FormatKind(k) == Other {
			continue
		}
		if norm == strings.ToLower(strings.ReplaceAll(n.short, " ", "")) ||
			norm == strings.ToLower(strings.ReplaceAll(n.long, " ", "")) {
			return Format(FormatKind(k))
		}
	}
	return OtherFormat(s)
}

// ShortDescription is the compact label used in file names and JSON.
func (f SetFormat) ShortDescription() string {
	if f.Kind == Other && f.Label != "" {
		return f.Label
	}
	if int(f.Kind) < len(formatNames) {
		return formatNames[f.Kind].short
	}
	return formatNames[Other].short
}

// Description is the human-readable label.
func (f SetFormat) Description() string {
	if f.Kind == Other && f.Label != "" {
		return f.Label
	}
	if int(f.Kind) < len(formatNames) {
		return formatNames[f.Kind].long
	}
	return formatNames[Other].long
}

func (f SetFormat) String() string { return f.ShortDescription() }

// WinsRequired is the number of game wins that decides a set, or 0 for
// formats without a fixed length.
func (f SetFormat) WinsRequired() int {
	switch f.Kind {
	case Bo3:
		return 2
	case Bo5:
		return 3
	case Bo7:
		return 4
	case FT5:
		return 5
	case FT10:
		return 10
	}
	return 0
}
