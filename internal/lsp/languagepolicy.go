package lsp

import "time"

// LanguagePolicy hooks per-language behavior into the otherwise generic
// façade, replacing the deep per-language server subclassing the original
// implementation used with a small trait/interface object (spec §9 design
// note). A zero-value DefaultLanguagePolicy is identity/no-op throughout.
type LanguagePolicy interface {
	// WarmupWait is slept once, before the first cross-file request a
	// session issues, to give a lazily-indexing server time to catch up.
	WarmupWait() time.Duration

	// NormalizeSymbolName strips server-specific metadata prefixes (e.g.
	// "Table 50000 'X'") down to the display identifier. Identity by default.
	NormalizeSymbolName(name string) string

	// ExtendRangeForTerminator grows a symbol's range to include a
	// trailing statement terminator some servers omit (e.g. a semicolon).
	// Identity by default.
	ExtendRangeForTerminator(r Range) Range

	// PreferredDefinition chooses among multiple candidate definition
	// locations for the same symbol (used by CompanionServer when a
	// companion server returns more than one definition). Defaults to the
	// first candidate.
	PreferredDefinition(candidates []Location) Location
}

// DefaultLanguagePolicy implements LanguagePolicy with no per-language
// behavior at all.
type DefaultLanguagePolicy struct{}

// WarmupWait returns zero: no warm-up delay.
func (DefaultLanguagePolicy) WarmupWait() time.Duration { return 0 }

// NormalizeSymbolName returns name unchanged.
func (DefaultLanguagePolicy) NormalizeSymbolName(name string) string { return name }

// ExtendRangeForTerminator returns r unchanged.
func (DefaultLanguagePolicy) ExtendRangeForTerminator(r Range) Range { return r }

// PreferredDefinition returns the first candidate, or a zero Location if
// candidates is empty.
func (DefaultLanguagePolicy) PreferredDefinition(candidates []Location) Location {
	if len(candidates) == 0 {
		return Location{}
	}
	return candidates[0]
}
