package lsp

// PositionConverter handles conversions between different position representations.
// LSP uses 0-based line/column positions with UTF-16 code units for columns.
// This converter handles the translation between byte offsets and LSP positions.
type PositionConverter struct {
	content string
	lines   []lineInfo
}

// lineInfo stores information about a line for efficient position conversion.
type lineInfo struct {
	byteOffset int // Byte offset of line start
	byteLen    int // Length in bytes
}

// NewPositionConverter creates a new converter for the given content.
func NewPositionConverter(content string) *PositionConverter {
	pc := &PositionConverter{
		content: content,
	}
	pc.buildLineIndex()
	return pc
}

// buildLineIndex creates an index of all lines for fast position lookup.
func (pc *PositionConverter) buildLineIndex() {
	pc.lines = nil

	lineStart := 0
	for i, r := range pc.content {
		if r == '\n' {
			pc.lines = append(pc.lines, lineInfo{
				byteOffset: lineStart,
				byteLen:    i - lineStart,
			})
			lineStart = i + 1
		}
	}

	// Handle last line (may not end with newline)
	pc.lines = append(pc.lines, lineInfo{
		byteOffset: lineStart,
		byteLen:    len(pc.content) - lineStart,
	})
}

// ByteOffsetToPosition converts a byte offset to an LSP Position.
func (pc *PositionConverter) ByteOffsetToPosition(byteOffset int) Position {
	if byteOffset < 0 {
		return Position{Line: 0, Character: 0}
	}

	// Find the line containing this offset
	lineNum := 0
	for i, line := range pc.lines {
		if byteOffset < line.byteOffset+line.byteLen+1 { // +1 for newline
			lineNum = i
			break
		}
		if i == len(pc.lines)-1 {
			lineNum = i
		}
	}

	line := pc.lines[lineNum]

	// Calculate character within line (UTF-16 offset)
	charOffset := byteOffset - line.byteOffset
	if charOffset < 0 {
		charOffset = 0
	}
	if charOffset > line.byteLen {
		charOffset = line.byteLen
	}

	// Convert byte offset within line to UTF-16 offset
	lineContent := pc.content[line.byteOffset : line.byteOffset+line.byteLen]
	utf16Char := byteToUTF16Offset(lineContent, charOffset)

	return Position{
		Line:      lineNum,
		Character: utf16Char,
	}
}

// PositionToByteOffset converts an LSP Position to a byte offset.
func (pc *PositionConverter) PositionToByteOffset(pos Position) int {
	if pos.Line < 0 {
		return 0
	}
	if pos.Line >= len(pc.lines) {
		return len(pc.content)
	}

	line := pc.lines[pos.Line]

	// Convert UTF-16 character offset to byte offset within line
	lineContent := pc.content[line.byteOffset : line.byteOffset+line.byteLen]
	byteChar := utf16ToByteOffset(lineContent, pos.Character)

	return line.byteOffset + byteChar
}

// RangeToByteOffsets converts an LSP Range to start and end byte offsets.
func (pc *PositionConverter) RangeToByteOffsets(rng Range) (start, end int) {
	start = pc.PositionToByteOffset(rng.Start)
	end = pc.PositionToByteOffset(rng.End)
	return
}

// LineCount returns the number of lines.
func (pc *PositionConverter) LineCount() int {
	return len(pc.lines)
}

// LineContent returns the content of a line (excluding newline).
func (pc *PositionConverter) LineContent(lineNum int) string {
	if lineNum < 0 || lineNum >= len(pc.lines) {
		return ""
	}
	line := pc.lines[lineNum]
	return pc.content[line.byteOffset : line.byteOffset+line.byteLen]
}

// --- UTF-16 conversion helpers ---

// utf16LenForString returns the length in UTF-16 code units.
func utf16LenForString(s string) int {
	count := 0
	for _, r := range s {
		if r >= 0x10000 {
			count += 2 // Surrogate pair
		} else {
			count++
		}
	}
	return count
}

// byteToUTF16Offset converts a byte offset within a string to UTF-16 offset.
func byteToUTF16Offset(s string, byteOff int) int {
	if byteOff <= 0 {
		return 0
	}
	if byteOff >= len(s) {
		return utf16LenForString(s)
	}

	utf16Off := 0
	for i, r := range s {
		if i >= byteOff {
			break
		}
		if r >= 0x10000 {
			utf16Off += 2
		} else {
			utf16Off++
		}
	}
	return utf16Off
}

// utf16ToByteOffset converts a UTF-16 offset to byte offset within a string.
func utf16ToByteOffset(s string, utf16Off int) int {
	if utf16Off <= 0 {
		return 0
	}

	utf16Count := 0
	for i, r := range s {
		if utf16Count >= utf16Off {
			return i
		}
		if r >= 0x10000 {
			utf16Count += 2
		} else {
			utf16Count++
		}
	}
	return len(s)
}

// --- Position/Range comparison helpers ---

// IsPositionBefore returns true if a is before b.
func IsPositionBefore(a, b Position) bool {
	if a.Line < b.Line {
		return true
	}
	if a.Line > b.Line {
		return false
	}
	return a.Character < b.Character
}

// IsPositionAfter returns true if a is after b.
func IsPositionAfter(a, b Position) bool {
	return IsPositionBefore(b, a)
}

// ComparePositions returns -1 if a < b, 0 if a == b, 1 if a > b.
func ComparePositions(a, b Position) int {
	if a.Line < b.Line {
		return -1
	}
	if a.Line > b.Line {
		return 1
	}
	if a.Character < b.Character {
		return -1
	}
	if a.Character > b.Character {
		return 1
	}
	return 0
}

// RangeContains returns true if outer contains inner (inclusive bounds).
func RangeContains(outer, inner Range) bool {
	return !IsPositionAfter(outer.Start, inner.Start) &&
		!IsPositionAfter(inner.End, outer.End)
}
