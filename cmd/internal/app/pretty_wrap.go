package app

import (
	"os"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	prettyDefaultWidth = 100
	prettyMinWidth     = 40
)

var ansiSeqRE = regexp.MustCompile("\x1b\\[[0-9;]*m")

// stripANSI removes color escape sequences.
func stripANSI(s string) string {
	return ansiSeqRE.ReplaceAllString(s, "")
}

// visualLen is the printable width of s, ignoring escape sequences.
func visualLen(s string) int {
	return utf8.RuneCountInString(stripANSI(s))
}

// terminalWidth resolves the wrap width for pretty output:
// BIZHUB_LOG_WIDTH override first, then COLUMNS, then the default.
// Values below the minimum are ignored.
func (h *prettyHandler) terminalWidth() int {
	if n, err := strconv.Atoi(strings.TrimSpace(os.Getenv("BIZHUB_LOG_WIDTH"))); err == nil && n >= prettyMinWidth {
		return n
	}
	if n, err := strconv.Atoi(strings.TrimSpace(os.Getenv("COLUMNS"))); err == nil && n >= prettyMinWidth {
		return n
	}
	return prettyDefaultWidth
}

// wrapSegments lays segments out into lines no wider than width (measured
// visually). Continuation lines start with contPrefix. A single segment wider
// than a line is truncated with an ellipsis rather than split mid-escape.
func wrapSegments(segments []string, sep string, width int, contPrefix string) []string {
	if width <= 0 {
		return []string{strings.Join(segments, sep)}
	}

	var lines []string
	cur := ""
	curLen := 0
	sepLen := visualLen(sep)

	startLine := func(seg string, segLen int) {
		prefix := ""
		if len(lines) > 0 {
			prefix = contPrefix
		}
		avail := width - visualLen(prefix)
		if segLen > avail {
			seg = truncateVisual(seg, avail)
			segLen = visualLen(seg)
		}
		cur = prefix + seg
		curLen = visualLen(prefix) + segLen
	}

	for _, seg := range segments {
		if seg == "" {
			continue
		}
		segLen := visualLen(seg)

		if cur == "" {
			startLine(seg, segLen)
			continue
		}
		if curLen+sepLen+segLen > width {
			lines = append(lines, cur)
			startLine(seg, segLen)
			continue
		}
		cur += sep + seg
		curLen += sepLen + segLen
	}
	if cur != "" {
		lines = append(lines, cur)
	}
	return lines
}

// truncateVisual shortens s to at most max printable runes, preserving escape
// sequences and ending with an ellipsis marker.
func truncateVisual(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if visualLen(s) <= max {
		return s
	}

	var b strings.Builder
	count := 0
	i := 0
	for i < len(s) && count < max-1 {
		if s[i] == 0x1b {
			if j := strings.IndexByte(s[i:], 'm'); j >= 0 {
				b.WriteString(s[i : i+j+1])
				i += j + 1
				continue
			}
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		b.WriteRune(r)
		count++
		i += size
	}
	b.WriteString("…")
	return b.String()
}
