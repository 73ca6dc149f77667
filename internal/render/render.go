// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package render turns a raw assistant reply into a structured render plan.
//
// Replies are markdown-ish text that may contain pipe tables, and the host
// UI needs those as logical tables rather than raw text. A single pass over
// the reply's lines segments it into prose and table regions; table rows are
// normalised so every row has exactly as many cells as the header. The
// parser is deliberately hand-written: it must guarantee that every input
// line lands in exactly one segment, a property a general markdown library
// does not give us.
//
// The state machine tolerates tables with no separator line, ragged rows,
// blank lines inside a table, and prose interleaved between tables.
package render

import "strings"

// =============================================================================
// RENDER PLAN
// =============================================================================

// SegmentKind discriminates render plan segments.
type SegmentKind string

const (
	SegmentProse SegmentKind = "prose"
	SegmentTable SegmentKind = "table"
)

// Segment is one region of a reply: either prose text, or a table with a
// header row and normalised data rows. Bold markers inside cells are left
// untouched for the host UI to style.
type Segment struct {
	Kind    SegmentKind `json:"kind"`
	Text    string      `json:"text,omitempty"`
	Headers []string    `json:"headers,omitempty"`
	Rows    [][]string  `json:"rows,omitempty"`
}

// Plan is the ordered segmentation of one assistant reply.
type Plan struct {
	Segments []Segment `json:"segments"`
}

// =============================================================================
// PARSER
// =============================================================================

// parser accumulates segments while walking reply lines.
type parser struct {
	segments []Segment
	prose    []string
	table    []string
	inTable  bool
}

// Render segments a raw reply into a render plan. Cost is O(n) in the reply
// length; every input line ends up in exactly one segment.
func Render(reply string) *Plan {
	p := &parser{}

	for _, line := range strings.Split(reply, "\n") {
		p.feed(line)
	}
	p.flush()

	return &Plan{Segments: p.segments}
}

// feed advances the state machine by one line.
func (p *parser) feed(line string) {
	candidate := isCandidate(line)
	separator := isSeparator(line)

	if p.inTable {
		switch {
		case candidate || separator:
			p.table = append(p.table, line)
		case strings.TrimSpace(line) == "":
			// Blank lines inside a run do not terminate the table.
		default:
			// First non-empty non-candidate line ends the run.
			p.flushTable()
			p.inTable = false
			p.prose = append(p.prose, line)
		}
		return
	}

	if candidate {
		p.flushProse()
		p.inTable = true
		p.table = append(p.table, line)
		return
	}
	p.prose = append(p.prose, line)
}

// flush emits whatever region is still open at end of input.
func (p *parser) flush() {
	if p.inTable {
		p.flushTable()
		p.inTable = false
		return
	}
	p.flushProse()
}

// flushProse emits the accumulated prose lines as one segment, dropping
// segments that are pure whitespace.
func (p *parser) flushProse() {
	if len(p.prose) == 0 {
		return
	}
	text := strings.TrimSpace(strings.Join(p.prose, "\n"))
	p.prose = p.prose[:0]
	if text == "" {
		return
	}
	p.segments = append(p.segments, Segment{Kind: SegmentProse, Text: text})
}

// flushTable converts the collected run into a table segment. Runs with no
// usable header fall back to a verbatim prose segment so no line is lost.
func (p *parser) flushTable() {
	run := p.table
	p.table = nil
	if len(run) == 0 {
		return
	}

	headerIdx := -1
	for i, line := range run {
		if !isSeparator(line) {
			headerIdx = i
			break
		}
	}
	if headerIdx == -1 {
		p.emitRunAsProse(run)
		return
	}

	headers := splitCells(run[headerIdx])
	if len(headers) == 0 {
		p.emitRunAsProse(run)
		return
	}

	var rows [][]string
	for _, line := range run[headerIdx+1:] {
		if isSeparator(line) {
			continue
		}
		rows = append(rows, normalizeRow(splitCells(line), len(headers)))
	}

	p.segments = append(p.segments, Segment{
		Kind:    SegmentTable,
		Headers: headers,
		Rows:    rows,
	})
}

// emitRunAsProse emits a failed table run verbatim.
func (p *parser) emitRunAsProse(run []string) {
	text := strings.TrimSpace(strings.Join(run, "\n"))
	if text == "" {
		return
	}
	p.segments = append(p.segments, Segment{Kind: SegmentProse, Text: text})
}

// =============================================================================
// LINE CLASSIFICATION
// =============================================================================

// isCandidate reports whether a line looks like a table row: at least two
// pipe characters.
func isCandidate(line string) bool {
	return strings.Count(line, "|") >= 2
}

// separatorMarks are the substrings that mark a header/body separator line.
var separatorMarks = []string{"---", "--|", "-|-", "|-|"}

// isSeparator reports whether a line is a table separator.
func isSeparator(line string) bool {
	if !strings.Contains(line, "|") {
		return false
	}
	for _, mark := range separatorMarks {
		if strings.Contains(line, mark) {
			return true
		}
	}
	return false
}

// =============================================================================
// CELL HANDLING
// =============================================================================

// splitCells splits a table line on pipes, discarding only the pair of empty
// entries produced by a leading and trailing pipe. Interior empty cells are
// preserved. Cells are trimmed of surrounding spaces.
func splitCells(line string) []string {
	parts := strings.Split(line, "|")

	if len(parts) > 0 && strings.TrimSpace(parts[0]) == "" {
		parts = parts[1:]
	}
	if len(parts) > 0 && strings.TrimSpace(parts[len(parts)-1]) == "" {
		parts = parts[:len(parts)-1]
	}

	cells := make([]string, len(parts))
	for i, part := range parts {
		cells[i] = strings.TrimSpace(part)
	}
	return cells
}

// normalizeRow pads or truncates a row to exactly width cells.
func normalizeRow(cells []string, width int) []string {
	if len(cells) > width {
		return cells[:width]
	}
	for len(cells) < width {
		cells = append(cells, "")
	}
	return cells
}

// =============================================================================
// CANONICAL FORM
// =============================================================================

// Markdown re-emits the plan as markdown: prose verbatim, tables in
// canonical pipe form with a separator row. Useful for exports and for
// verifying that segmentation loses nothing.
func (p *Plan) Markdown() string {
	blocks := make([]string, 0, len(p.Segments))
	for _, seg := range p.Segments {
		switch seg.Kind {
		case SegmentProse:
			blocks = append(blocks, seg.Text)
		case SegmentTable:
			blocks = append(blocks, tableMarkdown(seg))
		}
	}
	return strings.Join(blocks, "\n\n")
}

// tableMarkdown renders one table segment in canonical pipe form.
func tableMarkdown(seg Segment) string {
	var sb strings.Builder

	writeRow := func(cells []string) {
		sb.WriteString("|")
		for _, cell := range cells {
			sb.WriteString(" ")
			sb.WriteString(cell)
			sb.WriteString(" |")
		}
		sb.WriteString("\n")
	}

	writeRow(seg.Headers)

	sb.WriteString("|")
	for range seg.Headers {
		sb.WriteString(" --- |")
	}
	sb.WriteString("\n")

	for _, row := range seg.Rows {
		writeRow(row)
	}

	return strings.TrimRight(sb.String(), "\n")
}
