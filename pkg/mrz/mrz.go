// Package mrz parses the machine-readable zone of identity documents into
// structured fields per the ICAO 9303 fixed-width layouts (TD1/TD2/TD3),
// correcting the OCR confusions typical for that character set.
package mrz

import "strings"

// Format identifies the ICAO 9303 layout of a machine-readable zone.
type Format string

const (
	TD1 Format = "TD1" // identity cards, 3 lines of 30
	TD2 Format = "TD2" // official travel documents, 2 lines of 36
	TD3 Format = "TD3" // passports, 2 lines of 44
)

const filler = "<"

// Lines shorter than this after normalization are scanning noise, not data.
const minLineLen = 20

// Placeholder score for every successful parse; check digits are not verified.
const parseConfidence = 0.75

// Record holds the fields extracted from a machine-readable zone.
type Record struct {
	DocumentType   Format   `json:"document_type"`
	DocumentNumber string   `json:"document_number"`
	IssuingCountry string   `json:"issuing_country"`
	Nationality    string   `json:"nationality"`
	Sex            string   `json:"sex"`
	DateOfBirth    string   `json:"date_of_birth"`
	DateOfExpiry   string   `json:"date_of_expiry"`
	Surname        string   `json:"surname"`
	GivenNames     string   `json:"given_names"`
	OptionalData   string   `json:"optional_data"`
	RawLines       []string `json:"raw_lines"`
	Confidence     float64  `json:"confidence"`
}

// Parse normalizes raw OCR text, classifies its format from the surviving
// line count and extracts the fixed-offset fields.
func Parse(text string) (*Record, error) {
	lines := normalizeLines(text)
	if len(lines) == 0 {
		return nil, ErrNoValidLines
	}
	switch len(lines) {
	case 2:
		if len(lines[0]) >= 40 {
			return parseTD3(lines), nil
		}
		return parseTD2(lines), nil
	case 3:
		return parseTD1(lines), nil
	}
	return nil, &UnsupportedLineCountError{Lines: len(lines)}
}

func normalizeLines(text string) []string {
	var out []string
	for _, l := range strings.Split(text, "\n") {
		l = strings.ToUpper(l)
		l = strings.ReplaceAll(l, " ", "")
		l = strings.TrimSpace(l)
		if len(l) < minLineLen {
			continue
		}
		out = append(out, l)
	}
	return out
}

func parseTD1(lines []string) *Record {
	l1 := padLine(lines[0], 30)
	l2 := padLine(lines[1], 30)
	l3 := padLine(lines[2], 30)
	surname, given := splitNames(l3)
	return &Record{
		DocumentType:   TD1,
		IssuingCountry: field(l1, 2, 5),
		DocumentNumber: strings.TrimRight(field(l1, 5, 14), filler),
		OptionalData:   strings.TrimRight(field(l1, 15, 30), filler),
		DateOfBirth:    fixNumeric(field(l2, 0, 6)),
		Sex:            field(l2, 7, 8),
		DateOfExpiry:   field(l2, 8, 14),
		Nationality:    field(l2, 15, 18),
		Surname:        surname,
		GivenNames:     given,
		RawLines:       []string{l1, l2, l3},
		Confidence:     parseConfidence,
	}
}

func parseTD2(lines []string) *Record {
	l1 := padLine(lines[0], 36)
	l2 := padLine(lines[1], 36)
	surname, given := splitNames(field(l1, 5, 36))
	return &Record{
		DocumentType:   TD2,
		IssuingCountry: field(l1, 2, 5),
		Surname:        surname,
		GivenNames:     given,
		DocumentNumber: strings.TrimRight(field(l2, 0, 9), filler),
		Nationality:    field(l2, 10, 13),
		DateOfBirth:    fixNumeric(field(l2, 13, 19)),
		Sex:            field(l2, 20, 21),
		DateOfExpiry:   field(l2, 21, 27),
		OptionalData:   strings.TrimRight(field(l2, 28, 35), filler),
		RawLines:       []string{l1, l2},
		Confidence:     parseConfidence,
	}
}

func parseTD3(lines []string) *Record {
	l1 := padLine(lines[0], 44)
	l2 := padLine(lines[1], 44)
	surname, given := splitNames(field(l1, 5, 44))
	return &Record{
		DocumentType:   TD3,
		IssuingCountry: field(l1, 2, 5),
		Surname:        surname,
		GivenNames:     given,
		DocumentNumber: strings.TrimRight(field(l2, 0, 9), filler),
		Nationality:    field(l2, 10, 13),
		DateOfBirth:    fixNumeric(field(l2, 13, 19)),
		Sex:            field(l2, 20, 21),
		DateOfExpiry:   field(l2, 21, 27),
		OptionalData:   strings.TrimRight(field(l2, 28, 42), filler),
		RawLines:       []string{l1, l2},
		Confidence:     parseConfidence,
	}
}

// padLine brings a normalized line to the format's fixed width: short lines
// are right-padded with the filler character, long ones truncated.
func padLine(line string, width int) string {
	if len(line) >= width {
		return line[:width]
	}
	return line + strings.Repeat(filler, width-len(line))
}

// field returns the [start,end) slice of a width-normalized line. A start
// past the end of the line yields ""; end is clamped to the line length.
func field(line string, start, end int) string {
	if start >= len(line) {
		return ""
	}
	if end > len(line) {
		end = len(line)
	}
	return line[start:end]
}
