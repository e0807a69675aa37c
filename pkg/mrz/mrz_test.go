package mrz

import (
	"errors"
	"strings"
	"testing"
)

const (
	td3Line1 = "P<UTOERIKSSON<<ANNA<MARIA<<<<<<<<<<<<<<<<<<<"
	td3Line2 = "L898902C36UTO7408122F1204159ZE184226B<<<<<10"
)

func TestParseTD3Sample(t *testing.T) {
	rec, err := Parse(td3Line1 + "\n" + td3Line2)
	if err != nil {
		t.Fatal(err)
	}
	checks := []struct {
		name, got, want string
	}{
		{"document type", string(rec.DocumentType), "TD3"},
		{"issuing country", rec.IssuingCountry, "UTO"},
		{"surname", rec.Surname, "ERIKSSON"},
		{"given names", rec.GivenNames, "ANNA MARIA"},
		{"document number", rec.DocumentNumber, "L898902C3"},
		{"nationality", rec.Nationality, "UTO"},
		{"date of birth", rec.DateOfBirth, "740812"},
		{"sex", rec.Sex, "F"},
		{"date of expiry", rec.DateOfExpiry, "120415"},
		{"optional data", rec.OptionalData, "ZE184226B"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s: got %q want %q", c.name, c.got, c.want)
		}
	}
	if rec.Confidence != 0.75 {
		t.Errorf("confidence: got %v want 0.75", rec.Confidence)
	}
	if len(rec.RawLines) != 2 || len(rec.RawLines[0]) != 44 || len(rec.RawLines[1]) != 44 {
		t.Errorf("raw lines not width-normalized: %v", rec.RawLines)
	}
}

func TestParseNormalizesCaseAndSpaces(t *testing.T) {
	noisy := strings.ToLower(td3Line1[:10]) + " " + td3Line1[10:] + "\n  " + td3Line2 + "  "
	rec, err := Parse(noisy)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Surname != "ERIKSSON" || rec.DocumentNumber != "L898902C3" {
		t.Fatalf("normalization broke extraction: %+v", rec)
	}
}

func TestParseTD1(t *testing.T) {
	text := strings.Join([]string{
		"I<UTOD231458907<<<<<<<<<<<<<<<",
		"7408122F1204159UTO<<<<<<<<<<<6",
		"ERIKSSON<<ANNA<MARIA<<<<<<<<<<",
	}, "\n")
	rec, err := Parse(text)
	if err != nil {
		t.Fatal(err)
	}
	if rec.DocumentType != TD1 {
		t.Fatalf("expected TD1, got %s", rec.DocumentType)
	}
	if rec.DocumentNumber != "D23145890" {
		t.Errorf("document number: got %q", rec.DocumentNumber)
	}
	if rec.IssuingCountry != "UTO" || rec.Nationality != "UTO" {
		t.Errorf("countries: %q / %q", rec.IssuingCountry, rec.Nationality)
	}
	if rec.DateOfBirth != "740812" || rec.Sex != "F" || rec.DateOfExpiry != "120415" {
		t.Errorf("line 2 fields: %q %q %q", rec.DateOfBirth, rec.Sex, rec.DateOfExpiry)
	}
	if rec.Surname != "ERIKSSON" || rec.GivenNames != "ANNA MARIA" {
		t.Errorf("names: %q / %q", rec.Surname, rec.GivenNames)
	}
	if rec.OptionalData != "" {
		t.Errorf("optional data should be empty, got %q", rec.OptionalData)
	}
}

func TestParseTD2Classification(t *testing.T) {
	// two lines, first shorter than 40 chars
	text := "I<UTOERIKSSON<<ANNA<MARIA<<<<<<<<<<<\n" +
		"D231458907UTO7408122F1204159<<<<<<<6"
	rec, err := Parse(text)
	if err != nil {
		t.Fatal(err)
	}
	if rec.DocumentType != TD2 {
		t.Fatalf("expected TD2, got %s", rec.DocumentType)
	}
	if rec.DocumentNumber != "D23145890" || rec.DateOfBirth != "740812" {
		t.Errorf("fields: %q %q", rec.DocumentNumber, rec.DateOfBirth)
	}
	if len(rec.RawLines[0]) != 36 {
		t.Errorf("TD2 line width: %d", len(rec.RawLines[0]))
	}
}

func TestParsePadsShortLines(t *testing.T) {
	// TD2 second line cut off by the scanner
	text := "I<UTOERIKSSON<<ANNA<MARIA<<<<<<<<<<<\n" +
		"D231458907UTO7408122F120415"
	rec, err := Parse(text)
	if err != nil {
		t.Fatal(err)
	}
	if len(rec.RawLines[1]) != 36 || !strings.HasSuffix(rec.RawLines[1], filler) {
		t.Fatalf("short line not padded: %q", rec.RawLines[1])
	}
	if rec.OptionalData != "" {
		t.Fatalf("optional data beyond the scanned text should be empty, got %q", rec.OptionalData)
	}
}

func TestNameDigitCorrection(t *testing.T) {
	line1 := padLine("P<UTOERIKSS0N<<J0HN", 44)
	rec, err := Parse(line1 + "\n" + td3Line2)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Surname != "ERIKSSON" {
		t.Errorf("surname: got %q want ERIKSSON", rec.Surname)
	}
	if rec.GivenNames != "JOHN" {
		t.Errorf("given names: got %q want JOHN", rec.GivenNames)
	}
}

func TestDateCorrectionAsymmetry(t *testing.T) {
	// O misread in both dates; only the birth date is corrected
	line2 := "L898902C36UTO74O8122F12O4159ZE184226B<<<<<10"
	rec, err := Parse(td3Line1 + "\n" + line2)
	if err != nil {
		t.Fatal(err)
	}
	if rec.DateOfBirth != "740812" {
		t.Errorf("birth date not corrected: %q", rec.DateOfBirth)
	}
	if rec.DateOfExpiry != "12O415" {
		t.Errorf("expiry date should stay as scanned: %q", rec.DateOfExpiry)
	}
}

func TestParseNoValidLines(t *testing.T) {
	for _, text := range []string{"", "too short", "abc\ndef\nghi"} {
		if _, err := Parse(text); !errors.Is(err, ErrNoValidLines) {
			t.Errorf("Parse(%q): expected ErrNoValidLines, got %v", text, err)
		}
	}
}

func TestParseUnsupportedLineCount(t *testing.T) {
	line := strings.Repeat("A", 30)
	text := strings.Join([]string{line, line, line, line}, "\n")
	_, err := Parse(text)
	var lineErr *UnsupportedLineCountError
	if !errors.As(err, &lineErr) {
		t.Fatalf("expected UnsupportedLineCountError, got %v", err)
	}
	if lineErr.Lines != 4 {
		t.Fatalf("expected 4 lines in error, got %d", lineErr.Lines)
	}
}
