package mrz

import "strings"

// splitNames splits the MRZ name field on the double-filler delimiter into
// surname and given names.
func splitNames(nameField string) (surname, given string) {
	parts := strings.Split(nameField, "<<")
	surname = cleanNameSegment(parts[0])
	if len(parts) > 1 {
		given = cleanNameSegment(parts[1])
	}
	return surname, given
}

// cleanNameSegment turns filler into spaces, trims, and corrects a scanned
// digit 0 to the letter O: name fields are alphabetic, so a 0 is a misread.
func cleanNameSegment(seg string) string {
	seg = strings.ReplaceAll(seg, filler, " ")
	seg = strings.TrimSpace(seg)
	return strings.ReplaceAll(seg, "0", "O")
}

// fixNumeric applies the inverse correction for numeric fields: a scanned
// letter O is a misread digit 0. Only the birth date receives it; the expiry
// date is left exactly as scanned.
func fixNumeric(s string) string {
	return strings.ReplaceAll(s, "O", "0")
}
