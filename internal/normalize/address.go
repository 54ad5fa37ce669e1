package normalize

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/heatcheck/internal/schema"
)

// AddressKey normalizes an address into its join key: surrounding whitespace
// is trimmed and the text is case-folded. The display value is never touched.
func AddressKey(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	return cases.Fold().String(s)
}

// SameAddress reports whether two raw addresses share a join key
func SameAddress(a, b string) bool {
	ka := AddressKey(a)
	return ka != "" && ka == AddressKey(b)
}

// ObjectType trims an object type and optionally title-cases it
// ("многоквартирный дом" -> "Многоквартирный Дом").
func ObjectType(raw string, titleCase bool) string {
	s := strings.Join(strings.Fields(raw), " ")
	if !titleCase || s == "" {
		return s
	}
	return cases.Title(language.Russian).String(s)
}

// SimplifiedAddress fills an empty simplified address with the unknown marker
func SimplifiedAddress(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return schema.UnknownAddress, true
	}
	return s, false
}

// IsHotWaterITP reports whether a hot-water kind denotes supply via a heat point
func IsHotWaterITP(kind string) bool {
	return strings.Contains(kind, schema.HotWaterITPMarker)
}

// YesNo renders a boolean in the vocabulary of the source files
func YesNo(b bool) string {
	if b {
		return schema.Yes
	}
	return schema.No
}

// IsBlank checks if a value is empty or one of the textual null markers
// spreadsheets and dataframe exports leave behind.
func IsBlank(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "nan", "nat", "none", "null", "<na>":
		return true
	}
	return false
}
