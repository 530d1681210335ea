package extract

import "unicode"

// Language codes returned by DetectLanguage.
const (
	LangZH = "zh"
	LangEN = "en"
)

// DetectLanguage returns LangZH when more than 30% of the non-space runes
// are CJK unified ideographs, LangEN otherwise.
func DetectLanguage(text string) string {
	var total, cjk int
	for _, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if r >= 0x4E00 && r <= 0x9FFF {
			cjk++
		}
	}
	if total == 0 {
		return LangEN
	}
	if float64(cjk)/float64(total) > 0.3 {
		return LangZH
	}
	return LangEN
}
