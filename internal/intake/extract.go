package intake

import (
	"regexp"
	"strings"
)

// Extraction is the result of scanning a message for onboarding details.
type Extraction struct {
	// Marker is set when the message looks like an onboarding message:
	// "soy" together with "especialidad" or "orientación".
	Marker bool
	// SelfIdentified is set when the message contains the word "soy".
	SelfIdentified bool
	Name        string
	Specialty   string
	Orientation string
}

// Complete reports whether all three profile fields were found.
func (e Extraction) Complete() bool {
	return e.Name != "" && e.Specialty != "" && e.Orientation != ""
}

// Extractor finds profile details in free text.
type Extractor interface {
	Extract(text string) Extraction
}

var (
	selfPattern        = regexp.MustCompile(`(?i)\bsoy\b`)
	namePattern        = regexp.MustCompile(`(?i)soy\s+([^,]+)`)
	specialtyPattern   = regexp.MustCompile(`(?i)especialidad\s+([^,]+)`)
	orientationPattern = regexp.MustCompile(`(?i)orientación\s+([^,]+)`)
)

// RegexExtractor matches messages shaped like
// "Soy <name>, especialidad <specialty>, orientación <orientation>".
type RegexExtractor struct{}

func (RegexExtractor) Extract(text string) Extraction {
	lower := strings.ToLower(text)
	ex := Extraction{
		Marker: strings.Contains(lower, "soy") &&
			(strings.Contains(lower, "especialidad") || strings.Contains(lower, "orientación")),
		SelfIdentified: selfPattern.MatchString(text),
	}
	if !ex.Marker && !ex.SelfIdentified {
		return ex
	}
	ex.Name = firstGroup(namePattern, text)
	ex.Specialty = firstGroup(specialtyPattern, text)
	ex.Orientation = firstGroup(orientationPattern, text)
	return ex
}

func firstGroup(re *regexp.Regexp, text string) string {
	m := re.FindStringSubmatch(text)
	if len(m) < 2 {
		return ""
	}
	return cleanField(m[1])
}

// cleanField trims whitespace and trailing sentence punctuation.
func cleanField(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimRight(s, ".!;:")
	return strings.TrimSpace(s)
}
