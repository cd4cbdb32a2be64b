package guard

import "regexp"

// Phrasing that signals the patient needs a person, not the receptionist:
// refunds, complaints, threats of review or legal escalation, explicit
// requests for a human. Detection notifies the clinic owner out of band and
// never stops the conversation by itself.
var takeoverPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\brefund(s|ed)?\b`),
	regexp.MustCompile(`(?i)\bmy\s+money\s+back\b|\bcharge(d)?\s+(me\s+)?(twice|wrongly|incorrectly)\b`),
	regexp.MustCompile(`(?i)\bcomplain(t|ts|ing)?\b|\bfile\s+a\s+complaint\b`),
	regexp.MustCompile(`(?i)\b(speak|talk)\s+(to|with)\s+(a\s+)?(human|person|someone|manager|doctor)\b`),
	regexp.MustCompile(`(?i)\b(lawyer|attorney|legal\s+action|sue|lawsuit)\b`),
	regexp.MustCompile(`(?i)\b(terrible|awful|worst)\s+(service|experience|clinic)\b`),
	regexp.MustCompile(`(?i)\b(bad|negative|one[- ]star)\s+review\b`),
	regexp.MustCompile(`(?i)\bmalpractice\b|\binjur(y|ed)\b.*\b(treatment|procedure|appointment)\b`),
}

// DetectTakeover reports whether the message should alert a human at the
// clinic.
func DetectTakeover(message string) bool {
	for _, p := range takeoverPatterns {
		if p.MatchString(message) {
			return true
		}
	}
	return false
}
