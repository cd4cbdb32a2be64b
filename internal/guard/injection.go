package guard

import "regexp"

// injectionPattern is a compiled regex with a weight; weights compound when
// several patterns fire.
type injectionPattern struct {
	re     *regexp.Regexp
	weight float64
}

// Attempts to override or extract the system prompt. The receptionist
// widget is embedded on public pages, so it sees plenty of these.
var injectionPatterns = []injectionPattern{
	{regexp.MustCompile(`(?i)(ignore|disregard|forget)\s+(all\s+)?(previous|prior|above|earlier|your)\s+(instructions?|rules?|prompts?|guidelines?)`), 0.9},
	{regexp.MustCompile(`(?i)you\s+are\s+now\s+(a|an|my)\s+`), 0.7},
	{regexp.MustCompile(`(?i)new\s+role\s*:|new\s+instructions?\s*:|system\s*prompt\s*:`), 0.9},
	{regexp.MustCompile(`(?i)(pretend|imagine|assume)\s+(that\s+)?(you\s+)?(are|have|were)\s+(no\s+)?(rules?|restrictions?|limits?|filters?)`), 0.9},
	{regexp.MustCompile(`(?i)jailbreak|DAN\s*mode|developer\s*mode|unrestricted\s*mode`), 0.9},
	{regexp.MustCompile(`(?i)(reveal|show|print|repeat|tell\s+me)\s+(your\s+)?(system\s+prompt|instructions?|initial\s+prompt|hidden\s+prompt)`), 0.8},
	{regexp.MustCompile(`(?i)(list|show|give)\s+(me\s+)?(all\s+)?(other\s+)?patient('?s)?\s+(data|names?|records?|appointments?)`), 0.7},
	{regexp.MustCompile(`(?i)\[/?INST\]|<\|im_start\|>|<\|im_end\|>|<\|system\|>`), 0.9},
	{regexp.MustCompile(`(?i)###\s*(system|instruction|assistant)\s*:`), 0.7},
}

// injectionScore is the max pattern weight, boosted 0.1 per extra signal
// and capped at 1.0.
func injectionScore(message string) float64 {
	var max float64
	hits := 0
	for _, p := range injectionPatterns {
		if p.re.MatchString(message) {
			hits++
			if p.weight > max {
				max = p.weight
			}
		}
	}
	if hits > 1 {
		max += float64(hits-1) * 0.1
		if max > 1.0 {
			max = 1.0
		}
	}
	return max
}
