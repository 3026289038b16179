package middleware

import "regexp"

// The detectors below are heuristic pattern families, not a parser. They catch
// the common injection shapes seen in request payloads but a determined
// attacker can encode around them; callers must treat a false negative as a
// possibility and keep output encoding and parameterized queries in place.

var xssPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<\s*script\b`),
	regexp.MustCompile(`(?i)<\s*/\s*script\s*>`),
	regexp.MustCompile(`(?i)<\s*(iframe|object|embed|applet)\b`),
	regexp.MustCompile(`(?i)\bon(load|error|click|mouseover|focus|blur|submit|keydown|keyup)\s*=`),
	regexp.MustCompile(`(?i)javascript\s*:`),
	regexp.MustCompile(`(?i)vbscript\s*:`),
	regexp.MustCompile(`(?i)data\s*:\s*text/html`),
	regexp.MustCompile(`(?i)expression\s*\(`),
	regexp.MustCompile(`(?i)<\s*(img|svg|body)\b[^>]*\bon[a-z]+\s*=`),
}

var sqlInjectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bunion\b[\s(]+\bselect\b`),
	regexp.MustCompile(`(?i)\bselect\b.+\bfrom\b`),
	regexp.MustCompile(`(?i)\binsert\b\s+\binto\b`),
	regexp.MustCompile(`(?i)\bdelete\b\s+\bfrom\b`),
	regexp.MustCompile(`(?i)\bupdate\b\s+\S+\s+\bset\b`),
	regexp.MustCompile(`(?i)\bdrop\b\s+\b(table|database)\b`),
	regexp.MustCompile(`(?i)\b(exec|execute)\b\s*\(`),
	regexp.MustCompile(`(?i)\bxp_cmdshell\b`),
	regexp.MustCompile(`--`),
	regexp.MustCompile(`/\*.*\*/`),
	regexp.MustCompile(`(?i)['"]\s*(or|and)\s+['"]?\w+['"]?\s*=\s*['"]?\w+`),
	regexp.MustCompile(`(?i)\b(or|and)\b\s+\d+\s*=\s*\d+`),
	regexp.MustCompile(`(?i);\s*(select|insert|update|delete|drop)\b`),
}

// DetectXSS reports whether input matches a known cross-site-scripting shape.
func DetectXSS(input string) bool {
	for _, p := range xssPatterns {
		if p.MatchString(input) {
			return true
		}
	}
	return false
}

// DetectSQLInjection reports whether input matches a known SQL injection shape.
func DetectSQLInjection(input string) bool {
	for _, p := range sqlInjectionPatterns {
		if p.MatchString(input) {
			return true
		}
	}
	return false
}
