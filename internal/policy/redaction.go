package policy

import "regexp"

// Kinds of personal data the redactor recognizes.
const (
	KindEmail = "email"
	KindCard  = "card"
	KindPhone = "phone"
	KindIPv4  = "ipv4"
)

type redactionRule struct {
	kind    string
	pattern *regexp.Regexp
	marker  string
}

// Card numbers must be masked before phone numbers.
var redactionRules = []redactionRule{
	{KindEmail, regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), "[REDACTED_EMAIL]"},
	{KindCard, regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`), "[REDACTED_CARD]"},
	{KindIPv4, regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4]\d|1?\d?\d)\.){3}(?:25[0-5]|2[0-4]\d|1?\d?\d)\b`), "[REDACTED_IP]"},
	{KindPhone, regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`), "[REDACTED_PHONE]"},
}

// RedactPII masks personal data in text that is about to be persisted. It
// returns the redacted text and the kinds that matched, in rule order.
func RedactPII(input string) (string, []string) {
	out := input
	var kinds []string
	for _, rule := range redactionRules {
		next := rule.pattern.ReplaceAllString(out, rule.marker)
		if next != out {
			kinds = append(kinds, rule.kind)
			out = next
		}
	}
	return out, kinds
}
