package policy

import (
	"regexp"
	"strings"
)

// DispatchReview is the verdict on text the assistant wants to type into a
// dispatch target.
type DispatchReview struct {
	Risk    string `json:"risk"`
	Blocked bool   `json:"blocked"`
	Reason  string `json:"reason,omitempty"`
}

var (
	blockedDispatchPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\brm\s+-(?:rf|fr)\s+(?:/|~|\$home)(?:\s|$)`),
		regexp.MustCompile(`(?i)\bmkfs(?:\.\w+)?\b`),
		regexp.MustCompile(`(?i)\bdd\s+if=.*\bof=/dev/`),
		regexp.MustCompile(`:\(\)\s*\{\s*:\|:&\s*\};:`),
		regexp.MustCompile(`(?i)\b(?:curl|wget)\b[^|]*\|\s*(?:sudo\s+)?(?:ba|z)?sh\b`),
		regexp.MustCompile(`(?i)\bcat\s+.*(?:id_rsa|id_ed25519|\.env|auth\.json|\.netrc)`),
	}
	highRiskDispatchKeywords = []string{
		"sudo ", "rm -", "chmod ", "chown ", "kill ", "shutdown", "reboot",
		"git push", "--force", "drop table", "truncate ",
	}
)

// ReviewDispatch rejects destructive or secret-reading shell input and flags
// privileged commands as high risk.
func ReviewDispatch(text string) DispatchReview {
	in := strings.ToLower(strings.TrimSpace(text))
	if in == "" {
		return DispatchReview{Risk: "low"}
	}

	for _, re := range blockedDispatchPatterns {
		if re.MatchString(in) {
			return DispatchReview{
				Risk:    "blocked",
				Blocked: true,
				Reason:  "text looks like a destructive or secret-reading command",
			}
		}
	}
	for _, kw := range highRiskDispatchKeywords {
		if strings.Contains(in, kw) {
			return DispatchReview{Risk: "high", Reason: "contains " + strings.TrimSpace(kw)}
		}
	}
	return DispatchReview{Risk: "low"}
}
