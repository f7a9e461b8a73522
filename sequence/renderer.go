package sequence

import (
	"strings"

	"leadpilot/models"
)

// Merge tags recognized in step subjects and bodies. Values come straight
// off the lead record; a tag whose field is empty renders as an empty string
// and unrecognized tags are left in place so a bad template never fails a
// send.
func mergeValues(lead *models.Lead) map[string]string {
	firstName := strings.TrimSpace(lead.FirstName)
	fullName := strings.TrimSpace(strings.TrimSpace(lead.FirstName + " " + lead.LastName))
	return map[string]string{
		"{{first_name}}": firstName,
		"{{last_name}}":  strings.TrimSpace(lead.LastName),
		"{{name}}":       fullName,
		"{{full_name}}":  fullName,
		"{{email}}":      lead.Email,
		"{{company}}":    strings.TrimSpace(lead.Company),
		"{{position}}":   strings.TrimSpace(lead.Position),
		"{{website}}":    strings.TrimSpace(lead.Website),
	}
}

// RenderMergeTags substitutes lead fields into a template string. Pure and
// deterministic; it never errors on missing data.
func RenderMergeTags(template string, lead *models.Lead) string {
	if template == "" || lead == nil {
		return template
	}
	out := template
	for tag, value := range mergeValues(lead) {
		out = strings.ReplaceAll(out, tag, value)
	}
	return out
}
