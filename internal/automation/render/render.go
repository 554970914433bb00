// Package render substitutes lead variables into notification and outreach templates.
package render

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"pipeline_backend/internal/automation/domain"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var placeholder = regexp.MustCompile(`\{\{\s*([a-z_]+)\s*\}\}`)

// Vars are the values available to a template.
type Vars map[string]string

// ForLead builds the variable set for a lead at a point in time.
func ForLead(lead domain.Lead, now time.Time) Vars {
	title := cases.Title(language.Und)
	first := title.String(strings.ToLower(strings.TrimSpace(lead.FirstName)))
	last := title.String(strings.ToLower(strings.TrimSpace(lead.LastName)))
	days := int(math.Floor(now.Sub(lead.StageEntry()).Hours() / 24))
	if days < 0 {
		days = 0
	}
	return Vars{
		"first_name":    first,
		"last_name":     last,
		"lead_name":     strings.TrimSpace(first + " " + last),
		"stage":         lead.StageName,
		"agent_name":    lead.AssignedAgentName,
		"temperature":   string(lead.Temperature),
		"value":         message.NewPrinter(language.English).Sprintf("%.0f", lead.EstimatedValue),
		"days_in_stage": strconv.Itoa(days),
	}
}

// Render replaces {{name}} placeholders. Unknown placeholders are left untouched.
func Render(body string, vars Vars) string {
	return placeholder.ReplaceAllStringFunc(body, func(match string) string {
		name := placeholder.FindStringSubmatch(match)[1]
		if value, ok := vars[name]; ok {
			return value
		}
		return match
	})
}
