// internal/dispatch/templates.go
package dispatch

import (
	"strings"

	"github.com/brightreach/outreach-backend/internal/model"
)

// touchTemplates maps a touch point's template ref to its base message.
// Rendering is plain placeholder substitution; content generation beyond
// this lives outside the engine.
var touchTemplates = map[string]string{
	"intro_sms":        "Hi {first_name}, this is {persona} from BrightReach. I help teams like {company} move faster. Worth a quick chat?",
	"followup_sms":     "Hi {first_name}, {persona} again. Following up on my last note, happy to share what we did for teams in {location}.",
	"intro_call":       "Call {first_name} {last_name} at {company}. Introduce BrightReach, reference {location} market.",
	"value_email":      "Hi {first_name}, sharing a short breakdown of what BrightReach could do for {company}. Reply and I'll send the details.",
	"nurture_sms":      "Hi {first_name}, no rush at all. I'll check back in a while. Meanwhile, here's a resource your team at {company} might like.",
	"case_study_email": "Hi {first_name}, a company in {location} similar to {company} saw results with us recently. The writeup is attached.",
	"booking_call":     "Call {first_name} to book a meeting. They showed interest, aim to close a time slot.",
	"breakup_sms":      "Hi {first_name}, closing the loop on my side. If timing changes, you know where to find me. All the best!",
}

// RenderTouch renders the content for a touch point against a lead snapshot.
// Empty fields render as a neutral placeholder rather than leaving the raw
// tag in the message.
func RenderTouch(tp model.TouchPoint, lead model.LeadSnapshot) string {
	template, ok := touchTemplates[tp.TemplateRef]
	if !ok {
		template = "Hi {first_name}, this is {persona} from BrightReach."
	}

	data := map[string]string{
		"first_name": lead.FirstName,
		"last_name":  lead.LastName,
		"company":    lead.Company,
		"location":   lead.Location,
		"persona":    tp.Persona,
	}

	result := template
	for k, v := range data {
		if v == "" {
			v = "there"
		}
		result = strings.ReplaceAll(result, "{"+k+"}", v)
	}
	return result
}

// RecipientFor picks the delivery address for a channel.
func RecipientFor(channel string, lead model.LeadSnapshot) string {
	if channel == model.ChannelEmail {
		return lead.Email
	}
	return lead.Phone
}
