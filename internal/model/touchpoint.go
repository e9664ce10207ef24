// internal/model/touchpoint.go
package model

const (
	ChannelSMS   = "sms"
	ChannelVoice = "voice"
	ChannelEmail = "email"
)

// TouchPoint is one scheduled contact attempt within a sequence. DayOffset is
// relative to sequence entry; the state machine only enforces the delta
// between consecutive offsets as a minimum inter-touch delay.
type TouchPoint struct {
	Position    int    `json:"position"`
	Name        string `json:"name"`
	Channel     string `json:"channel"`
	Persona     string `json:"persona"`
	DayOffset   int    `json:"day_offset"`
	TimeWindow  string `json:"time_window"`
	TemplateRef string `json:"template_ref"`
}
