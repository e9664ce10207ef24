// internal/sequence/definition.go
package sequence

import (
	"fmt"

	"github.com/brightreach/outreach-backend/internal/model"
)

// Definition is an immutable ordered list of touch points. It is built once
// at process start and never mutated at runtime. BookingPosition and
// NurturePosition are the designated jump targets for response branching.
type Definition struct {
	ID              string
	Name            string
	Touches         []model.TouchPoint
	BookingPosition int
	NurturePosition int
}

// NewDefinition validates and builds a sequence definition. Positions must be
// 1..N in order with strictly increasing day offsets.
func NewDefinition(id, name string, touches []model.TouchPoint, bookingPosition, nurturePosition int) (*Definition, error) {
	if len(touches) == 0 {
		return nil, fmt.Errorf("sequence %s has no touch points", id)
	}
	for i, tp := range touches {
		if tp.Position != i+1 {
			return nil, fmt.Errorf("sequence %s: touch %d has position %d, want %d", id, i, tp.Position, i+1)
		}
		if i > 0 && tp.DayOffset <= touches[i-1].DayOffset {
			return nil, fmt.Errorf("sequence %s: day offset at position %d must increase (%d after %d)",
				id, tp.Position, tp.DayOffset, touches[i-1].DayOffset)
		}
	}
	if bookingPosition < 1 || bookingPosition > len(touches) {
		return nil, fmt.Errorf("sequence %s: booking position %d out of range", id, bookingPosition)
	}
	if nurturePosition < 1 || nurturePosition > len(touches) {
		return nil, fmt.Errorf("sequence %s: nurture position %d out of range", id, nurturePosition)
	}
	return &Definition{
		ID:              id,
		Name:            name,
		Touches:         touches,
		BookingPosition: bookingPosition,
		NurturePosition: nurturePosition,
	}, nil
}

// Length returns the number of touch points.
func (d *Definition) Length() int {
	return len(d.Touches)
}

// Touch returns the touch point at the given 1-based position.
func (d *Definition) Touch(position int) (model.TouchPoint, bool) {
	if position < 1 || position > len(d.Touches) {
		return model.TouchPoint{}, false
	}
	return d.Touches[position-1], true
}

// Default is the standard eight-touch outreach sequence.
func Default() *Definition {
	touches := []model.TouchPoint{
		{Position: 1, Name: "intro_sms", Channel: model.ChannelSMS, Persona: "ava", DayOffset: 0, TimeWindow: "morning", TemplateRef: "intro_sms"},
		{Position: 2, Name: "followup_sms", Channel: model.ChannelSMS, Persona: "ava", DayOffset: 2, TimeWindow: "midday", TemplateRef: "followup_sms"},
		{Position: 3, Name: "intro_call", Channel: model.ChannelVoice, Persona: "dana", DayOffset: 4, TimeWindow: "afternoon", TemplateRef: "intro_call"},
		{Position: 4, Name: "value_email", Channel: model.ChannelEmail, Persona: "ava", DayOffset: 7, TimeWindow: "morning", TemplateRef: "value_email"},
		{Position: 5, Name: "nurture_sms", Channel: model.ChannelSMS, Persona: "ava", DayOffset: 10, TimeWindow: "midday", TemplateRef: "nurture_sms"},
		{Position: 6, Name: "case_study_email", Channel: model.ChannelEmail, Persona: "dana", DayOffset: 14, TimeWindow: "morning", TemplateRef: "case_study_email"},
		{Position: 7, Name: "booking_call", Channel: model.ChannelVoice, Persona: "dana", DayOffset: 18, TimeWindow: "afternoon", TemplateRef: "booking_call"},
		{Position: 8, Name: "breakup_sms", Channel: model.ChannelSMS, Persona: "ava", DayOffset: 21, TimeWindow: "morning", TemplateRef: "breakup_sms"},
	}

	def, err := NewDefinition("standard-outreach-v1", "Standard Outreach", touches, 7, 5)
	if err != nil {
		// The default sequence is defined above; a validation failure here is
		// a programming error.
		panic(err)
	}
	return def
}
