package tools

import "voice-engine/internal/gemini"

// Tool names invocable by the model.
const (
	NameSaveBooking          = "save_booking"
	NameReportNoAvailability = "report_no_availability"
	NameEndCall              = "end_call"
)

// Schemas returns the function declarations registered with the live
// session at connect time. The argument contracts are fixed; the model is
// expected to invoke only these.
func Schemas() []gemini.ToolSchema {
	return []gemini.ToolSchema{
		{
			Name:        NameSaveBooking,
			Description: "Save a confirmed restaurant reservation. Call this when the restaurant confirms the booking.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"confirmed_date": map[string]any{
						"type":        "string",
						"description": "Confirmed reservation date, YYYY-MM-DD",
					},
					"confirmed_time": map[string]any{
						"type":        "string",
						"description": "Confirmed reservation time, 24-hour HH:MM",
					},
					"party_size": map[string]any{
						"type":        "integer",
						"description": "Number of people in the party",
					},
					"confirmation_code": map[string]any{
						"type":        "string",
						"description": "Confirmation code provided by the restaurant, if any",
					},
					"notes": map[string]any{
						"type":        "string",
						"description": "Any additional notes about the reservation",
					},
				},
				"required": []string{"confirmed_date", "confirmed_time", "party_size"},
			},
		},
		{
			Name:        NameReportNoAvailability,
			Description: "Report that the restaurant cannot accommodate the reservation request, e.g. fully booked or closed.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"reason": map[string]any{
						"type":        "string",
						"description": "The reason for unavailability",
					},
					"alternative_offered": map[string]any{
						"type":        "string",
						"description": "Any alternative the restaurant offered",
					},
					"should_try_alternative": map[string]any{
						"type":        "boolean",
						"description": "Whether the offered alternative seems worth pursuing",
					},
				},
				"required": []string{"reason"},
			},
		},
		{
			Name:        NameEndCall,
			Description: "Gracefully end the call without a reservation, e.g. restaurant declined or wrong number.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"reason": map[string]any{
						"type":        "string",
						"description": "The reason for ending the call",
					},
					"call_summary": map[string]any{
						"type":        "string",
						"description": "A brief summary of the call for record-keeping",
					},
				},
				"required": []string{"reason"},
			},
		},
	}
}
