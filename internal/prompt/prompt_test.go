package prompt

import (
	"strings"
	"testing"

	"voice-engine/internal/callcontext"
)

func TestOutboundPromptInterpolation(t *testing.T) {
	p := Outbound(callcontext.Context{
		UserName:        "John Doe",
		RestaurantName:  "Le Petit Bistro",
		PartySize:       4,
		RequestedDate:   "2024-02-15",
		TimeRangeStart:  "18:00",
		TimeRangeEnd:    "20:00",
		ContactPhone:    "+15559876543",
		SpecialRequests: "outdoor seating",
	})

	for _, want := range []string{
		"John Doe", "Le Petit Bistro", "4", "2024-02-15",
		"18:00", "20:00", "outdoor seating", "save_booking",
	} {
		if !strings.Contains(p, want) {
			t.Fatalf("prompt missing %q:\n%s", want, p)
		}
	}
	if strings.Contains(p, "{") {
		t.Fatalf("unexpanded placeholder remains:\n%s", p)
	}
}

func TestOutboundPromptEmptySpecialRequests(t *testing.T) {
	p := Outbound(callcontext.Context{
		UserName:       "Jane Doe",
		RestaurantName: "Chez Marie",
		PartySize:      2,
		RequestedDate:  "2024-03-01",
		TimeRangeStart: "19:00",
		TimeRangeEnd:   "21:00",
	})
	if !strings.Contains(p, "Special requests: None") {
		t.Fatalf("empty special requests not defaulted:\n%s", p)
	}
}

func TestInboundPromptInterpolation(t *testing.T) {
	p := Inbound(Reservation{
		UserName:      "John Doe",
		PartySize:     2,
		PreferredDate: "2024-02-15",
		PreferredTime: "19:00",
		ContactPhone:  "+15551234567",
	})
	for _, want := range []string{"John Doe", "2024-02-15", "19:00", "save_booking"} {
		if !strings.Contains(p, want) {
			t.Fatalf("prompt missing %q", want)
		}
	}
}

func TestInboundPromptDefaultsUserName(t *testing.T) {
	p := Inbound(Reservation{PartySize: 2})
	if !strings.Contains(p, "the caller") {
		t.Fatalf("missing user name fallback:\n%s", p)
	}
}
