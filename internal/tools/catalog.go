package tools

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// Catalog returns the fixed set of calendar tools the gateway exposes.
// The slice is rebuilt on every call so callers can't mutate shared state.
func Catalog() []mcp.Tool {
	return []mcp.Tool{

		// ----- Discovery tools -----

		mcp.NewTool("list_event_types",
			mcp.WithDescription(
				"List the event types (meeting templates) configured on the user's "+
					"calendar account. Returns each event type's id, title, slug, and "+
					"duration. Use this first to discover what kinds of meetings can "+
					"be booked before checking availability.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
		),

		mcp.NewTool("get_availability",
			mcp.WithDescription(
				"Get the available time slots for an event type within a date range. "+
					"Returns slots in the user's configured timezone unless one is given.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("event_type_id",
				mcp.Required(),
				mcp.Description("Identifier of the event type to check availability for"),
			),
			mcp.WithString("start_date",
				mcp.Required(),
				mcp.Description("Start of the range, ISO-8601 date (e.g. \"2025-06-01\")"),
			),
			mcp.WithString("end_date",
				mcp.Required(),
				mcp.Description("End of the range, ISO-8601 date"),
			),
			mcp.WithString("timezone",
				mcp.Description("IANA timezone for the returned slots (e.g. \"Europe/Berlin\")"),
			),
		),

		mcp.NewTool("list_bookings",
			mcp.WithDescription(
				"List the user's existing bookings. Supports filtering by status "+
					"(upcoming, past, cancelled). Returns each booking's uid, title, "+
					"start/end times, and attendees.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("status",
				mcp.Description("Filter by booking status: \"upcoming\", \"past\", or \"cancelled\""),
			),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of bookings to return"),
			),
		),

		// ----- Booking mutation tools -----

		mcp.NewTool("create_booking",
			mcp.WithDescription(
				"Book a meeting slot. Requires an event type, a start time taken from "+
					"get_availability, and attendee contact details. Returns the created "+
					"booking including its uid, which is needed to reschedule or cancel.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("event_type_id",
				mcp.Required(),
				mcp.Description("Identifier of the event type to book"),
			),
			mcp.WithString("start",
				mcp.Required(),
				mcp.Description("Slot start time, ISO-8601 datetime with offset"),
			),
			mcp.WithString("attendee_name",
				mcp.Required(),
				mcp.Description("Full name of the attendee"),
			),
			mcp.WithString("attendee_email",
				mcp.Required(),
				mcp.Description("Email address of the attendee"),
			),
			mcp.WithString("timezone",
				mcp.Description("IANA timezone of the attendee"),
			),
			mcp.WithString("notes",
				mcp.Description("Free-form notes attached to the booking"),
			),
		),

		mcp.NewTool("reschedule_booking",
			mcp.WithDescription(
				"Move an existing booking to a new start time. The new time should "+
					"come from get_availability for the same event type.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("booking_uid",
				mcp.Required(),
				mcp.Description("Uid of the booking to reschedule (from list_bookings or create_booking)"),
			),
			mcp.WithString("start",
				mcp.Required(),
				mcp.Description("New start time, ISO-8601 datetime with offset"),
			),
			mcp.WithString("reason",
				mcp.Description("Reason communicated to the attendees"),
			),
		),

		mcp.NewTool("cancel_booking",
			mcp.WithDescription(
				"Cancel an existing booking. Attendees are notified by the upstream "+
					"calendar service. Cancellation cannot be undone.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("booking_uid",
				mcp.Required(),
				mcp.Description("Uid of the booking to cancel"),
			),
			mcp.WithString("reason",
				mcp.Description("Reason communicated to the attendees"),
			),
		),
	}
}

// Known reports whether name is part of the catalogue.
func Known(name string) bool {
	for _, t := range Catalog() {
		if t.Name == name {
			return true
		}
	}
	return false
}

func readOnlyAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint: boolPtr(true),
	}
}

func mutatingAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint:    boolPtr(false),
		DestructiveHint: boolPtr(true),
	}
}

func boolPtr(b bool) *bool {
	return &b
}
