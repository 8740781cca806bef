package domain

import "time"

// TicketCategory classifies what kind of report a ticket is.
type TicketCategory string

const (
	CategoryTechnicalError    TicketCategory = "technical-error"
	CategorySuggestionRequest TicketCategory = "suggestion-request"
)

// TicketStatus enumerates lifecycle states, ordered by workflow progression.
// There is no enforced transition graph; "done" is terminal by convention.
type TicketStatus string

const (
	TicketStatusOpen       TicketStatus = "open"
	TicketStatusInProgress TicketStatus = "in-progress"
	TicketStatusTesting    TicketStatus = "testing"
	TicketStatusDone       TicketStatus = "done"
)

// ValidStatus reports whether s is a known lifecycle state.
func ValidStatus(s TicketStatus) bool {
	switch s {
	case TicketStatusOpen, TicketStatusInProgress, TicketStatusTesting, TicketStatusDone:
		return true
	}
	return false
}

// ValidCategory reports whether c is a known ticket category.
func ValidCategory(c TicketCategory) bool {
	return c == CategoryTechnicalError || c == CategorySuggestionRequest
}

// TicketContext captures optional originating-page metadata.
type TicketContext struct {
	PageURL    string `json:"page_url,omitempty"`
	UILocation string `json:"ui_location,omitempty"`
	ScreenName string `json:"screen_name,omitempty"`
}

// Ticket is the aggregate for a support case.
type Ticket struct {
	ID            string         `json:"id"`
	CreatorID     string         `json:"creator_id"`
	Category      TicketCategory `json:"category"`
	Subject       string         `json:"subject"`
	Status        TicketStatus   `json:"status"`
	Context       TicketContext  `json:"context"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	LastMessageAt *time.Time     `json:"last_message_at,omitempty"`
}
