package model

import "time"

// Priority is a token's triage level, 1 (most urgent) to 6.
type Priority int

const (
	PriorityCritical     Priority = 1 // Emergency
	PriorityHigh         Priority = 2 // Urgent medical, <15 mins
	PriorityMediumHigh   Priority = 3 // Serious condition, <45 mins
	PriorityMediumLow    Priority = 4 // Regular consultation, <2 hours
	PriorityReportPickup Priority = 5 // Document collection, <30 mins
	PriorityConsultation Priority = 6 // Report discussion, <1 hour
)

var priorityNames = map[Priority]string{
	PriorityCritical:     "CRITICAL",
	PriorityHigh:         "HIGH",
	PriorityMediumHigh:   "MEDIUM_HIGH",
	PriorityMediumLow:    "MEDIUM_LOW",
	PriorityReportPickup: "REPORT_PICKUP",
	PriorityConsultation: "CONSULTATION",
}

func (p Priority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return "UNKNOWN"
}

// Valid reports whether p is one of the six triage levels.
func (p Priority) Valid() bool {
	_, ok := priorityNames[p]
	return ok
}

// Token statuses.
const (
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

// QueueEntry is one position in a queue_update snapshot.
type QueueEntry struct {
	TokenID           string    `json:"token_id"`
	TokenNumber       string    `json:"token_number"`
	PatientName       string    `json:"patient_name"`
	PriorityLevel     Priority  `json:"priority_level"`
	Position          int       `json:"position"`
	EstimatedWaitTime int       `json:"estimated_wait_time"` // Minutes
	Status            string    `json:"status"`
	CreatedAt         time.Time `json:"created_at"`
}

// Token is the full token carried by token_update.
type Token struct {
	ID                string    `json:"id"`
	TokenNumber       string    `json:"token_number"`
	PatientID         string    `json:"patient_id"`
	PatientName       string    `json:"patient_name"`
	PatientPhone      string    `json:"patient_phone"`
	PriorityLevel     Priority  `json:"priority_level"`
	Category          string    `json:"category"`
	Status            string    `json:"status"`
	Symptoms          *string   `json:"symptoms,omitempty"`
	Position          int       `json:"position"`
	EstimatedWaitTime int       `json:"estimated_wait_time"` // Minutes
	CreatedBy         string    `json:"created_by"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Analytics is the dashboard summary carried by analytics_update.
type Analytics struct {
	TotalTokensToday     int            `json:"total_tokens_today"`
	ActiveTokens         int            `json:"active_tokens"`
	CompletedTokensToday int            `json:"completed_tokens_today"`
	AverageWaitTime      float64        `json:"average_wait_time"`
	PriorityDistribution map[string]int `json:"priority_distribution"`
}
