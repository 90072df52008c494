package models

import "time"

// Aircraft is a fleet airframe. Its own usage totals only grow; component
// totals live on the components and their installation segments.
type Aircraft struct {
	ID           string    `json:"id"`           // Primary key
	Registration string    `json:"registration"` // Registration mark (e.g., N123DR)
	Model        string    `json:"model"`        // Airframe model, matched against program aircraft models
	SerialNumber string    `json:"serial_number"`
	Manufacturer string    `json:"manufacturer,omitempty"`
	Operator     string    `json:"operator,omitempty"`
	Notes        string    `json:"notes,omitempty"`
	Totals       Usage     `json:"totals"` // Cumulative flight hours and cycles
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
