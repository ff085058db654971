// internal/models/application.go
package models

// Application statuses a job application moves through.
const (
	StatusPending  = "pending"
	StatusInReview = "in_review"
	StatusHired    = "hired"
	StatusRejected = "rejected"
)

type Application struct {
	ID           string `json:"id"`
	JobID        string `json:"jobId"`
	SeekerID     string `json:"seekerId"`
	Status       string `json:"status"`
	Notes        string `json:"notes,omitempty"`
	ContactEmail string `json:"contactEmail"`
	ContactPhone string `json:"contactPhone,omitempty"`
	CreatedAt    string `json:"createdAt"`
	UpdatedAt    string `json:"updatedAt"`
}
