package main

import (
	"strings"
	"time"
)

// Conversation states. A session is always in exactly one of these.
const (
	StateGreeting       = "greeting"
	StateIdentity       = "identity_collection"
	StateComplaint      = "complaint_collection"
	StateEvidence       = "evidence_upload"
	StateClassification = "classification"
	StateSubmission     = "submission"
	StateTracking       = "tracking"
	StateCompleted      = "completed"
	StateError          = "error"
)

var validStates = map[string]bool{
	StateGreeting:       true,
	StateIdentity:       true,
	StateComplaint:      true,
	StateEvidence:       true,
	StateClassification: true,
	StateSubmission:     true,
	StateTracking:       true,
	StateCompleted:      true,
	StateError:          true,
}

func IsTerminalState(state string) bool {
	return state == StateCompleted || state == StateError
}

// Session is the durable record of one ongoing conversation.
type Session struct {
	ID           string
	State        string
	Name         string
	Email        string
	Phone        string
	Address      string
	Gender       string
	Ministry     string
	Category     string
	Subject      string
	Description  string
	IncidentDate string

	// Raw classifier output, kept separate from the confirmed
	// ministry/category above until the citizen confirms the summary.
	ClassifiedMinistry string
	ClassifiedCategory string

	MessageCount   int
	TrackingNumber string // set once a complaint has been created
	ErrorReason    string // set only in the error state

	CreatedAt     time.Time
	LastMessageAt time.Time
	CompletedAt   time.Time
}

// Complaint statuses, in lifecycle order.
const (
	StatusSubmitted     = "submitted"
	StatusUnderReview   = "under_review"
	StatusInvestigating = "investigating"
	StatusResolved      = "resolved"
	StatusClosed        = "closed"
	StatusRejected      = "rejected"
)

type Complaint struct {
	ID             int64
	TrackingNumber string
	Name           string
	Email          string
	Phone          string
	Address        string
	Ministry       string
	Category       string
	Subject        string
	Description    string
	IncidentDate   string
	Status         string
	Priority       string
	EvidenceCount  int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// StatusEntry is one append-only row of a complaint's status history.
type StatusEntry struct {
	ID          int64
	ComplaintID int64
	Status      string
	Note        string
	Actor       string
	CreatedAt   time.Time
}

// ClassificationResult is the outcome of one classify() call. Ministry and
// Category are either both members of the current taxonomy or empty.
type ClassificationResult struct {
	Ministry     string
	Category     string
	Confidence   float64
	UsedFallback bool
	// RawMinistry/RawCategory keep the primary classifier's output for
	// audit when the fallback overrode it.
	RawMinistry string
	RawCategory string
	Reasoning   string
}

// priorityByCategory maps complaint categories to a derived priority.
// Priority is never user-supplied.
var priorityByCategory = map[string]string{
	"Medical Negligence":   "high",
	"Emergency Services":   "high",
	"Police Misconduct":    "high",
	"Corruption & Bribery": "high",
	"Water Supply":         "medium",
	"Electricity":          "medium",
	"Road Maintenance":     "medium",
	"Sanitation & Waste":   "medium",
	"Pension & Benefits":   "medium",
}

func DerivePriority(category string) string {
	if p, ok := priorityByCategory[strings.TrimSpace(category)]; ok {
		return p
	}
	return "normal"
}
