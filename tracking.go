package main

import (
	"database/sql"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Tracking identifiers look like OMB-MB3K2J1F-A7C9E2, matched
// case-insensitively. Anything else is rejected before a lookup.
var trackingNumberRegex = regexp.MustCompile(`(?i)^OMB-[A-Z0-9]+-[A-Z0-9]+$`)

// trackingTokenRegex pulls a tracking-shaped token out of free text.
var trackingTokenRegex = regexp.MustCompile(`(?i)\bOMB-[A-Z0-9]+-[A-Z0-9]+\b`)

// Tracking outcomes.
const (
	TrackInvalidFormat = "INVALID_FORMAT"
	TrackNotFound      = "NOT_FOUND"
	TrackFound         = "FOUND"
)

type TrackingResponse struct {
	Outcome        string
	TrackingNumber string
	Message        string
	Complaint      *Complaint
}

// GenerateTrackingNumber builds a new identifier from the current time in
// base36 plus a random token. Uniqueness comes from the uuid-derived
// token; the timestamp keeps identifiers roughly sortable for operators.
func GenerateTrackingNumber(now time.Time) string {
	ts := strings.ToUpper(strconv.FormatInt(now.UnixMilli(), 36))
	token := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:8]
	return fmt.Sprintf("OMB-%s-%s", ts, token)
}

func ValidTrackingNumber(s string) bool {
	return trackingNumberRegex.MatchString(strings.TrimSpace(s))
}

// ExtractTrackingNumber returns the first tracking-shaped token in text,
// uppercased, or "".
func ExtractTrackingNumber(text string) string {
	match := trackingTokenRegex.FindString(text)
	return strings.ToUpper(match)
}

// TrackingService turns a tracking number into a deterministic status
// report. The report text is part of the channel contract and must stay
// stable across renderers.
type TrackingService struct {
	db           *sql.DB
	HistoryLimit int
}

func NewTrackingService(db *sql.DB) *TrackingService {
	return &TrackingService{db: db, HistoryLimit: 3}
}

func (t *TrackingService) Track(trackingNumber string, includeHistory, includeEvidence bool) (TrackingResponse, error) {
	trackingNumber = strings.ToUpper(strings.TrimSpace(trackingNumber))
	if !ValidTrackingNumber(trackingNumber) {
		return TrackingResponse{
			Outcome:        TrackInvalidFormat,
			TrackingNumber: trackingNumber,
			Message: "That doesn't look like a valid tracking number. " +
				"Tracking numbers start with OMB-, for example OMB-ABC123-XYZ987.",
		}, nil
	}

	c, err := GetComplaintByTrackingNumber(t.db, trackingNumber)
	if err == sql.ErrNoRows {
		return TrackingResponse{
			Outcome:        TrackNotFound,
			TrackingNumber: trackingNumber,
			Message: fmt.Sprintf("I cannot find a complaint with tracking number %s. "+
				"Please double-check the number and try again.", trackingNumber),
		}, nil
	}
	if err != nil {
		return TrackingResponse{}, fmt.Errorf("loading complaint %s: %w", trackingNumber, err)
	}

	var history []StatusEntry
	if includeHistory {
		history, err = GetStatusHistory(t.db, c.ID, t.HistoryLimit)
		if err != nil {
			return TrackingResponse{}, fmt.Errorf("loading history for %s: %w", trackingNumber, err)
		}
	}

	return TrackingResponse{
		Outcome:        TrackFound,
		TrackingNumber: c.TrackingNumber,
		Message:        FormatStatusReport(c, history, includeEvidence),
		Complaint:      &c,
	}, nil
}

var statusLabels = map[string]string{
	StatusSubmitted:     "Submitted",
	StatusUnderReview:   "Under Review",
	StatusInvestigating: "Investigating",
	StatusResolved:      "Resolved",
	StatusClosed:        "Closed",
	StatusRejected:      "Rejected",
}

// nextStepsByStatus is the fixed status -> guidance table appended to every
// report.
var nextStepsByStatus = map[string]string{
	StatusSubmitted:     "Your complaint is in the queue and will be reviewed shortly.",
	StatusUnderReview:   "An officer is reviewing your complaint. No action is needed from you right now.",
	StatusInvestigating: "Your complaint is being actively investigated. You may be contacted for more details.",
	StatusResolved:      "Your complaint has been resolved. If the issue persists, you can file a new complaint.",
	StatusClosed:        "This complaint has been closed. File a new complaint if you need further assistance.",
	StatusRejected:      "This complaint was not accepted. You may file a new complaint with additional details.",
}

// FormatStatusReport renders the deterministic multi-line report for one
// complaint. Pure: no clock, no I/O.
func FormatStatusReport(c Complaint, history []StatusEntry, includeEvidence bool) string {
	label := statusLabels[c.Status]
	if label == "" {
		label = c.Status
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Complaint %s\n", c.TrackingNumber)
	fmt.Fprintf(&b, "Status: %s\n", label)
	fmt.Fprintf(&b, "Ministry: %s\n", c.Ministry)
	if c.Subject != "" {
		fmt.Fprintf(&b, "Subject: %s\n", c.Subject)
	}
	fmt.Fprintf(&b, "Submitted: %s\n", c.CreatedAt.Format("2 Jan 2006"))
	fmt.Fprintf(&b, "Last updated: %s\n", c.UpdatedAt.Format("2 Jan 2006"))

	if len(history) > 0 {
		b.WriteString("\nRecent updates:\n")
		for _, e := range history {
			entryLabel := statusLabels[e.Status]
			if entryLabel == "" {
				entryLabel = e.Status
			}
			fmt.Fprintf(&b, "- %s: %s", e.CreatedAt.Format("2 Jan 2006"), entryLabel)
			if e.Note != "" {
				fmt.Fprintf(&b, " (%s)", e.Note)
			}
			b.WriteString("\n")
		}
	}

	if includeEvidence {
		fmt.Fprintf(&b, "\nEvidence on file: %d item(s)\n", c.EvidenceCount)
	}

	if next, ok := nextStepsByStatus[c.Status]; ok {
		b.WriteString("\nNext steps: " + next)
	}
	return b.String()
}
