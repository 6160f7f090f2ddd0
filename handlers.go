package main

import (
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

var emailRegex = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
var digitRegex = regexp.MustCompile(`\d`)
var introNameRegex = regexp.MustCompile(`(?i)\b(?:my name is|i am|i'm|this is)\s+([A-Za-z]+(?:\s+[A-Za-z]+)?)`)
var capitalizedNameRegex = regexp.MustCompile(`\b([A-Z][a-z]+(?:\s+[A-Z][a-z]+)+)\b`)
var incidentDateRegex = regexp.MustCompile(`(?i)\b(?:on\s+)?(\d{1,2}[/-]\d{1,2}[/-]\d{2,4}|\d{4}-\d{2}-\d{2}|(?:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\s+\d{1,2}(?:,?\s+\d{4})?)\b`)

// lexicalCue is one (pattern, outcome) pair of an ordered keyword table.
// Patterns are matched as lowercase substrings, first hit wins.
type lexicalCue struct {
	pattern string
	outcome string
}

// Submission confirmation cues. Negative phrases come first so "no, don't
// submit" never reads as an affirmation.
var confirmCues = []lexicalCue{
	{"don't submit", "no"},
	{"do not submit", "no"},
	{"not yet", "no"},
	{"cancel", "no"},
	{"change", "no"},
	{"wrong", "no"},
	{"no", "no"},
	{"yes", "yes"},
	{"confirm", "yes"},
	{"submit", "yes"},
	{"correct", "yes"},
	{"go ahead", "yes"},
	{"ok", "yes"},
	{"sure", "yes"},
}

var filingCues = []lexicalCue{
	{"complaint", "file"},
	{"grievance", "file"},
	{"report", "file"},
	{"file", "file"},
	{"problem", "file"},
	{"issue", "file"},
}

var trackingCues = []lexicalCue{
	{"track", "track"},
	{"status", "track"},
	{"follow up", "track"},
	{"tracking number", "track"},
}

var contactOptOutCues = []lexicalCue{
	{"no email", "optout"},
	{"no phone", "optout"},
	{"don't have", "optout"},
	{"do not have", "optout"},
	{"prefer not", "optout"},
	{"skip", "optout"},
	{"anonymous", "optout"},
	{"rather not", "optout"},
}

var evidenceYesCues = []lexicalCue{
	{"yes", "yes"},
	{"i have", "yes"},
	{"photo", "yes"},
	{"picture", "yes"},
	{"document", "yes"},
	{"video", "yes"},
	{"receipt", "yes"},
}

// matchCue returns the outcome of the first matching pattern, or "".
func matchCue(text string, cues []lexicalCue) string {
	normalized := " " + normalizeTextToken(text) + " "
	for _, cue := range cues {
		if strings.Contains(cue.pattern, " ") {
			if strings.Contains(normalized, cue.pattern) {
				return cue.outcome
			}
		} else if strings.Contains(normalized, " "+cue.pattern+" ") ||
			strings.Contains(normalized, " "+cue.pattern+",") ||
			strings.Contains(normalized, " "+cue.pattern+".") ||
			strings.Contains(normalized, " "+cue.pattern+"!") ||
			strings.Contains(normalized, " "+cue.pattern+"?") {
			return cue.outcome
		}
	}
	return ""
}

// Handlers holds the per-state message handlers. Each handler mutates the
// session copy it is given and reports whether it must be persisted; the
// Conversation Manager owns loading and saving.
type Handlers struct {
	cfg        Config
	db         *sql.DB
	classifier *Classifier
	tracking   *TrackingService
	now        func() time.Time
}

func NewHandlers(cfg Config, db *sql.DB, classifier *Classifier, tracking *TrackingService) *Handlers {
	return &Handlers{cfg: cfg, db: db, classifier: classifier, tracking: tracking, now: time.Now}
}

func (h *Handlers) Handle(s *Session, text string, meta MessageMeta) (string, bool) {
	switch s.State {
	case StateGreeting:
		return h.handleGreeting(s, text)
	case StateIdentity:
		return h.handleIdentity(s, text)
	case StateComplaint:
		return h.handleComplaint(s, text)
	case StateEvidence:
		return h.handleEvidence(s, text, meta)
	case StateClassification:
		return h.handleClassification(s, text)
	case StateSubmission:
		return h.handleSubmission(s, text)
	case StateTracking:
		return h.handleTracking(s, text)
	case StateCompleted:
		return "This conversation has finished. Send a new message from a fresh session to file another complaint or track an existing one.", false
	case StateError:
		return "I'm sorry, something went wrong earlier in this conversation. Please start again from a fresh session.", false
	default:
		// Unknown state rows should not exist; recover rather than wedge.
		s.State = StateGreeting
		return h.greetingText(), true
	}
}

func (h *Handlers) greetingText() string {
	return "Hello! I'm the grievance assistant for the Office of the Ombudsman. " +
		"I can help you file a complaint against a government ministry, or track an existing complaint. " +
		"What would you like to do?"
}

func (h *Handlers) handleGreeting(s *Session, text string) (string, bool) {
	if outcome := matchCue(text, trackingCues); outcome == "track" || ExtractTrackingNumber(text) != "" {
		s.State = StateTracking
		return h.handleTracking(s, text)
	}
	if matchCue(text, filingCues) == "file" {
		s.State = StateIdentity
		return "I can help you file that complaint. First, may I have your name, " +
			"and an email address or phone number so we can follow up? " +
			"You can also say you'd prefer to stay anonymous.", true
	}
	return h.greetingText(), true
}

func (h *Handlers) handleIdentity(s *Session, text string) (string, bool) {
	if email := emailRegex.FindString(text); email != "" && s.Email == "" {
		s.Email = email
	}
	if phone := extractPhone(text); phone != "" && s.Phone == "" {
		s.Phone = phone
	}
	if name := extractName(text); name != "" && s.Name == "" {
		s.Name = name
	}
	optedOut := matchCue(text, contactOptOutCues) == "optout"

	if s.Name == "" {
		return "Thanks. Could you tell me your name?", true
	}
	if s.Email == "" && s.Phone == "" && !optedOut {
		return fmt.Sprintf("Thank you, %s. Could you share an email address or phone number? "+
			"If you'd rather not, just say so and we'll continue.", s.Name), true
	}

	if optedOut && s.Email == "" {
		s.Email = "declined"
	}
	if optedOut && s.Phone == "" {
		s.Phone = "declined"
	}

	s.State = StateComplaint
	return fmt.Sprintf("Thank you, %s. Now please describe your complaint in as much detail as you can: "+
		"what happened, where, and when.", s.Name), true
}

func (h *Handlers) handleComplaint(s *Session, text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "Please describe what happened so I can file your complaint.", false
	}

	if s.Description == "" {
		s.Description = trimmed
	} else {
		s.Description = s.Description + "\n" + trimmed
	}
	s.Description = truncateText(s.Description, h.cfg.MaxDescriptionLength)
	if s.Subject == "" {
		s.Subject = deriveSubject(trimmed)
	}
	if s.IncidentDate == "" {
		if m := incidentDateRegex.FindStringSubmatch(text); len(m) > 1 {
			s.IncidentDate = m[1]
		}
	}

	if len(s.Description) < h.cfg.MinDescriptionLength {
		return "Could you tell me a bit more? A few details about what happened, " +
			"where, and when will help us route your complaint correctly.", true
	}

	s.State = StateEvidence
	return "Thank you. Do you have any evidence to support your complaint, " +
		"such as photos, documents, or receipts? (yes/no)", true
}

func (h *Handlers) handleEvidence(s *Session, text string, meta MessageMeta) (string, bool) {
	reply := ""
	// An actual attachment on the message counts the same as saying yes.
	if meta.Media != nil || matchCue(text, evidenceYesCues) == "yes" {
		reply = "Good to know. After your complaint is submitted you'll receive instructions " +
			"for sending your evidence through our secure upload channel.\n\n"
	}
	s.State = StateClassification
	return reply + "I'll now review and categorize your complaint. Reply with anything to continue.", true
}

func (h *Handlers) handleClassification(s *Session, text string) (string, bool) {
	result := h.classifier.Classify(s.Description)
	if result.Ministry == "" || result.Category == "" {
		s.State = StateComplaint
		return "I wasn't able to categorize your complaint. Could you describe the problem " +
			"again with a few more details about which service or office it concerns?", true
	}

	s.ClassifiedMinistry = result.Ministry
	s.ClassifiedCategory = result.Category
	s.Ministry = result.Ministry
	s.Category = result.Category
	s.State = StateSubmission
	return formatSubmissionSummary(*s) + "\n\nShall I submit this complaint? (yes/no)", true
}

// formatSubmissionSummary renders the deterministic pre-submission summary
// the citizen confirms.
func formatSubmissionSummary(s Session) string {
	var b strings.Builder
	b.WriteString("Here is a summary of your complaint:\n")
	fmt.Fprintf(&b, "Subject: %s\n", s.Subject)
	fmt.Fprintf(&b, "Ministry: %s\n", s.Ministry)
	fmt.Fprintf(&b, "Category: %s\n", s.Category)
	if s.IncidentDate != "" {
		fmt.Fprintf(&b, "Incident date: %s\n", s.IncidentDate)
	}
	fmt.Fprintf(&b, "Description: %s", s.Description)
	return b.String()
}

func (h *Handlers) handleSubmission(s *Session, text string) (string, bool) {
	switch matchCue(text, confirmCues) {
	case "yes":
		return h.submit(s)
	case "no":
		s.State = StateComplaint
		return "No problem, nothing has been submitted. Tell me what you'd like to change " +
			"or add to your complaint.", true
	default:
		return "Please reply yes to submit the complaint, or no to make changes.", false
	}
}

// ValidateSubmission checks an assembled submission and returns the list
// of problems, in a fixed order. Identical input always yields an
// identical list.
func ValidateSubmission(s Session, minDescriptionLength int) []string {
	var problems []string
	if s.Email == "" && s.Phone == "" {
		problems = append(problems, "a contact method (email or phone), or an explicit opt-out")
	}
	if s.Email != "" && s.Email != "declined" && !emailRegex.MatchString(s.Email) {
		problems = append(problems, "a valid email address")
	}
	if len(strings.TrimSpace(s.Description)) < minDescriptionLength {
		problems = append(problems, fmt.Sprintf("a description of at least %d characters", minDescriptionLength))
	}
	if strings.TrimSpace(s.Ministry) == "" {
		problems = append(problems, "a ministry")
	}
	if strings.TrimSpace(s.Category) == "" {
		problems = append(problems, "a category")
	}
	return problems
}

func (h *Handlers) submit(s *Session) (string, bool) {
	problems := ValidateSubmission(*s, h.cfg.MinDescriptionLength)
	if len(problems) > 0 {
		s.State = StateComplaint
		return "I can't submit the complaint yet. Still missing: " +
			strings.Join(problems, "; ") + ". Let's fill in the gaps.", true
	}

	now := h.now().UTC()
	complaint := Complaint{
		TrackingNumber: GenerateTrackingNumber(now),
		Name:           s.Name,
		Email:          contactOrEmpty(s.Email),
		Phone:          contactOrEmpty(s.Phone),
		Address:        s.Address,
		Ministry:       s.Ministry,
		Category:       s.Category,
		Subject:        s.Subject,
		Description:    s.Description,
		IncidentDate:   s.IncidentDate,
		Priority:       DerivePriority(s.Category),
	}
	if _, err := InsertComplaint(h.db, complaint); err != nil {
		// A half-submitted complaint must never look submitted.
		s.State = StateError
		s.ErrorReason = fmt.Sprintf("complaint insert failed: %v", err)
		return "I'm sorry, I couldn't save your complaint due to a system problem. " +
			"Nothing was submitted. Please try again later.", true
	}

	s.TrackingNumber = complaint.TrackingNumber
	s.State = StateCompleted
	s.CompletedAt = now
	return fmt.Sprintf("Your complaint has been submitted. Your tracking number is %s. "+
		"Keep it safe: you can use it any time to check the status of your complaint.",
		complaint.TrackingNumber), true
}

func contactOrEmpty(v string) string {
	if v == "declined" {
		return ""
	}
	return v
}

func (h *Handlers) handleTracking(s *Session, text string) (string, bool) {
	trackingNumber := ExtractTrackingNumber(text)
	if trackingNumber == "" {
		s.State = StateTracking
		return "Please give me your tracking number. It starts with OMB-, " +
			"for example OMB-ABC123-XYZ987.", true
	}

	resp, err := h.tracking.Track(trackingNumber, true, true)
	if err != nil {
		s.State = StateError
		s.ErrorReason = fmt.Sprintf("tracking lookup failed: %v", err)
		return "I'm sorry, I couldn't look that up right now. Please try again later.", true
	}

	switch resp.Outcome {
	case TrackFound:
		s.State = StateCompleted
		s.CompletedAt = h.now().UTC()
		return resp.Message, true
	default:
		// NOT_FOUND and INVALID_FORMAT are both recoverable: stay in
		// tracking and let the citizen retry.
		s.State = StateTracking
		return resp.Message, true
	}
}

// --- identity extraction helpers ---

// extractPhone pulls a phone number out of text using digit-count
// heuristics: exactly 10 digits, or 11 digits with a leading 1.
func extractPhone(text string) string {
	digits := strings.Join(digitRegex.FindAllString(text, -1), "")
	switch {
	case len(digits) == 10:
		return fmt.Sprintf("(%s) %s-%s", digits[0:3], digits[3:6], digits[6:10])
	case len(digits) == 11 && digits[0] == '1':
		return fmt.Sprintf("+1 (%s) %s-%s", digits[1:4], digits[4:7], digits[7:11])
	}
	return ""
}

// extractName prefers an introduction phrase; otherwise it falls back to
// the first run of consecutive capitalized words.
func extractName(text string) string {
	if m := introNameRegex.FindStringSubmatch(text); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	if m := capitalizedNameRegex.FindStringSubmatch(text); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	return ""
}

func deriveSubject(text string) string {
	subject := strings.TrimSpace(text)
	if idx := strings.IndexAny(subject, ".!?\n"); idx > 0 {
		subject = subject[:idx]
	}
	if len(subject) > 80 {
		subject = strings.TrimSpace(truncateText(subject, 80))
	}
	return subject
}

// truncateText cuts s to at most max bytes without splitting a rune.
func truncateText(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
