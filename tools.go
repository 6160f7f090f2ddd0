package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
)

// ToolResult is what a tool execution feeds back into the transcript.
type ToolResult struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

func toolOK(message string, data any) ToolResult {
	return ToolResult{Success: true, Message: message, Data: data}
}

func toolFail(message string) ToolResult {
	return ToolResult{Success: false, Error: message, Message: message}
}

// ToolRegistry executes the fixed set of functions the reasoning service
// may call. Every tool operates on the calling session's row plus
// read-only taxonomy and complaint lookups; there is no way to reach
// another session from here.
type ToolRegistry struct {
	cfg        Config
	db         *sql.DB
	taxonomy   *TaxonomyCache
	classifier *Classifier
	tracking   *TrackingService
	now        func() time.Time
}

func NewToolRegistry(cfg Config, db *sql.DB, taxonomy *TaxonomyCache, classifier *Classifier, tracking *TrackingService) *ToolRegistry {
	return &ToolRegistry{
		cfg:        cfg,
		db:         db,
		taxonomy:   taxonomy,
		classifier: classifier,
		tracking:   tracking,
		now:        time.Now,
	}
}

// Execute runs one named tool for sessionID. Unknown tools and bad
// arguments come back as failed results, never as errors: the agent loop
// must keep going no matter what the model asked for.
func (r *ToolRegistry) Execute(sessionID, name string, args json.RawMessage) ToolResult {
	log.Printf("tool execute session=%s tool=%s args=%d bytes", sessionID, name, len(args))
	switch name {
	case "get_session_data":
		return r.getSessionData(sessionID)
	case "update_session":
		return r.updateSession(sessionID, args)
	case "save_contact_info":
		return r.saveContactInfo(sessionID, args)
	case "create_complaint":
		return r.createComplaint(sessionID)
	case "get_complaint_status":
		return r.getComplaintStatus(args)
	case "classify_complaint":
		return r.classifyComplaint(sessionID, args)
	default:
		return toolFail(fmt.Sprintf("unknown tool %q", name))
	}
}

type sessionSnapshot struct {
	State          string `json:"state"`
	Name           string `json:"name,omitempty"`
	Email          string `json:"email,omitempty"`
	Phone          string `json:"phone,omitempty"`
	Address        string `json:"address,omitempty"`
	Gender         string `json:"gender,omitempty"`
	Ministry       string `json:"ministry,omitempty"`
	Category       string `json:"category,omitempty"`
	Subject        string `json:"subject,omitempty"`
	Description    string `json:"description,omitempty"`
	IncidentDate   string `json:"incident_date,omitempty"`
	TrackingNumber string `json:"tracking_number,omitempty"`
	MessageCount   int    `json:"message_count"`
}

func snapshotSession(s Session) sessionSnapshot {
	return sessionSnapshot{
		State:          s.State,
		Name:           s.Name,
		Email:          s.Email,
		Phone:          s.Phone,
		Address:        s.Address,
		Gender:         s.Gender,
		Ministry:       s.Ministry,
		Category:       s.Category,
		Subject:        s.Subject,
		Description:    s.Description,
		IncidentDate:   s.IncidentDate,
		TrackingNumber: s.TrackingNumber,
		MessageCount:   s.MessageCount,
	}
}

func (r *ToolRegistry) getSessionData(sessionID string) ToolResult {
	s, err := GetOrCreateSession(r.db, sessionID)
	if err != nil {
		return toolFail(fmt.Sprintf("loading session: %v", err))
	}
	return toolOK("session loaded", snapshotSession(s))
}

type updateSessionArgs struct {
	State        string `json:"state,omitempty"`
	Ministry     string `json:"ministry,omitempty"`
	Category     string `json:"category,omitempty"`
	Subject      string `json:"subject,omitempty"`
	Description  string `json:"description,omitempty"`
	IncidentDate string `json:"incident_date,omitempty"`
	Address      string `json:"address,omitempty"`
	Gender       string `json:"gender,omitempty"`
}

func (r *ToolRegistry) updateSession(sessionID string, args json.RawMessage) ToolResult {
	var a updateSessionArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return toolFail(fmt.Sprintf("bad update_session arguments: %v", err))
	}

	s, err := GetOrCreateSession(r.db, sessionID)
	if err != nil {
		return toolFail(fmt.Sprintf("loading session: %v", err))
	}

	if a.State != "" {
		if !validStates[a.State] {
			return toolFail(fmt.Sprintf("invalid state %q", a.State))
		}
		s.State = a.State
	}
	tax := r.taxonomy.Get()
	if a.Ministry != "" {
		canon := tax.CanonicalMinistry(a.Ministry)
		if canon == "" {
			return toolFail(fmt.Sprintf("ministry %q is not in the taxonomy", a.Ministry))
		}
		s.Ministry = canon
	}
	if a.Category != "" {
		canon := tax.CanonicalCategory(a.Category)
		if canon == "" {
			return toolFail(fmt.Sprintf("category %q is not in the taxonomy", a.Category))
		}
		s.Category = canon
	}
	if a.Subject != "" {
		s.Subject = a.Subject
	}
	if a.Description != "" {
		s.Description = truncateText(a.Description, r.cfg.MaxDescriptionLength)
	}
	if a.IncidentDate != "" {
		s.IncidentDate = a.IncidentDate
	}
	if a.Address != "" {
		s.Address = a.Address
	}
	if a.Gender != "" {
		s.Gender = a.Gender
	}
	s.LastMessageAt = r.now().UTC()

	if err := UpdateSession(r.db, s); err != nil {
		return toolFail(fmt.Sprintf("saving session: %v", err))
	}
	return toolOK("session updated", snapshotSession(s))
}

type saveContactArgs struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
	Text  string `json:"text,omitempty"`
}

// saveContactInfo stores explicit contact fields, or extracts them from
// free text with the same heuristics the state handlers use.
func (r *ToolRegistry) saveContactInfo(sessionID string, args json.RawMessage) ToolResult {
	var a saveContactArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return toolFail(fmt.Sprintf("bad save_contact_info arguments: %v", err))
	}

	s, err := GetOrCreateSession(r.db, sessionID)
	if err != nil {
		return toolFail(fmt.Sprintf("loading session: %v", err))
	}

	if a.Text != "" {
		if a.Email == "" {
			a.Email = emailRegex.FindString(a.Text)
		}
		if a.Phone == "" {
			a.Phone = extractPhone(a.Text)
		}
		if a.Name == "" {
			a.Name = extractName(a.Text)
		}
	}
	if a.Email != "" && !emailRegex.MatchString(a.Email) {
		return toolFail(fmt.Sprintf("%q is not a valid email address", a.Email))
	}
	if a.Name != "" {
		s.Name = strings.TrimSpace(a.Name)
	}
	if a.Email != "" {
		s.Email = a.Email
	}
	if a.Phone != "" {
		s.Phone = a.Phone
	}
	s.LastMessageAt = r.now().UTC()

	if err := UpdateSession(r.db, s); err != nil {
		return toolFail(fmt.Sprintf("saving session: %v", err))
	}
	return toolOK("contact info saved", snapshotSession(s))
}

func (r *ToolRegistry) createComplaint(sessionID string) ToolResult {
	s, err := GetOrCreateSession(r.db, sessionID)
	if err != nil {
		return toolFail(fmt.Sprintf("loading session: %v", err))
	}
	if s.TrackingNumber != "" {
		return toolFail(fmt.Sprintf("a complaint was already created for this session: %s", s.TrackingNumber))
	}
	if problems := ValidateSubmission(s, r.cfg.MinDescriptionLength); len(problems) > 0 {
		return toolFail("submission incomplete, still missing: " + strings.Join(problems, "; "))
	}

	now := r.now().UTC()
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
	if _, err := InsertComplaint(r.db, complaint); err != nil {
		s.State = StateError
		s.ErrorReason = fmt.Sprintf("complaint insert failed: %v", err)
		if uerr := UpdateSession(r.db, s); uerr != nil {
			log.Printf("tool create_complaint error-state persist failed session=%s: %v", sessionID, uerr)
		}
		return toolFail(fmt.Sprintf("saving complaint: %v", err))
	}

	s.TrackingNumber = complaint.TrackingNumber
	s.State = StateCompleted
	s.CompletedAt = now
	if err := UpdateSession(r.db, s); err != nil {
		log.Printf("tool create_complaint session update failed session=%s: %v", sessionID, err)
	}
	return toolOK(
		fmt.Sprintf("complaint created with tracking number %s", complaint.TrackingNumber),
		map[string]string{"tracking_number": complaint.TrackingNumber},
	)
}

type complaintStatusArgs struct {
	TrackingNumber  string `json:"tracking_number"`
	IncludeHistory  bool   `json:"include_history,omitempty"`
	IncludeEvidence bool   `json:"include_evidence,omitempty"`
}

func (r *ToolRegistry) getComplaintStatus(args json.RawMessage) ToolResult {
	var a complaintStatusArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return toolFail(fmt.Sprintf("bad get_complaint_status arguments: %v", err))
	}

	resp, err := r.tracking.Track(a.TrackingNumber, a.IncludeHistory, a.IncludeEvidence)
	if err != nil {
		return toolFail(fmt.Sprintf("tracking lookup: %v", err))
	}
	if resp.Outcome != TrackFound {
		return ToolResult{Success: false, Error: resp.Outcome, Message: resp.Message}
	}
	return toolOK(resp.Message, map[string]string{
		"tracking_number": resp.TrackingNumber,
		"status":          resp.Complaint.Status,
	})
}

type classifyArgs struct {
	Text string `json:"text,omitempty"`
}

func (r *ToolRegistry) classifyComplaint(sessionID string, args json.RawMessage) ToolResult {
	var a classifyArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return toolFail(fmt.Sprintf("bad classify_complaint arguments: %v", err))
	}

	text := strings.TrimSpace(a.Text)
	if text == "" {
		s, err := GetOrCreateSession(r.db, sessionID)
		if err != nil {
			return toolFail(fmt.Sprintf("loading session: %v", err))
		}
		text = s.Description
	}
	if text == "" {
		return toolFail("no complaint text to classify")
	}

	result := r.classifier.Classify(text)
	return toolOK(
		fmt.Sprintf("classified as ministry=%s category=%s confidence=%.2f", result.Ministry, result.Category, result.Confidence),
		map[string]any{
			"ministry":      result.Ministry,
			"category":      result.Category,
			"confidence":    result.Confidence,
			"used_fallback": result.UsedFallback,
		},
	)
}

// Definitions returns the tool schemas advertised to the reasoning
// service.
func (r *ToolRegistry) Definitions() []anthropic.ToolUnionParam {
	tools := []anthropic.ToolParam{
		{
			Name:        "get_session_data",
			Description: anthropic.String("Fetch the current session's state and all collected complaint fields."),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: map[string]any{},
			},
		},
		{
			Name:        "update_session",
			Description: anthropic.String("Update fields on the current session: conversation state, ministry, category, subject, description, incident_date, address, gender. Ministry and category must be exact taxonomy members."),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: map[string]any{
					"state":         map[string]any{"type": "string", "description": "New conversation state"},
					"ministry":      map[string]any{"type": "string"},
					"category":      map[string]any{"type": "string"},
					"subject":       map[string]any{"type": "string"},
					"description":   map[string]any{"type": "string"},
					"incident_date": map[string]any{"type": "string"},
					"address":       map[string]any{"type": "string"},
					"gender":        map[string]any{"type": "string"},
				},
			},
		},
		{
			Name:        "save_contact_info",
			Description: anthropic.String("Save the citizen's name, email, and phone. Pass explicit fields, or pass the raw message as 'text' to have contact details extracted."),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: map[string]any{
					"name":  map[string]any{"type": "string"},
					"email": map[string]any{"type": "string"},
					"phone": map[string]any{"type": "string"},
					"text":  map[string]any{"type": "string"},
				},
			},
		},
		{
			Name:        "create_complaint",
			Description: anthropic.String("Create the complaint record from the session's collected fields. Only call after the citizen has explicitly confirmed submission. Fails if required fields are missing."),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: map[string]any{},
			},
		},
		{
			Name:        "get_complaint_status",
			Description: anthropic.String("Look up a complaint's status by its OMB- tracking number."),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: map[string]any{
					"tracking_number":  map[string]any{"type": "string", "description": "Tracking number, e.g. OMB-ABC123-XYZ987"},
					"include_history":  map[string]any{"type": "boolean"},
					"include_evidence": map[string]any{"type": "boolean"},
				},
				Required: []string{"tracking_number"},
			},
		},
		{
			Name:        "classify_complaint",
			Description: anthropic.String("Classify complaint text into a ministry and category from the fixed taxonomy. Uses the session's stored description when no text is given."),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: map[string]any{
					"text": map[string]any{"type": "string"},
				},
			},
		},
	}

	out := make([]anthropic.ToolUnionParam, len(tools))
	for i := range tools {
		out[i] = anthropic.ToolUnionParam{OfTool: &tools[i]}
	}
	return out
}
