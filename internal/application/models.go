package application

import (
	"fmt"

	"github.com/example/session-timer/internal/session"
)

// CheckInInput carries the fields a new session is created from.
type CheckInInput struct {
	Name     string
	Duration int
	Photo    *string
}

// ScanResult lists the sessions a periodic scan changed.
type ScanResult struct {
	Expired []string
	Flagged []string
}

// RecordStatus tells whether a customer record still has a session.
type RecordStatus string

const (
	RecordActive   RecordStatus = "active"
	RecordInactive RecordStatus = "inactive"
)

// CustomerRecord is the denormalised visit history of one customer.
type CustomerRecord struct {
	ID          string
	Name        string
	Photo       *string
	TotalVisits int
	LastVisit   string
	Status      RecordStatus
	// History holds the most recent visit first.
	History []session.VisitRecord
}

func (r CustomerRecord) clone() CustomerRecord {
	out := r
	if r.Photo != nil {
		photo := *r.Photo
		out.Photo = &photo
	}
	out.History = append([]session.VisitRecord(nil), r.History...)
	return out
}

// Stats summarises the collection and the records.
type Stats struct {
	Total           int `json:"total"`
	Active          int `json:"checkedIn"`
	NearingEnd      int `json:"nearingEnd"`
	CheckedOut      int `json:"checkedOut"`
	Waiting         int `json:"waiting"`
	Records         int `json:"records"`
	InactiveRecords int `json:"inactiveRecords"`
}

// ListFilter narrows a listing. Empty fields match everything.
type ListFilter struct {
	Query  string
	Status session.Status
}

// ExtensionResult is the outcome of an extension request. A refusal is not
// an error: Granted is false and RetryAfterMinutes says how long to wait.
type ExtensionResult struct {
	Granted           bool
	Session           session.Session
	RetryAfterMinutes int
	Reason            string
}

// Message renders the refusal shown to the user. It is empty for grants.
func (r ExtensionResult) Message() string {
	if r.Granted {
		return ""
	}
	return fmt.Sprintf("Maximum extensions reached. Please wait %d minutes before extending again.", r.RetryAfterMinutes)
}

// ImportSummary reports what an import replaced the state with.
type ImportSummary struct {
	Customers int `json:"customers"`
	Records   int `json:"records"`
}
