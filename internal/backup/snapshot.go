// Package backup defines the portable snapshot of the session collection and
// the customer records, and converts it to and from the domain types.
//
// Snapshots are plain JSON. Parse also accepts comments and trailing commas
// so hand edited backups import cleanly.
package backup

import (
	"encoding/json"
	"time"

	"github.com/example/session-timer/internal/session"
)

// Version is written into every exported snapshot.
const Version = "1.0"

// Snapshot is the exported document.
type Snapshot struct {
	Customers  []Customer `json:"customers" validate:"required,dive"`
	Records    []Record   `json:"records" validate:"required,dive"`
	ExportDate string     `json:"exportDate"`
	Version    string     `json:"version"`
	Metadata   Metadata   `json:"metadata"`
}

// Metadata summarises a snapshot.
type Metadata struct {
	TotalCustomers  int `json:"totalCustomers"`
	TotalRecords    int `json:"totalRecords"`
	ActiveCustomers int `json:"activeCustomers"`
}

// Customer is a session in wire form. Instants are epoch milliseconds.
type Customer struct {
	ID          string    `json:"id" validate:"required"`
	Name        string    `json:"name" validate:"required"`
	Status      string    `json:"status" validate:"omitempty,oneof=waiting checked-in checked-out"`
	CheckInTime string    `json:"checkInTime" validate:"required"`
	Photo       *string   `json:"photo"`
	Interval    *Interval `json:"interval" validate:"required"`
	History     []Visit   `json:"history" validate:"omitempty,dive"`
}

// Interval is a session timer in wire form.
type Interval struct {
	Duration          *int   `json:"duration" validate:"required,gt=0"`
	StartTime         int64  `json:"startTime"`
	EndTime           int64  `json:"endTime"`
	IsNearingEnd      bool   `json:"isNearingEnd"`
	HasExtended       bool   `json:"hasExtended"`
	ExtensionCount    int    `json:"extensionCount" validate:"gte=0"`
	LastExtensionTime *int64 `json:"lastExtensionTime"`
}

// Visit is a visit record in wire form.
type Visit struct {
	CheckInTime      string `json:"checkInTime"`
	CheckOutTime     string `json:"checkOutTime"`
	Duration         int    `json:"duration" validate:"gte=0"`
	WasExtended      bool   `json:"wasExtended"`
	CompletedSession bool   `json:"completedSession"`
	TimeEnded        bool   `json:"timeEnded"`
	ExtensionsUsed   int    `json:"extensionsUsed" validate:"gte=0"`
}

// Record is a customer record in wire form.
type Record struct {
	ID          string  `json:"id" validate:"required"`
	Name        string  `json:"name" validate:"required"`
	Photo       *string `json:"photo"`
	TotalVisits *int    `json:"totalVisits" validate:"required,gte=0"`
	LastVisit   string  `json:"lastVisit" validate:"required"`
	Status      string  `json:"status" validate:"omitempty,oneof=active inactive"`
	History     []Visit `json:"history" validate:"required,dive"`
}

// FromSession converts a session into wire form.
func FromSession(s session.Session) Customer {
	duration := s.Interval.Duration
	c := Customer{
		ID:          s.ID,
		Name:        s.Name,
		Status:      string(s.Status),
		CheckInTime: s.CheckInTime,
		Photo:       s.Photo,
		Interval: &Interval{
			Duration:       &duration,
			StartTime:      s.Interval.StartTime.UnixMilli(),
			EndTime:        s.Interval.EndTime.UnixMilli(),
			IsNearingEnd:   s.Interval.IsNearingEnd,
			HasExtended:    s.Interval.HasExtended,
			ExtensionCount: s.Interval.ExtensionCount,
		},
		History: FromVisits(s.History),
	}
	if s.Interval.LastExtensionTime != nil {
		ms := s.Interval.LastExtensionTime.UnixMilli()
		c.Interval.LastExtensionTime = &ms
	}
	return c
}

// FromSessions converts a slice of sessions.
func FromSessions(sessions []session.Session) []Customer {
	out := make([]Customer, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, FromSession(s))
	}
	return out
}

// Session converts c back into a session. A missing status imports as
// checked-out so that no timer starts for it. A missing start is taken from
// the check-in label, and a missing end from start plus duration.
func (c Customer) Session() session.Session {
	s := session.Session{
		ID:          c.ID,
		Name:        c.Name,
		Status:      session.Status(c.Status),
		CheckInTime: c.CheckInTime,
		History:     ToVisits(c.History),
	}
	if s.Status == "" {
		s.Status = session.StatusCheckedOut
	}
	if c.Photo != nil {
		photo := *c.Photo
		s.Photo = &photo
	}
	if c.Interval == nil {
		return s
	}

	iv := c.Interval
	if iv.Duration != nil {
		s.Interval.Duration = *iv.Duration
	}
	s.Interval.IsNearingEnd = iv.IsNearingEnd
	s.Interval.HasExtended = iv.HasExtended
	s.Interval.ExtensionCount = iv.ExtensionCount

	if iv.StartTime != 0 {
		s.Interval.StartTime = session.FromMillis(iv.StartTime)
	} else if t, err := time.ParseInLocation(session.CheckInLayout, c.CheckInTime, time.Local); err == nil {
		s.Interval.StartTime = session.Instant(t)
	}
	if iv.EndTime != 0 {
		s.Interval.EndTime = session.FromMillis(iv.EndTime)
	} else {
		s.Interval.EndTime = s.Interval.StartTime.Add(session.Minutes(s.Interval.Duration))
	}
	if iv.LastExtensionTime != nil {
		last := session.FromMillis(*iv.LastExtensionTime)
		s.Interval.LastExtensionTime = &last
	}
	return s
}

// Sessions converts every customer of the snapshot.
func (s Snapshot) Sessions() []session.Session {
	out := make([]session.Session, 0, len(s.Customers))
	for _, c := range s.Customers {
		out = append(out, c.Session())
	}
	return out
}

// FromVisits converts visit records into wire form. The result is never nil.
func FromVisits(visits []session.VisitRecord) []Visit {
	out := make([]Visit, 0, len(visits))
	for _, v := range visits {
		out = append(out, Visit{
			CheckInTime:      v.CheckIn,
			CheckOutTime:     v.CheckOut,
			Duration:         v.Duration,
			WasExtended:      v.WasExtended,
			CompletedSession: v.CompletedSession,
			TimeEnded:        v.TimeEnded,
			ExtensionsUsed:   v.ExtensionsUsed,
		})
	}
	return out
}

// ToVisits converts wire visits back into visit records.
func ToVisits(visits []Visit) []session.VisitRecord {
	if len(visits) == 0 {
		return nil
	}
	out := make([]session.VisitRecord, 0, len(visits))
	for _, v := range visits {
		out = append(out, session.VisitRecord{
			CheckIn:          v.CheckInTime,
			CheckOut:         v.CheckOutTime,
			Duration:         v.Duration,
			WasExtended:      v.WasExtended,
			CompletedSession: v.CompletedSession,
			TimeEnded:        v.TimeEnded,
			ExtensionsUsed:   v.ExtensionsUsed,
		})
	}
	return out
}

// New assembles a snapshot stamped at now.
func New(sessions []session.Session, records []Record, now time.Time) Snapshot {
	if records == nil {
		records = []Record{}
	}
	snap := Snapshot{
		Customers:  FromSessions(sessions),
		Records:    records,
		ExportDate: now.UTC().Format(time.RFC3339Nano),
		Version:    Version,
	}
	snap.Metadata = Metadata{
		TotalCustomers: len(snap.Customers),
		TotalRecords:   len(snap.Records),
	}
	for _, s := range sessions {
		if s.Status == session.StatusCheckedIn {
			snap.Metadata.ActiveCustomers++
		}
	}
	return snap
}

// Encode renders the snapshot as indented JSON.
func (s Snapshot) Encode() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// EncodeCustomers renders sessions as a JSON array of customers, the format
// the local cache keeps.
func EncodeCustomers(sessions []session.Session) ([]byte, error) {
	return json.Marshal(FromSessions(sessions))
}

// DecodeCustomers parses what EncodeCustomers produced.
func DecodeCustomers(data []byte) ([]session.Session, error) {
	var customers []Customer
	if err := json.Unmarshal(data, &customers); err != nil {
		return nil, err
	}
	out := make([]session.Session, 0, len(customers))
	for _, c := range customers {
		out = append(out, c.Session())
	}
	return out, nil
}
