package firestore

import "github.com/example/session-timer/internal/session"

// document is the stored shape of a session. Instants are epoch
// milliseconds so documents stay readable by other clients of the
// collection.
type document struct {
	Name        string           `firestore:"name"`
	Status      string           `firestore:"status"`
	CheckInTime string           `firestore:"checkInTime"`
	Photo       *string          `firestore:"photo"`
	Interval    intervalDocument `firestore:"interval"`
	History     []visitDocument  `firestore:"history"`
}

type intervalDocument struct {
	Duration          int    `firestore:"duration"`
	StartTime         int64  `firestore:"startTime"`
	EndTime           int64  `firestore:"endTime"`
	IsNearingEnd      bool   `firestore:"isNearingEnd"`
	HasExtended       bool   `firestore:"hasExtended"`
	ExtensionCount    int    `firestore:"extensionCount"`
	LastExtensionTime *int64 `firestore:"lastExtensionTime"`
}

type visitDocument struct {
	CheckInTime      string `firestore:"checkInTime"`
	CheckOutTime     string `firestore:"checkOutTime"`
	Duration         int    `firestore:"duration"`
	WasExtended      bool   `firestore:"wasExtended"`
	CompletedSession bool   `firestore:"completedSession"`
	TimeEnded        bool   `firestore:"timeEnded"`
	ExtensionsUsed   int    `firestore:"extensionsUsed"`
}

func toDocument(s session.Session) document {
	doc := document{
		Name:        s.Name,
		Status:      string(s.Status),
		CheckInTime: s.CheckInTime,
		Photo:       s.Photo,
		Interval: intervalDocument{
			Duration:       s.Interval.Duration,
			StartTime:      s.Interval.StartTime.UnixMilli(),
			EndTime:        s.Interval.EndTime.UnixMilli(),
			IsNearingEnd:   s.Interval.IsNearingEnd,
			HasExtended:    s.Interval.HasExtended,
			ExtensionCount: s.Interval.ExtensionCount,
		},
		History: make([]visitDocument, 0, len(s.History)),
	}
	if s.Interval.LastExtensionTime != nil {
		ms := s.Interval.LastExtensionTime.UnixMilli()
		doc.Interval.LastExtensionTime = &ms
	}
	for _, v := range s.History {
		doc.History = append(doc.History, visitDocument{
			CheckInTime:      v.CheckIn,
			CheckOutTime:     v.CheckOut,
			Duration:         v.Duration,
			WasExtended:      v.WasExtended,
			CompletedSession: v.CompletedSession,
			TimeEnded:        v.TimeEnded,
			ExtensionsUsed:   v.ExtensionsUsed,
		})
	}
	return doc
}

func (d document) toSession(id string) session.Session {
	s := session.Session{
		ID:          id,
		Name:        d.Name,
		Status:      session.Status(d.Status),
		CheckInTime: d.CheckInTime,
		Photo:       d.Photo,
		Interval: session.Interval{
			Duration:       d.Interval.Duration,
			StartTime:      session.FromMillis(d.Interval.StartTime),
			EndTime:        session.FromMillis(d.Interval.EndTime),
			IsNearingEnd:   d.Interval.IsNearingEnd,
			HasExtended:    d.Interval.HasExtended,
			ExtensionCount: d.Interval.ExtensionCount,
		},
	}
	if d.Interval.LastExtensionTime != nil {
		last := session.FromMillis(*d.Interval.LastExtensionTime)
		s.Interval.LastExtensionTime = &last
	}
	for _, v := range d.History {
		s.History = append(s.History, session.VisitRecord{
			CheckIn:          v.CheckInTime,
			CheckOut:         v.CheckOutTime,
			Duration:         v.Duration,
			WasExtended:      v.WasExtended,
			CompletedSession: v.CompletedSession,
			TimeEnded:        v.TimeEnded,
			ExtensionsUsed:   v.ExtensionsUsed,
		})
	}
	return s
}
