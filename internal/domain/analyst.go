package domain

import "time"

// SessionState tracks whether an analyst currently holds an active session.
type SessionState string

const (
	SessionStateActive    SessionState = "ACTIVE"
	SessionStateLoggedOut SessionState = "LOGGED_OUT"
)

// Analyst models a support analyst consulted during candidate selection.
type Analyst struct {
	ID                   string
	Name                 string
	Email                string
	PasswordHash         string
	Department           string
	CanUpload            bool
	SessionState         SessionState
	OpenTicketCount      int
	ResolvedTicketCount  int
	AvgResolutionSeconds float64
	LastAssignedAt       *time.Time
	LastSeenAt           *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// RunningAverage folds one resolution duration sample into the analyst's
// rolling mean without a batch recomputation.
func RunningAverage(oldAvg float64, oldCount int, sampleSeconds float64) float64 {
	return oldAvg + (sampleSeconds-oldAvg)/float64(oldCount+1)
}
