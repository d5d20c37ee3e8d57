package models

// Session is one Q&A room, identified by its short code. The code is the
// partition key for all child data and never changes after creation.
//
// JSON field names follow the stored record shape so that documents written
// by older clients decode without translation.
type Session struct {
	Code            string `json:"code"`
	Title           string `json:"title"`
	CreatedAt       int64  `json:"createdAt"` // ms epoch
	IsActive        bool   `json:"isActive"`
	EndedAt         int64  `json:"endedAt,omitempty"` // ms epoch, zero while active
	StartDate       int64  `json:"startDate"`         // submission window start, inclusive
	EndDate         int64  `json:"endDate"`           // submission window end, inclusive
	HostUID         string `json:"hostUid"`
	HostDisplayName string `json:"hostDisplayName"`
	HostEmail       string `json:"hostEmail,omitempty"`
}

// AcceptsQuestions reports whether submissions are currently allowed.
func (s *Session) AcceptsQuestions(nowMillis int64) bool {
	return s.IsActive && nowMillis >= s.StartDate && nowMillis <= s.EndDate
}
