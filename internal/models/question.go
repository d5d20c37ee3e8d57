package models

// QuestionStatus is the moderation state of a question.
//
// pending --approve--> approved --reject--> archived
// archived --approve--> approved (re-approval allowed)
// pending --reject--> archived
//
// StatusAnswered exists in the stored type domain but no current operation
// sets it; it is kept so records written by a future host action decode.
type QuestionStatus string

const (
	StatusPending  QuestionStatus = "pending"
	StatusApproved QuestionStatus = "approved"
	StatusAnswered QuestionStatus = "answered"
	StatusArchived QuestionStatus = "archived"
)

// Valid reports whether s is a known status value.
func (s QuestionStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusAnswered, StatusArchived:
		return true
	}
	return false
}

// Comment is one append-only comment on a question.
type Comment struct {
	ID        string `json:"id"`
	Author    string `json:"author"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"createdAt"` // ms epoch
}

// QuestionPayload is the submit input.
type QuestionPayload struct {
	Content    string `json:"content"`
	AuthorName string `json:"authorName"`
}

// Question is one submitted item, child of a session.
type Question struct {
	ID          string         `json:"id"`
	Content     string         `json:"content"`
	AuthorName  string         `json:"authorName"`
	Status      QuestionStatus `json:"status"`
	Like        int64          `json:"like"`
	Comments    []Comment      `json:"comments"`
	CreatedAt   int64          `json:"createdAt"` // ms epoch, primary ordering key
	Highlighted bool           `json:"highlighted,omitempty"`
}
