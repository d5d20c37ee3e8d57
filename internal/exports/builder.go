// Package exports produces downloadable transcripts of a room: the session
// metadata plus its approved questions and host replies, rendered to a JSON
// document and parked in S3. Export requests run through the job queue so a
// large room never blocks an API request.
package exports

import (
	"encoding/json"
	"fmt"

	"github.com/bubbly-live/backend/internal/models"
	"github.com/bubbly-live/backend/internal/ranking"
)

// Transcript is the exported document shape.
type Transcript struct {
	Code        string               `json:"code"`
	Title       string               `json:"title"`
	Host        string               `json:"host"`
	CreatedAt   int64                `json:"createdAt"`
	EndedAt     int64                `json:"endedAt,omitempty"`
	GeneratedAt int64                `json:"generatedAt"`
	Questions   []TranscriptQuestion `json:"questions"`
}

// TranscriptQuestion is one approved question with its replies.
type TranscriptQuestion struct {
	Content     string           `json:"content"`
	AuthorName  string           `json:"authorName"`
	Like        int64            `json:"like"`
	Highlighted bool             `json:"highlighted,omitempty"`
	CreatedAt   int64            `json:"createdAt"`
	Comments    []models.Comment `json:"comments,omitempty"`
}

// BuildTranscript renders the session and its approved questions, most
// liked first, into the export document.
func BuildTranscript(session *models.Session, questions []models.Question, generatedAt int64) ([]byte, error) {
	approved := ranking.Rank(ranking.Filter(questions, models.StatusApproved), ranking.OrderPopular)
	doc := Transcript{
		Code:        session.Code,
		Title:       session.Title,
		Host:        session.HostDisplayName,
		CreatedAt:   session.CreatedAt,
		EndedAt:     session.EndedAt,
		GeneratedAt: generatedAt,
		Questions:   make([]TranscriptQuestion, 0, len(approved)),
	}
	for _, q := range approved {
		doc.Questions = append(doc.Questions, TranscriptQuestion{
			Content:     q.Content,
			AuthorName:  q.AuthorName,
			Like:        q.Like,
			Highlighted: q.Highlighted,
			CreatedAt:   q.CreatedAt,
			Comments:    q.Comments,
		})
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal transcript: %w", err)
	}
	return data, nil
}
