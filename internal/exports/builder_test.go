package exports

import (
	"encoding/json"
	"testing"

	"github.com/bubbly-live/backend/internal/models"
)

func TestBuildTranscript(t *testing.T) {
	session := &models.Session{
		Code:            "ROOM01",
		Title:           "Town hall",
		HostDisplayName: "Dana",
		CreatedAt:       1_700_000_000_000,
		EndedAt:         1_700_003_600_000,
	}
	questions := []models.Question{
		{ID: "a", Content: "pending stays out", Status: models.StatusPending, Like: 99},
		{ID: "b", Content: "archived stays out", Status: models.StatusArchived, Like: 50},
		{ID: "c", Content: "two likes", Status: models.StatusApproved, Like: 2, CreatedAt: 1},
		{ID: "d", Content: "five likes", Status: models.StatusApproved, Like: 5, CreatedAt: 2,
			Comments: []models.Comment{{ID: "c1", Author: "Dana", Content: "answered live", CreatedAt: 3}}},
	}

	data, err := BuildTranscript(session, questions, 1_700_004_000_000)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	var doc Transcript
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if doc.Code != "ROOM01" || doc.Host != "Dana" || doc.GeneratedAt != 1_700_004_000_000 {
		t.Fatalf("header = %+v", doc)
	}
	if len(doc.Questions) != 2 {
		t.Fatalf("questions = %v", doc.Questions)
	}
	if doc.Questions[0].Content != "five likes" || doc.Questions[1].Content != "two likes" {
		t.Fatalf("not sorted by likes: %v", doc.Questions)
	}
	if len(doc.Questions[0].Comments) != 1 || doc.Questions[0].Comments[0].Content != "answered live" {
		t.Fatalf("comments lost: %v", doc.Questions[0])
	}
}

func TestBuildTranscriptEmptyRoom(t *testing.T) {
	session := &models.Session{Code: "EMPTY1", Title: "Quiet room"}
	data, err := BuildTranscript(session, nil, 1)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	var doc Transcript
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if doc.Questions == nil || len(doc.Questions) != 0 {
		t.Fatalf("questions = %#v", doc.Questions)
	}
}
