package ranking

import (
	"reflect"
	"testing"

	"github.com/bubbly-live/backend/internal/models"
)

func q(id string, createdAt, like int64, highlighted bool) models.Question {
	return models.Question{
		ID:          id,
		Status:      models.StatusApproved,
		CreatedAt:   createdAt,
		Like:        like,
		Highlighted: highlighted,
	}
}

func ids(items []models.Question) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.ID
	}
	return out
}

func TestRank(t *testing.T) {
	tests := []struct {
		name  string
		input []models.Question
		order Order
		want  []string
	}{
		{
			name:  "latest without highlight",
			input: []models.Question{q("a", 100, 5, false), q("c", 300, 3, false), q("b", 200, 1, false)},
			order: OrderLatest,
			want:  []string{"c", "b", "a"},
		},
		{
			name:  "popular without highlight",
			input: []models.Question{q("a", 100, 5, false), q("c", 300, 3, false), q("b", 200, 1, false)},
			order: OrderPopular,
			want:  []string{"a", "c", "b"},
		},
		{
			// The highlighted question splits the list temporally: newer
			// items first (sorted), the pin, then the rest (sorted).
			name:  "popular with highlight pins temporally",
			input: []models.Question{q("a", 100, 5, false), q("b", 200, 1, true), q("c", 300, 3, false)},
			order: OrderPopular,
			want:  []string{"c", "b", "a"},
		},
		{
			name:  "latest with highlight",
			input: []models.Question{q("a", 100, 5, false), q("b", 200, 1, true), q("c", 300, 3, false), q("d", 400, 0, false)},
			order: OrderLatest,
			want:  []string{"d", "c", "b", "a"},
		},
		{
			name:  "created at same instant as highlight sorts below it",
			input: []models.Question{q("a", 200, 9, false), q("b", 200, 1, true)},
			order: OrderPopular,
			want:  []string{"b", "a"},
		},
		{
			name:  "two highlighted falls back to plain sort",
			input: []models.Question{q("a", 100, 5, true), q("b", 200, 1, true), q("c", 300, 3, false)},
			order: OrderPopular,
			want:  []string{"a", "c", "b"},
		},
		{
			name:  "ties break by id",
			input: []models.Question{q("b", 100, 2, false), q("a", 100, 2, false), q("c", 100, 2, false)},
			order: OrderPopular,
			want:  []string{"a", "b", "c"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ids(Rank(tc.input, tc.order))
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("Rank(%s) = %v, want %v", tc.order, got, tc.want)
			}
		})
	}
}

func TestRankIsPureAndDeterministic(t *testing.T) {
	input := []models.Question{q("a", 100, 5, false), q("b", 200, 1, true), q("c", 300, 3, false)}
	snapshot := make([]models.Question, len(input))
	copy(snapshot, input)

	first := ids(Rank(input, OrderPopular))
	for i := 0; i < 50; i++ {
		if got := ids(Rank(input, OrderPopular)); !reflect.DeepEqual(got, first) {
			t.Fatalf("run %d produced %v, earlier run produced %v", i, got, first)
		}
	}
	if !reflect.DeepEqual(input, snapshot) {
		t.Fatal("Rank mutated its input")
	}
}

func TestFilter(t *testing.T) {
	items := []models.Question{
		{ID: "a", Status: models.StatusApproved},
		{ID: "b", Status: models.StatusPending},
		{ID: "c", Status: models.StatusArchived},
		{ID: "d", Status: models.StatusApproved},
	}
	got := ids(Filter(items, models.StatusApproved))
	if !reflect.DeepEqual(got, []string{"a", "d"}) {
		t.Fatalf("Filter = %v", got)
	}
	got = ids(Filter(items, models.StatusPending, models.StatusArchived))
	if !reflect.DeepEqual(got, []string{"b", "c"}) {
		t.Fatalf("Filter multi = %v", got)
	}
}
