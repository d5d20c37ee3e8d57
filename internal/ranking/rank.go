// Package ranking orders question lists for display. Ordering is pure:
// repeated calls with the same input produce the identical order, with ties
// broken by question id so output is stable under equal timestamps or like
// counts.
package ranking

import (
	"sort"

	"github.com/bubbly-live/backend/internal/models"
)

// Order selects the requested sort key.
type Order string

const (
	// OrderLatest sorts by createdAt descending.
	OrderLatest Order = "latest"
	// OrderPopular sorts by like count descending.
	OrderPopular Order = "popular"
)

// ParseOrder maps a request parameter to an Order, defaulting to latest.
func ParseOrder(s string) Order {
	if Order(s) == OrderPopular {
		return OrderPopular
	}
	return OrderLatest
}

// Rank returns a new slice ordered for display. When exactly one question
// is highlighted, the list splits temporally around it: questions created
// strictly after the highlighted one come first (sorted by the requested
// key), then the highlighted question, then the rest (sorted). With zero or
// several highlighted questions the whole list is plainly sorted. The input
// is never modified.
func Rank(items []models.Question, order Order) []models.Question {
	out := make([]models.Question, len(items))
	copy(out, items)

	pinned := -1
	for i, q := range out {
		if !q.Highlighted {
			continue
		}
		if pinned >= 0 {
			// More than one highlighted: plain sort.
			sortBy(out, order)
			return out
		}
		pinned = i
	}
	if pinned < 0 {
		sortBy(out, order)
		return out
	}

	highlighted := out[pinned]
	var after, before []models.Question
	for i, q := range out {
		switch {
		case i == pinned:
		case q.CreatedAt > highlighted.CreatedAt:
			after = append(after, q)
		default:
			before = append(before, q)
		}
	}
	sortBy(after, order)
	sortBy(before, order)

	ranked := out[:0]
	ranked = append(ranked, after...)
	ranked = append(ranked, highlighted)
	ranked = append(ranked, before...)
	return ranked
}

// Filter returns the questions whose status is in statuses, preserving
// order.
func Filter(items []models.Question, statuses ...models.QuestionStatus) []models.Question {
	out := make([]models.Question, 0, len(items))
	for _, q := range items {
		for _, s := range statuses {
			if q.Status == s {
				out = append(out, q)
				break
			}
		}
	}
	return out
}

func sortBy(items []models.Question, order Order) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if order == OrderPopular {
			if a.Like != b.Like {
				return a.Like > b.Like
			}
		} else if a.CreatedAt != b.CreatedAt {
			return a.CreatedAt > b.CreatedAt
		}
		return a.ID < b.ID
	})
}
