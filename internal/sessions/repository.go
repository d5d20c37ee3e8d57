// Package sessions implements Q&A room lifecycle: creation with generated
// codes, end/reactivate/update/delete, and the denormalized per-host session
// mirror that every mutator keeps in lockstep.
package sessions

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bubbly-live/backend/internal/models"
	"github.com/bubbly-live/backend/internal/store"
)

var (
	// ErrNotFound means no session exists for the requested code.
	ErrNotFound = errors.New("session not found")
	// ErrEmptyTitle rejects a blank session title before any write.
	ErrEmptyTitle = errors.New("session title must not be empty")
	// ErrInvalidDates rejects a submission window that ends before it starts.
	ErrInvalidDates = errors.New("session end date must not precede start date")
	// ErrInvalidCode rejects malformed custom session codes.
	ErrInvalidCode = errors.New("session code must be 4-12 letters or digits")
)

// DefaultCodeLength is the generated session code length. With a 36-letter
// alphabet that is 36^6 (about 2.2e9) possible codes; generation does not
// check for collisions, which is acceptable at that keyspace but documented
// rather than ignored.
const DefaultCodeLength = 6

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Path returns the root path of a session's data.
func Path(code string) string {
	return "sessions/" + code
}

// MetadataPath returns the path of the session record itself.
func MetadataPath(code string) string {
	return Path(code) + "/metadata"
}

// HostSessionsPath returns the path of a host's denormalized session index.
func HostSessionsPath(hostUID string) string {
	return "hosts/" + hostUID + "/sessions"
}

func hostSessionPath(hostUID, code string) string {
	return HostSessionsPath(hostUID) + "/" + code
}

// HostInfo identifies the creating host, as handed over by the identity
// provider.
type HostInfo struct {
	UID         string
	DisplayName string
	Email       string
}

// Update carries the editable session fields; nil members are left
// untouched. Start and end dates are editable by the owning host (the
// original allows it; ownership is enforced at the handler).
type Update struct {
	Title     *string
	StartDate *int64
	EndDate   *int64
}

// Repository composes store calls into session operations.
type Repository struct {
	store store.Store
	now   func() time.Time
}

// NewRepository creates a session repository. A nil now falls back to
// time.Now; tests inject a fixed clock.
func NewRepository(st store.Store, now func() time.Time) *Repository {
	if now == nil {
		now = time.Now
	}
	return &Repository{store: st, now: now}
}

// Create validates the input, generates a code when none is supplied and
// writes both the canonical record and the host-index mirror. Validation
// failures happen before any store call.
func (r *Repository) Create(ctx context.Context, host HostInfo, title, code string, startDate, endDate int64) (*models.Session, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, ErrEmptyTitle
	}
	if startDate > endDate {
		return nil, ErrInvalidDates
	}
	if code == "" {
		var err error
		code, err = GenerateCode(DefaultCodeLength)
		if err != nil {
			return nil, err
		}
	} else {
		code = strings.ToUpper(strings.TrimSpace(code))
		if !validCode(code) {
			return nil, ErrInvalidCode
		}
	}

	displayName := host.DisplayName
	if displayName == "" {
		displayName = host.Email
	}
	if displayName == "" {
		displayName = "Host"
	}

	session := &models.Session{
		Code:            code,
		Title:           title,
		CreatedAt:       r.now().UnixMilli(),
		IsActive:        true,
		StartDate:       startDate,
		EndDate:         endDate,
		HostUID:         host.UID,
		HostDisplayName: displayName,
		HostEmail:       host.Email,
	}
	if err := r.store.Write(ctx, MetadataPath(code), session); err != nil {
		return nil, fmt.Errorf("write session: %w", err)
	}
	if err := r.store.Write(ctx, hostSessionPath(host.UID, code), session); err != nil {
		return nil, fmt.Errorf("write host mirror: %w", err)
	}
	return session, nil
}

// Fetch returns the session for code, or ErrNotFound.
func (r *Repository) Fetch(ctx context.Context, code string) (*models.Session, error) {
	raw, err := r.store.Read(ctx, MetadataPath(code))
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	session := r.normalize(code, raw)
	if session == nil {
		return nil, ErrNotFound
	}
	return session, nil
}

// FetchHostSessions lists the sessions owned by hostUID, newest first.
func (r *Repository) FetchHostSessions(ctx context.Context, hostUID string) ([]models.Session, error) {
	raw, err := r.store.Read(ctx, "sessions")
	if err != nil {
		return nil, fmt.Errorf("read sessions: %w", err)
	}
	return r.normalizeHostSessions(raw, hostUID), nil
}

// Watch subscribes to the session record; handler receives nil when the
// session is deleted.
func (r *Repository) Watch(code string, handler func(*models.Session), onError func(error)) (func(), error) {
	return r.store.Watch(MetadataPath(code), func(v any) {
		handler(r.normalize(code, v))
	}, onError)
}

// WatchHostSessions subscribes to the host's session list.
func (r *Repository) WatchHostSessions(hostUID string, handler func([]models.Session), onError func(error)) (func(), error) {
	return r.store.Watch("sessions", func(v any) {
		handler(r.normalizeHostSessions(v, hostUID))
	}, onError)
}

// End deactivates the session and mirrors the change into the host index.
func (r *Repository) End(ctx context.Context, code string) (*models.Session, error) {
	endedAt := r.now().UnixMilli()
	err := r.store.Update(ctx, MetadataPath(code), map[string]any{
		"isActive": false,
		"endedAt":  endedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("end session: %w", err)
	}
	return r.mirror(ctx, code, map[string]any{
		"isActive": false,
		"endedAt":  endedAt,
	})
}

// Reactivate re-opens the session, clearing endedAt.
func (r *Repository) Reactivate(ctx context.Context, code string) (*models.Session, error) {
	err := r.store.Update(ctx, MetadataPath(code), map[string]any{
		"isActive": true,
		"endedAt":  nil,
	})
	if err != nil {
		return nil, fmt.Errorf("reactivate session: %w", err)
	}
	return r.mirror(ctx, code, map[string]any{
		"isActive": true,
		"endedAt":  nil,
	})
}

// ApplyUpdate edits title and submission window, validating the combined
// window against current values before any write.
func (r *Repository) ApplyUpdate(ctx context.Context, code string, upd Update) (*models.Session, error) {
	current, err := r.Fetch(ctx, code)
	if err != nil {
		return nil, err
	}

	fields := make(map[string]any)
	start, end := current.StartDate, current.EndDate
	if upd.Title != nil {
		title := strings.TrimSpace(*upd.Title)
		if title == "" {
			return nil, ErrEmptyTitle
		}
		fields["title"] = title
	}
	if upd.StartDate != nil {
		start = *upd.StartDate
		fields["startDate"] = start
	}
	if upd.EndDate != nil {
		end = *upd.EndDate
		fields["endDate"] = end
	}
	if start > end {
		return nil, ErrInvalidDates
	}
	if len(fields) == 0 {
		return current, nil
	}

	if err := r.store.Update(ctx, MetadataPath(code), fields); err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}
	return r.mirror(ctx, code, fields)
}

// Delete removes the session subtree (questions included) and the host
// mirror entry.
func (r *Repository) Delete(ctx context.Context, code, hostUID string) error {
	if err := r.store.Remove(ctx, Path(code)); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if err := r.store.Remove(ctx, hostSessionPath(hostUID, code)); err != nil {
		return fmt.Errorf("delete host mirror: %w", err)
	}
	return nil
}

// mirror re-reads the canonical record and applies fields to the host-index
// copy. Mirror writes are sequential, not atomic with the primary update;
// the next write through any mutator converges them.
func (r *Repository) mirror(ctx context.Context, code string, fields map[string]any) (*models.Session, error) {
	session, err := r.Fetch(ctx, code)
	if err != nil {
		return nil, err
	}
	if session.HostUID == "" {
		return session, nil
	}
	if err := r.store.Update(ctx, hostSessionPath(session.HostUID, code), fields); err != nil {
		return nil, fmt.Errorf("update host mirror: %w", err)
	}
	return session, nil
}

// normalize decodes a raw session record defensively: missing fields take
// defaults, non-object shapes yield nil.
func (r *Repository) normalize(code string, raw any) *models.Session {
	m, ok := raw.(map[string]any)
	if !ok || len(m) == 0 {
		return nil
	}
	return &models.Session{
		Code:            models.StringField(m, "code", code),
		Title:           models.StringField(m, "title", "Untitled"),
		CreatedAt:       models.Int64Field(m, "createdAt", 0),
		IsActive:        models.BoolField(m, "isActive"),
		EndedAt:         models.Int64Field(m, "endedAt", 0),
		StartDate:       models.Int64Field(m, "startDate", 0),
		EndDate:         models.Int64Field(m, "endDate", 0),
		HostUID:         models.StringField(m, "hostUid", ""),
		HostDisplayName: models.StringField(m, "hostDisplayName", "Host"),
		HostEmail:       models.StringField(m, "hostEmail", ""),
	}
}

// normalizeHostSessions filters the full sessions collection down to one
// host's rooms, newest first. Records may carry the session under a
// "metadata" child or directly at the root (legacy shape).
func (r *Repository) normalizeHostSessions(raw any, hostUID string) []models.Session {
	record, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	out := make([]models.Session, 0, len(record))
	for code, value := range record {
		node, ok := value.(map[string]any)
		if !ok {
			continue
		}
		if meta, ok := node["metadata"].(map[string]any); ok {
			node = meta
		}
		session := r.normalize(code, node)
		if session == nil || session.HostUID != hostUID {
			continue
		}
		out = append(out, *session)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt > out[j].CreatedAt
		}
		return out[i].Code < out[j].Code
	})
	return out
}

// GenerateCode returns a random uppercase alphanumeric code.
func GenerateCode(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf), nil
}

func validCode(code string) bool {
	if len(code) < 4 || len(code) > 12 {
		return false
	}
	for _, c := range code {
		if !strings.ContainsRune(codeAlphabet, c) {
			return false
		}
	}
	return true
}
