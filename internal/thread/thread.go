// Package thread implements the MessageThread API: thread creation,
// posting, and the human-escalation gate on top of persistence.Store.
package thread

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/amperehq/ampere/internal/ids"
	"github.com/amperehq/ampere/internal/persistence"
)

// Status is the thread's conversational state.
type Status string

const (
	StatusOpen            Status = "Open"
	StatusWaitingForHuman Status = "WaitingForHuman"
	StatusClosed          Status = "Closed"
)

// Message is one post in a thread.
type Message struct {
	ID        string
	ThreadID  string
	AuthorID  string
	Content   string
	Timestamp time.Time
}

// MessageThread is a message log associated with a ticket.
type MessageThread struct {
	ID           string
	TicketID     *string
	Participants map[string]struct{}
	Channel      string
	Status       Status
	CreatedAt    time.Time
	Messages     []Message
}

// ValidationError reports a rejected postMessage/escalate call.
type ValidationError struct{ Msg string }

func (e *ValidationError) Error() string { return fmt.Sprintf("validation error: %s", e.Msg) }

// NotFound reports a missing thread id.
type NotFound struct{ ID string }

func (e *NotFound) Error() string { return fmt.Sprintf("thread not found: %s", e.ID) }

// DatabaseError wraps a persistence.Store failure.
type DatabaseError struct{ Cause error }

func (e *DatabaseError) Error() string  { return fmt.Sprintf("database error: %v", e.Cause) }
func (e *DatabaseError) Unwrap() error  { return e.Cause }

// EscalationEventHandler is notified whenever a thread escalates to a human;
// the TicketOrchestrator registers one that forwards to a HumanNotifier
// side-channel. It is satisfied by internal/bus's Bus.Publish over the
// MessageEvent.EscalationRequested type, but MessageThreadAPI is given a
// narrow function type so it never needs to import the bus package.
type EscalationEventHandler func(ctx context.Context, threadID, reason string, context map[string]string)

// API is the MessageThreadAPI.
type API struct {
	store      *persistence.Store
	clock      ids.Clock
	onEscalate EscalationEventHandler
}

// New returns an API over store. onEscalate may be nil.
func New(store *persistence.Store, clock ids.Clock, onEscalate EscalationEventHandler) *API {
	return &API{store: store, clock: clock, onEscalate: onEscalate}
}

// CreateThread persists a new thread with an initial message and returns it.
func (a *API) CreateThread(ctx context.Context, participants []string, channel, initialMessageContent string) (*MessageThread, error) {
	now := a.clock.Now()
	th := &MessageThread{
		ID:           ids.New(),
		Participants: toSet(participants),
		Channel:      channel,
		Status:       StatusOpen,
		CreatedAt:    now,
	}

	err := persistence.RetryOnBusy(ctx, func() error {
		tx, err := a.store.DB().BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO message_thread (id, ticket_id, channel, status, created_at) VALUES (?, NULL, ?, ?, ?);
		`, th.ID, th.Channel, string(th.Status), th.CreatedAt.UnixMilli()); err != nil {
			return err
		}
		for agentID := range th.Participants {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO thread_participant (thread_id, agent_id) VALUES (?, ?);
			`, th.ID, agentID); err != nil {
				return err
			}
		}
		if initialMessageContent != "" {
			msg := Message{
				ID:        ids.New(),
				ThreadID:  th.ID,
				AuthorID:  firstOf(participants),
				Content:   initialMessageContent,
				Timestamp: now,
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO message (id, thread_id, author_id, content, timestamp) VALUES (?, ?, ?, ?, ?);
			`, msg.ID, msg.ThreadID, msg.AuthorID, msg.Content, msg.Timestamp.UnixMilli()); err != nil {
				return err
			}
			th.Messages = append(th.Messages, msg)
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, &DatabaseError{Cause: err}
	}
	return th, nil
}

// PostMessage appends content as authorID. Rejected while the thread is
// WaitingForHuman unless the author is a human. Author ids are opaque
// strings the caller controls; this API does not infer kind from the id,
// so callers pass isHuman explicitly.
func (a *API) PostMessage(ctx context.Context, threadID, authorID, content string, isHuman bool) (*Message, error) {
	th, err := a.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if th.Status == StatusWaitingForHuman && !isHuman {
		return nil, &ValidationError{Msg: "thread is waiting for human response; only humans may post"}
	}
	msg := &Message{
		ID:        ids.New(),
		ThreadID:  threadID,
		AuthorID:  authorID,
		Content:   content,
		Timestamp: a.clock.Now(),
	}
	err = persistence.RetryOnBusy(ctx, func() error {
		_, err := a.store.DB().ExecContext(ctx, `
			INSERT INTO message (id, thread_id, author_id, content, timestamp) VALUES (?, ?, ?, ?, ?);
		`, msg.ID, msg.ThreadID, msg.AuthorID, msg.Content, msg.Timestamp.UnixMilli())
		return err
	})
	if err != nil {
		return nil, &DatabaseError{Cause: err}
	}
	return msg, nil
}

// EscalateToHuman sets status to WaitingForHuman, posts a structured
// escalation message, and notifies the registered EscalationEventHandler.
func (a *API) EscalateToHuman(ctx context.Context, threadID, reason string, escalationContext map[string]string) error {
	th, err := a.GetThread(ctx, threadID)
	if err != nil {
		return err
	}
	err = persistence.RetryOnBusy(ctx, func() error {
		_, err := a.store.DB().ExecContext(ctx, `
			UPDATE message_thread SET status = ? WHERE id = ?;
		`, string(StatusWaitingForHuman), th.ID)
		return err
	})
	if err != nil {
		return &DatabaseError{Cause: err}
	}

	escalationMsg := formatEscalationMessage(reason, escalationContext)
	if _, err := a.PostMessage(ctx, threadID, "system", escalationMsg, true); err != nil {
		return err
	}

	if a.onEscalate != nil {
		a.onEscalate(ctx, threadID, reason, escalationContext)
	}
	return nil
}

// ReopenThread is idempotent: already-Open is a no-op; WaitingForHuman or
// Closed resets to Open, allowing subsequent non-human posts.
func (a *API) ReopenThread(ctx context.Context, threadID string) error {
	th, err := a.GetThread(ctx, threadID)
	if err != nil {
		return err
	}
	if th.Status == StatusOpen {
		return nil
	}
	err = persistence.RetryOnBusy(ctx, func() error {
		_, err := a.store.DB().ExecContext(ctx, `
			UPDATE message_thread SET status = ? WHERE id = ?;
		`, string(StatusOpen), threadID)
		return err
	})
	if err != nil {
		return &DatabaseError{Cause: err}
	}
	return nil
}

// GetThread loads a thread, its participants, and its messages.
func (a *API) GetThread(ctx context.Context, id string) (*MessageThread, error) {
	row := a.store.DB().QueryRowContext(ctx, `
		SELECT id, ticket_id, channel, status, created_at FROM message_thread WHERE id = ?;
	`, id)
	th, err := scanThread(row)
	if err == sql.ErrNoRows {
		return nil, &NotFound{ID: id}
	}
	if err != nil {
		return nil, &DatabaseError{Cause: err}
	}

	participants, err := a.loadParticipants(ctx, id)
	if err != nil {
		return nil, err
	}
	th.Participants = participants

	messages, err := a.loadMessages(ctx, id)
	if err != nil {
		return nil, err
	}
	th.Messages = messages
	return th, nil
}

// GetAllThreads returns every thread, most recently created first.
func (a *API) GetAllThreads(ctx context.Context) ([]*MessageThread, error) {
	rows, err := a.store.DB().QueryContext(ctx, `
		SELECT id, ticket_id, channel, status, created_at FROM message_thread ORDER BY created_at DESC, id;
	`)
	if err != nil {
		return nil, &DatabaseError{Cause: err}
	}
	defer rows.Close()

	var out []*MessageThread
	var ids []string
	for rows.Next() {
		th, err := scanThread(rows)
		if err != nil {
			return nil, &DatabaseError{Cause: err}
		}
		out = append(out, th)
		ids = append(ids, th.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, &DatabaseError{Cause: err}
	}
	for _, th := range out {
		participants, err := a.loadParticipants(ctx, th.ID)
		if err != nil {
			return nil, err
		}
		th.Participants = participants
		messages, err := a.loadMessages(ctx, th.ID)
		if err != nil {
			return nil, err
		}
		th.Messages = messages
	}
	return out, nil
}

// SetTicketID associates the thread with its owning ticket. AMPERE stores
// the link only on the thread row; ticket.Repository separately stores
// thread_id on the ticket row — the two reference each other by id only,
// never by a live in-memory pointer in both directions.
func (a *API) SetTicketID(ctx context.Context, threadID, ticketID string) error {
	err := persistence.RetryOnBusy(ctx, func() error {
		_, err := a.store.DB().ExecContext(ctx, `UPDATE message_thread SET ticket_id = ? WHERE id = ?;`, ticketID, threadID)
		return err
	})
	if err != nil {
		return &DatabaseError{Cause: err}
	}
	return nil
}

func (a *API) loadParticipants(ctx context.Context, threadID string) (map[string]struct{}, error) {
	rows, err := a.store.DB().QueryContext(ctx, `SELECT agent_id FROM thread_participant WHERE thread_id = ?;`, threadID)
	if err != nil {
		return nil, &DatabaseError{Cause: err}
	}
	defer rows.Close()
	set := make(map[string]struct{})
	for rows.Next() {
		var agentID string
		if err := rows.Scan(&agentID); err != nil {
			return nil, &DatabaseError{Cause: err}
		}
		set[agentID] = struct{}{}
	}
	return set, rows.Err()
}

func (a *API) loadMessages(ctx context.Context, threadID string) ([]Message, error) {
	rows, err := a.store.DB().QueryContext(ctx, `
		SELECT id, thread_id, author_id, content, timestamp FROM message WHERE thread_id = ? ORDER BY timestamp ASC, id;
	`, threadID)
	if err != nil {
		return nil, &DatabaseError{Cause: err}
	}
	defer rows.Close()
	var out []Message
	for rows.Next() {
		var m Message
		var millis int64
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.AuthorID, &m.Content, &millis); err != nil {
			return nil, &DatabaseError{Cause: err}
		}
		m.Timestamp = time.UnixMilli(millis)
		out = append(out, m)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanThread(row scanner) (*MessageThread, error) {
	var th MessageThread
	var ticketID sql.NullString
	var status string
	var createdAtMillis int64
	if err := row.Scan(&th.ID, &ticketID, &th.Channel, &status, &createdAtMillis); err != nil {
		return nil, err
	}
	th.Status = Status(status)
	th.CreatedAt = time.UnixMilli(createdAtMillis)
	if ticketID.Valid {
		v := ticketID.String
		th.TicketID = &v
	}
	return &th, nil
}

func toSet(xs []string) map[string]struct{} {
	set := make(map[string]struct{}, len(xs))
	for _, x := range xs {
		set[x] = struct{}{}
	}
	return set
}

func firstOf(xs []string) string {
	if len(xs) == 0 {
		return "system"
	}
	return xs[0]
}

func formatEscalationMessage(reason string, context map[string]string) string {
	msg := fmt.Sprintf("Escalation requested: %s", reason)
	if ticketID, ok := context["ticketId"]; ok {
		msg += fmt.Sprintf(" (ticket=%s", ticketID)
		if title, ok := context["title"]; ok {
			msg += fmt.Sprintf(" %q", title)
		}
		if priority, ok := context["priority"]; ok {
			msg += fmt.Sprintf(", priority=%s", priority)
		}
		if reportedBy, ok := context["reportedBy"]; ok {
			msg += fmt.Sprintf(", reportedBy=%s", reportedBy)
		}
		msg += ")"
	}
	return msg
}
