package ticket

import (
	"context"
	"database/sql"
	"time"

	"github.com/amperehq/ampere/internal/ids"
	"github.com/amperehq/ampere/internal/persistence"
)

// Repository is the TicketRepository: CRUD plus state-machine-validated
// status transitions and read-only analytics, backed by persistence.Store.
type Repository struct {
	store *persistence.Store
	clock ids.Clock
}

// New returns a Repository over store. clock is consulted for CreatedAt,
// UpdatedAt, and overdue comparisons; pass ids.SystemClock{} in production.
func New(store *persistence.Store, clock ids.Clock) *Repository {
	return &Repository{store: store, clock: clock}
}

// CreateTicket inserts a new ticket in Backlog status with fresh timestamps.
func (r *Repository) CreateTicket(ctx context.Context, title, description string, typ Type, priority Priority, createdBy string) (*Ticket, error) {
	if title == "" {
		return nil, &ValidationError{Msg: "title must not be blank"}
	}
	now := r.clock.Now()
	t := &Ticket{
		ID:               ids.New(),
		Title:            title,
		Description:      description,
		Type:             typ,
		Priority:         priority,
		Status:           StatusBacklog,
		CreatedByAgentID: createdBy,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	err := persistence.RetryOnBusy(ctx, func() error {
		_, err := r.store.DB().ExecContext(ctx, `
			INSERT INTO ticket (id, title, description, ticket_type, priority, status,
				assigned_agent_id, created_by_agent_id, thread_id, created_at, updated_at, due_date)
			VALUES (?, ?, ?, ?, ?, ?, NULL, ?, NULL, ?, ?, NULL);
		`, t.ID, t.Title, t.Description, string(t.Type), string(t.Priority), string(t.Status),
			t.CreatedByAgentID, t.CreatedAt.UnixMilli(), t.UpdatedAt.UnixMilli())
		return err
	})
	if err != nil {
		return nil, &DatabaseError{Cause: err}
	}
	return t, nil
}

// DeleteTicket removes a ticket by id. Deleting a non-existent ticket is not
// an error (idempotent delete).
func (r *Repository) DeleteTicket(ctx context.Context, id string) error {
	err := persistence.RetryOnBusy(ctx, func() error {
		_, err := r.store.DB().ExecContext(ctx, `DELETE FROM ticket WHERE id = ?;`, id)
		return err
	})
	if err != nil {
		return &DatabaseError{Cause: err}
	}
	return nil
}

// GetTicket loads a ticket by id.
func (r *Repository) GetTicket(ctx context.Context, id string) (*Ticket, error) {
	row := r.store.DB().QueryRowContext(ctx, `
		SELECT id, title, description, ticket_type, priority, status, assigned_agent_id,
			created_by_agent_id, thread_id, created_at, updated_at, due_date
		FROM ticket WHERE id = ?;
	`, id)
	t, err := scanTicket(row)
	if err == sql.ErrNoRows {
		return nil, &NotFound{ID: id}
	}
	if err != nil {
		return nil, &DatabaseError{Cause: err}
	}
	return t, nil
}

// GetAllTickets returns every ticket, most recently updated first.
func (r *Repository) GetAllTickets(ctx context.Context) ([]*Ticket, error) {
	rows, err := r.store.DB().QueryContext(ctx, `
		SELECT id, title, description, ticket_type, priority, status, assigned_agent_id,
			created_by_agent_id, thread_id, created_at, updated_at, due_date
		FROM ticket ORDER BY updated_at DESC, id;
	`)
	if err != nil {
		return nil, &DatabaseError{Cause: err}
	}
	defer rows.Close()

	var out []*Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, &DatabaseError{Cause: err}
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, &DatabaseError{Cause: err}
	}
	return out, nil
}

// UpdateStatus validates current -> new against the transition graph before
// writing. It reads the current status inside the same call so callers
// never need a separate read-then-write.
func (r *Repository) UpdateStatus(ctx context.Context, id string, newStatus Status) (*Ticket, error) {
	t, err := r.GetTicket(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(t.Status, newStatus) {
		return nil, &InvalidStateTransition{From: t.Status, To: newStatus}
	}
	t.Status = newStatus
	t.UpdatedAt = r.clock.Now()
	err = persistence.RetryOnBusy(ctx, func() error {
		_, err := r.store.DB().ExecContext(ctx, `
			UPDATE ticket SET status = ?, updated_at = ? WHERE id = ?;
		`, string(t.Status), t.UpdatedAt.UnixMilli(), t.ID)
		return err
	})
	if err != nil {
		return nil, &DatabaseError{Cause: err}
	}
	return t, nil
}

// AssignTicket writes assigned_agent_id; a nil target unassigns.
func (r *Repository) AssignTicket(ctx context.Context, id string, target *string) (*Ticket, error) {
	t, err := r.GetTicket(ctx, id)
	if err != nil {
		return nil, err
	}
	t.AssignedAgentID = target
	t.UpdatedAt = r.clock.Now()
	err = persistence.RetryOnBusy(ctx, func() error {
		_, err := r.store.DB().ExecContext(ctx, `
			UPDATE ticket SET assigned_agent_id = ?, updated_at = ? WHERE id = ?;
		`, nullableString(target), t.UpdatedAt.UnixMilli(), t.ID)
		return err
	})
	if err != nil {
		return nil, &DatabaseError{Cause: err}
	}
	return t, nil
}

// SetThreadID associates a ticket with the thread the orchestrator created
// for it. Threads never embed a ticket struct reference; lookups always go
// back through the repository by id.
func (r *Repository) SetThreadID(ctx context.Context, id, threadID string) error {
	err := persistence.RetryOnBusy(ctx, func() error {
		_, err := r.store.DB().ExecContext(ctx, `UPDATE ticket SET thread_id = ? WHERE id = ?;`, threadID, id)
		return err
	})
	if err != nil {
		return &DatabaseError{Cause: err}
	}
	return nil
}

// TicketDetailsUpdate carries the optional, partial fields UpdateTicketDetails
// accepts. A nil field is left unmodified.
type TicketDetailsUpdate struct {
	Title       *string
	Description *string
	Priority    *Priority
	DueDate     *time.Time
	ClearDue    bool
}

// UpdateTicketDetails performs a partial update; unspecified fields are
// preserved.
func (r *Repository) UpdateTicketDetails(ctx context.Context, id string, upd TicketDetailsUpdate) (*Ticket, error) {
	t, err := r.GetTicket(ctx, id)
	if err != nil {
		return nil, err
	}
	if upd.Title != nil {
		if *upd.Title == "" {
			return nil, &ValidationError{Msg: "title must not be blank"}
		}
		t.Title = *upd.Title
	}
	if upd.Description != nil {
		t.Description = *upd.Description
	}
	if upd.Priority != nil {
		t.Priority = *upd.Priority
	}
	if upd.ClearDue {
		t.DueDate = nil
	} else if upd.DueDate != nil {
		t.DueDate = upd.DueDate
	}
	t.UpdatedAt = r.clock.Now()

	err = persistence.RetryOnBusy(ctx, func() error {
		_, err := r.store.DB().ExecContext(ctx, `
			UPDATE ticket SET title = ?, description = ?, priority = ?, due_date = ?, updated_at = ?
			WHERE id = ?;
		`, t.Title, t.Description, string(t.Priority), nullableMillis(t.DueDate), t.UpdatedAt.UnixMilli(), t.ID)
		return err
	})
	if err != nil {
		return nil, &DatabaseError{Cause: err}
	}
	return t, nil
}

// BacklogSummary is the per-status and per-priority breakdown
// GetBacklogSummary returns.
type BacklogSummary struct {
	ByStatus   map[Status]int
	ByPriority map[Priority]int
	Total      int
}

// GetBacklogSummary counts tickets grouped by status and by priority.
func (r *Repository) GetBacklogSummary(ctx context.Context) (*BacklogSummary, error) {
	summary := &BacklogSummary{
		ByStatus:   make(map[Status]int),
		ByPriority: make(map[Priority]int),
	}
	rows, err := r.store.DB().QueryContext(ctx, `SELECT status, priority FROM ticket;`)
	if err != nil {
		return nil, &DatabaseError{Cause: err}
	}
	defer rows.Close()
	for rows.Next() {
		var status, priority string
		if err := rows.Scan(&status, &priority); err != nil {
			return nil, &DatabaseError{Cause: err}
		}
		summary.ByStatus[Status(status)]++
		summary.ByPriority[Priority(priority)]++
		summary.Total++
	}
	if err := rows.Err(); err != nil {
		return nil, &DatabaseError{Cause: err}
	}
	return summary, nil
}

// AgentWorkload is the per-status count of tickets assigned to one agent.
type AgentWorkload struct {
	AgentID  string
	ByStatus map[Status]int
	Total    int
}

// GetAgentWorkload summarizes the tickets currently assigned to agentID.
func (r *Repository) GetAgentWorkload(ctx context.Context, agentID string) (*AgentWorkload, error) {
	w := &AgentWorkload{AgentID: agentID, ByStatus: make(map[Status]int)}
	rows, err := r.store.DB().QueryContext(ctx, `SELECT status FROM ticket WHERE assigned_agent_id = ?;`, agentID)
	if err != nil {
		return nil, &DatabaseError{Cause: err}
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		if err := rows.Scan(&status); err != nil {
			return nil, &DatabaseError{Cause: err}
		}
		w.ByStatus[Status(status)]++
		w.Total++
	}
	if err := rows.Err(); err != nil {
		return nil, &DatabaseError{Cause: err}
	}
	return w, nil
}

// GetUpcomingDeadlines returns tickets due within the next `days` days that
// are not Done, ordered by due date. A ticket is overdue when
// dueDate < now && status != Done — overdue tickets are included here too
// since they are, by definition, within any non-negative window.
func (r *Repository) GetUpcomingDeadlines(ctx context.Context, days int) ([]*Ticket, error) {
	now := r.clock.Now()
	horizon := now.Add(time.Duration(days) * 24 * time.Hour)
	rows, err := r.store.DB().QueryContext(ctx, `
		SELECT id, title, description, ticket_type, priority, status, assigned_agent_id,
			created_by_agent_id, thread_id, created_at, updated_at, due_date
		FROM ticket
		WHERE due_date IS NOT NULL AND due_date <= ? AND status != ?
		ORDER BY due_date ASC;
	`, horizon.UnixMilli(), string(StatusDone))
	if err != nil {
		return nil, &DatabaseError{Cause: err}
	}
	defer rows.Close()

	var out []*Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, &DatabaseError{Cause: err}
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, &DatabaseError{Cause: err}
	}
	return out, nil
}

// IsOverdue reports whether t's due date has passed and it is not Done.
func (r *Repository) IsOverdue(t *Ticket) bool {
	if t.DueDate == nil || t.Status == StatusDone {
		return false
	}
	return t.DueDate.Before(r.clock.Now())
}

// PruneTerminalOlderThan deletes Done and Cancelled tickets last updated
// before horizon, returning the number removed. Non-terminal tickets are
// never touched regardless of age.
func (r *Repository) PruneTerminalOlderThan(ctx context.Context, horizon time.Time) (int, error) {
	var n int64
	err := persistence.RetryOnBusy(ctx, func() error {
		res, err := r.store.DB().ExecContext(ctx, `
			DELETE FROM ticket
			WHERE status IN (?, ?) AND updated_at < ?;
		`, string(StatusDone), string(StatusCancelled), horizon.UnixMilli())
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, &DatabaseError{Cause: err}
	}
	return int(n), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTicket(row scanner) (*Ticket, error) {
	var (
		t                                 Ticket
		typ, priority, status             string
		assignedAgentID, threadID         sql.NullString
		createdAtMillis, updatedAtMillis  int64
		dueDateMillis                     sql.NullInt64
	)
	if err := row.Scan(&t.ID, &t.Title, &t.Description, &typ, &priority, &status,
		&assignedAgentID, &t.CreatedByAgentID, &threadID, &createdAtMillis, &updatedAtMillis, &dueDateMillis); err != nil {
		return nil, err
	}
	t.Type = Type(typ)
	t.Priority = Priority(priority)
	t.Status = Status(status)
	if assignedAgentID.Valid {
		v := assignedAgentID.String
		t.AssignedAgentID = &v
	}
	if threadID.Valid {
		v := threadID.String
		t.ThreadID = &v
	}
	t.CreatedAt = time.UnixMilli(createdAtMillis)
	t.UpdatedAt = time.UnixMilli(updatedAtMillis)
	if dueDateMillis.Valid {
		v := time.UnixMilli(dueDateMillis.Int64)
		t.DueDate = &v
	}
	return &t, nil
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullableMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}
