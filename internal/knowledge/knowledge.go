// Package knowledge is the append-only episodic memory store: typed
// knowledge entries with tag, temporal, and context search.
package knowledge

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/amperehq/ampere/internal/ids"
	"github.com/amperehq/ampere/internal/persistence"
)

// Type is the owning-reference variant a Knowledge entry was derived from.
type Type string

const (
	TypeFromIdea       Type = "FromIdea"
	TypeFromOutcome    Type = "FromOutcome"
	TypeFromPerception Type = "FromPerception"
	TypeFromPlan       Type = "FromPlan"
	TypeFromTask       Type = "FromTask"
)

// Knowledge is the in-memory value passed to StoreKnowledge, carrying
// exactly one source reference matching its Type.
type Knowledge struct {
	Type       Type
	SourceID   string
	Approach   string
	Learnings string
	Timestamp time.Time
}

// Entry is the persisted row: Knowledge plus the repository-assigned id,
// optional owning agent, and the optional classification fields callers can
// supply at store time.
type Entry struct {
	ID              string
	AgentID         *string
	KnowledgeType   Type
	Approach        string
	Learnings       string
	Timestamp       time.Time
	TaskType        *string
	ComplexityLevel *string
	SourceID        string
}

// WithScore pairs an Entry with a caller-computed relevance score; the
// repository itself never assigns scores, leaving that to the caller's
// own scoring policy.
type WithScore struct {
	Entry          Entry
	RelevanceScore float64
}

// DatabaseError wraps a persistence.Store failure.
type DatabaseError struct{ Cause error }

func (e *DatabaseError) Error() string { return fmt.Sprintf("database error: %v", e.Cause) }
func (e *DatabaseError) Unwrap() error { return e.Cause }

// NotFound reports a missing knowledge entry id.
type NotFound struct{ ID string }

func (e *NotFound) Error() string { return fmt.Sprintf("knowledge entry not found: %s", e.ID) }

// Repository is the KnowledgeRepository.
type Repository struct {
	store *persistence.Store
	clock ids.Clock
}

// New returns a Repository over store.
func New(store *persistence.Store, clock ids.Clock) *Repository {
	return &Repository{store: store, clock: clock}
}

// StoreKnowledge writes a new entry and its tag-relation rows. Re-storing
// the same logical fact always produces a new entry id; there is no update.
func (r *Repository) StoreKnowledge(ctx context.Context, k Knowledge, agentID *string, tags []string, taskType, complexityLevel *string) (*Entry, error) {
	e := &Entry{
		ID:              ids.New(),
		AgentID:         agentID,
		KnowledgeType:   k.Type,
		Approach:        k.Approach,
		Learnings:       k.Learnings,
		Timestamp:       k.Timestamp,
		TaskType:        taskType,
		ComplexityLevel: complexityLevel,
		SourceID:        k.SourceID,
	}

	err := persistence.RetryOnBusy(ctx, func() error {
		tx, err := r.store.DB().BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		idCol := sourceColumn(k.Type)
		query := fmt.Sprintf(`
			INSERT INTO knowledge_entry (id, agent_id, knowledge_type, approach, learnings, timestamp,
				task_type, complexity_level, source_id, %s)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
		`, idCol)
		if _, err := tx.ExecContext(ctx, query,
			e.ID, nullableString(e.AgentID), string(e.KnowledgeType), e.Approach, e.Learnings, e.Timestamp.UnixMilli(),
			nullableString(e.TaskType), nullableString(e.ComplexityLevel), e.SourceID, e.SourceID,
		); err != nil {
			return err
		}
		for _, tag := range tags {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO knowledge_tag (knowledge_id, tag) VALUES (?, ?);
			`, e.ID, tag); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, &DatabaseError{Cause: err}
	}
	return e, nil
}

// GetKnowledgeByID loads a single entry.
func (r *Repository) GetKnowledgeByID(ctx context.Context, id string) (*Entry, error) {
	row := r.store.DB().QueryRowContext(ctx, baseSelect+` WHERE id = ?;`, id)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, &NotFound{ID: id}
	}
	if err != nil {
		return nil, &DatabaseError{Cause: err}
	}
	return e, nil
}

// FindKnowledgeByType returns entries of a given Type, newest first.
func (r *Repository) FindKnowledgeByType(ctx context.Context, t Type) ([]*Entry, error) {
	return r.queryEntries(ctx, baseSelect+` WHERE knowledge_type = ? ORDER BY timestamp DESC, id;`, string(t))
}

// FindKnowledgeByTaskType returns entries matching a task type, newest first.
func (r *Repository) FindKnowledgeByTaskType(ctx context.Context, taskType string) ([]*Entry, error) {
	return r.queryEntries(ctx, baseSelect+` WHERE task_type = ? ORDER BY timestamp DESC, id;`, taskType)
}

// FindKnowledgeByTag returns entries carrying tag, newest first.
func (r *Repository) FindKnowledgeByTag(ctx context.Context, tag string) ([]*Entry, error) {
	return r.queryEntries(ctx, baseSelect+`
		WHERE id IN (SELECT knowledge_id FROM knowledge_tag WHERE tag = ?)
		ORDER BY timestamp DESC, id;
	`, tag)
}

// FindKnowledgeByTags OR-matches across tags, newest first, de-duplicated.
func (r *Repository) FindKnowledgeByTags(ctx context.Context, tags []string) ([]*Entry, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(tags)), ",")
	args := make([]any, len(tags))
	for i, t := range tags {
		args[i] = t
	}
	query := baseSelect + fmt.Sprintf(`
		WHERE id IN (SELECT knowledge_id FROM knowledge_tag WHERE tag IN (%s))
		ORDER BY timestamp DESC, id;
	`, placeholders)
	return r.queryEntries(ctx, query, args...)
}

// FindKnowledgeByTimeRange returns entries with from <= timestamp <= to
// (inclusive both ends), descending.
func (r *Repository) FindKnowledgeByTimeRange(ctx context.Context, from, to time.Time) ([]*Entry, error) {
	return r.queryEntries(ctx, baseSelect+`
		WHERE timestamp >= ? AND timestamp <= ? ORDER BY timestamp DESC, id;
	`, from.UnixMilli(), to.UnixMilli())
}

// FindSimilarKnowledge tokenizes query, returns entries whose approach or
// learnings contain at least one token (case-insensitive), ranked by token
// coverage then recency, honoring limit.
func (r *Repository) FindSimilarKnowledge(ctx context.Context, query string, limit int) ([]WithScore, error) {
	tokens := tokenize(query)
	if len(tokens) == 0 {
		return nil, nil
	}
	all, err := r.queryEntries(ctx, baseSelect+` ORDER BY timestamp DESC, id;`)
	if err != nil {
		return nil, err
	}

	var scored []WithScore
	for _, e := range all {
		haystack := strings.ToLower(e.Approach + " " + e.Learnings)
		matched := 0
		for _, tok := range tokens {
			if strings.Contains(haystack, tok) {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		coverage := float64(matched) / float64(len(tokens))
		scored = append(scored, WithScore{Entry: *e, RelevanceScore: coverage})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].RelevanceScore != scored[j].RelevanceScore {
			return scored[i].RelevanceScore > scored[j].RelevanceScore
		}
		return scored[i].Entry.Timestamp.After(scored[j].Entry.Timestamp)
	})
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

// ContextFilter is the set of AND-combined filters SearchKnowledgeByContext
// accepts; tags is OR-matched within itself. Nil fields are ignored.
type ContextFilter struct {
	KnowledgeType   *Type
	TaskType        *string
	Tags            []string
	ComplexityLevel *string
	From            *time.Time
	To              *time.Time
	Limit           int
}

// SearchKnowledgeByContext ANDs across every non-nil filter; tags use OR
// within the set. Results are sorted by timestamp descending, id ascending.
func (r *Repository) SearchKnowledgeByContext(ctx context.Context, f ContextFilter) ([]*Entry, error) {
	clauses := []string{}
	args := []any{}

	if f.KnowledgeType != nil {
		clauses = append(clauses, "knowledge_type = ?")
		args = append(args, string(*f.KnowledgeType))
	}
	if f.TaskType != nil {
		clauses = append(clauses, "task_type = ?")
		args = append(args, *f.TaskType)
	}
	if f.ComplexityLevel != nil {
		clauses = append(clauses, "complexity_level = ?")
		args = append(args, *f.ComplexityLevel)
	}
	if f.From != nil {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, f.From.UnixMilli())
	}
	if f.To != nil {
		clauses = append(clauses, "timestamp <= ?")
		args = append(args, f.To.UnixMilli())
	}
	if len(f.Tags) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(f.Tags)), ",")
		clauses = append(clauses, fmt.Sprintf("id IN (SELECT knowledge_id FROM knowledge_tag WHERE tag IN (%s))", placeholders))
		for _, tag := range f.Tags {
			args = append(args, tag)
		}
	}

	query := baseSelect
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY timestamp DESC, id"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	query += ";"

	return r.queryEntries(ctx, query, args...)
}

// GetTagsForKnowledge returns the tag set stored for a given entry.
func (r *Repository) GetTagsForKnowledge(ctx context.Context, id string) ([]string, error) {
	rows, err := r.store.DB().QueryContext(ctx, `SELECT tag FROM knowledge_tag WHERE knowledge_id = ? ORDER BY tag;`, id)
	if err != nil {
		return nil, &DatabaseError{Cause: err}
	}
	defer rows.Close()
	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, &DatabaseError{Cause: err}
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

// PruneOlderThan deletes entries (and their tag rows) timestamped before
// horizon, returning the number of entries removed. Knowledge has no
// terminal/non-terminal distinction the way tickets do, so age is the only
// criterion.
func (r *Repository) PruneOlderThan(ctx context.Context, horizon time.Time) (int, error) {
	var n int64
	err := persistence.RetryOnBusy(ctx, func() error {
		tx, err := r.store.DB().BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `
			DELETE FROM knowledge_tag
			WHERE knowledge_id IN (SELECT id FROM knowledge_entry WHERE timestamp < ?);
		`, horizon.UnixMilli()); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM knowledge_entry WHERE timestamp < ?;`, horizon.UnixMilli())
		if err != nil {
			return err
		}
		if n, err = res.RowsAffected(); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, &DatabaseError{Cause: err}
	}
	return int(n), nil
}

const baseSelect = `
	SELECT id, agent_id, knowledge_type, approach, learnings, timestamp, task_type, complexity_level, source_id
	FROM knowledge_entry`

func (r *Repository) queryEntries(ctx context.Context, query string, args ...any) ([]*Entry, error) {
	rows, err := r.store.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &DatabaseError{Cause: err}
	}
	defer rows.Close()
	var out []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, &DatabaseError{Cause: err}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*Entry, error) {
	var (
		e                         Entry
		agentID, taskType, cplx   sql.NullString
		knowledgeType             string
		millis                    int64
	)
	if err := row.Scan(&e.ID, &agentID, &knowledgeType, &e.Approach, &e.Learnings, &millis, &taskType, &cplx, &e.SourceID); err != nil {
		return nil, err
	}
	e.KnowledgeType = Type(knowledgeType)
	e.Timestamp = time.UnixMilli(millis)
	if agentID.Valid {
		v := agentID.String
		e.AgentID = &v
	}
	if taskType.Valid {
		v := taskType.String
		e.TaskType = &v
	}
	if cplx.Valid {
		v := cplx.String
		e.ComplexityLevel = &v
	}
	return &e, nil
}

func sourceColumn(t Type) string {
	switch t {
	case TypeFromIdea:
		return "idea_id"
	case TypeFromOutcome:
		return "outcome_id"
	case TypeFromPerception:
		return "perception_id"
	case TypeFromPlan:
		return "plan_id"
	case TypeFromTask:
		return "task_id"
	default:
		return "task_id"
	}
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func tokenize(s string) []string {
	lower := strings.ToLower(s)
	fields := strings.FieldsFunc(lower, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	seen := make(map[string]struct{}, len(fields))
	var out []string
	for _, f := range fields {
		if f == "" {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}
