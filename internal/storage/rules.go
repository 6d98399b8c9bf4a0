package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ledgerhound/ledgerhound/internal/common"
	"github.com/ledgerhound/ledgerhound/internal/model"
	"github.com/ledgerhound/ledgerhound/internal/service"
)

const ruleColumns = `id, owner_id, name, enabled, priority, conditions, action,
	source, match_count, last_matched_at, created_at, updated_at`

// CreateRule persists a rule. The quota check lives in the rule service;
// the store only writes.
func (s *SQLiteStorage) CreateRule(ctx context.Context, rule *model.Rule) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if rule == nil {
		return common.Validationf("rule must not be nil")
	}
	if err := validateString(rule.ID, "rule.ID"); err != nil {
		return err
	}
	if err := validateString(rule.OwnerID, "rule.OwnerID"); err != nil {
		return err
	}

	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	condJSON, err := json.Marshal(rule.Conditions)
	if err != nil {
		return fmt.Errorf("failed to marshal rule conditions: %w", err)
	}
	actionJSON, err := json.Marshal(rule.Action)
	if err != nil {
		return fmt.Errorf("failed to marshal rule action: %w", err)
	}

	_, err = s.q.ExecContext(ctx, `
		INSERT INTO rules (`+ruleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rule.ID, rule.OwnerID, rule.Name, rule.Enabled, rule.Priority,
		string(condJSON), string(actionJSON), string(rule.Source),
		rule.MatchCount, nullTimePtr(rule.LastMatchedAt),
		rule.CreatedAt, rule.UpdatedAt)
	if err != nil {
		return mapSQLiteErr(err, "create rule")
	}
	return nil
}

// GetRule retrieves a rule by id within the owner scope.
func (s *SQLiteStorage) GetRule(ctx context.Context, ownerID, id string) (*model.Rule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(ownerID, "ownerID"); err != nil {
		return nil, err
	}

	rows, err := s.q.QueryContext(ctx, `
		SELECT `+ruleColumns+` FROM rules WHERE id = ? AND owner_id = ?
	`, id, ownerID)
	if err != nil {
		return nil, mapSQLiteErr(err, "get rule")
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, mapSQLiteErr(err, "get rule")
		}
		return nil, common.NotFoundf("rule")
	}
	return scanRule(rows)
}

// ListRules returns the owner's rules in evaluation order: priority
// descending, then creation time, then id. Ties never reorder between runs.
func (s *SQLiteStorage) ListRules(ctx context.Context, ownerID string, enabledOnly bool) ([]model.Rule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(ownerID, "ownerID"); err != nil {
		return nil, err
	}

	query := `SELECT ` + ruleColumns + ` FROM rules WHERE owner_id = ?`
	if enabledOnly {
		query += ` AND enabled = 1`
	}
	query += ` ORDER BY priority DESC, created_at ASC, id ASC`

	rows, err := s.q.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, mapSQLiteErr(err, "list rules")
	}
	defer func() { _ = rows.Close() }()

	rules := make([]model.Rule, 0)
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, mapSQLiteErr(err, "iterate rules")
	}
	return rules, nil
}

// UpdateRule applies a partial update and returns the stored rule.
func (s *SQLiteStorage) UpdateRule(ctx context.Context, ownerID, id string, update service.RuleUpdate) (*model.Rule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rule, err := s.GetRule(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	if update.Name != nil {
		rule.Name = *update.Name
	}
	if update.Enabled != nil {
		rule.Enabled = *update.Enabled
	}
	if update.Priority != nil {
		rule.Priority = *update.Priority
	}
	if update.Conditions != nil {
		rule.Conditions = *update.Conditions
	}
	if update.Action != nil {
		rule.Action = *update.Action
	}
	rule.UpdatedAt = time.Now().UTC()

	condJSON, err := json.Marshal(rule.Conditions)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rule conditions: %w", err)
	}
	actionJSON, err := json.Marshal(rule.Action)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rule action: %w", err)
	}

	res, err := s.q.ExecContext(ctx, `
		UPDATE rules SET name = ?, enabled = ?, priority = ?, conditions = ?,
			action = ?, updated_at = ?
		WHERE id = ? AND owner_id = ?
	`, rule.Name, rule.Enabled, rule.Priority, string(condJSON),
		string(actionJSON), rule.UpdatedAt, id, ownerID)
	if err != nil {
		return nil, mapSQLiteErr(err, "update rule")
	}
	if err := requireAffected(res, "rule"); err != nil {
		return nil, err
	}
	return rule, nil
}

// DeleteRule removes a rule.
func (s *SQLiteStorage) DeleteRule(ctx context.Context, ownerID, id string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	res, err := s.q.ExecContext(ctx,
		`DELETE FROM rules WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return mapSQLiteErr(err, "delete rule")
	}
	return requireAffected(res, "rule")
}

// CountRules counts all rules the owner has, enabled or not. Used to
// enforce the per-owner quota.
func (s *SQLiteStorage) CountRules(ctx context.Context, ownerID string) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}

	var count int
	err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM rules WHERE owner_id = ?`, ownerID).Scan(&count)
	if err != nil {
		return 0, mapSQLiteErr(err, "count rules")
	}
	return count, nil
}

// SetRulePriorities rewrites the priorities of several rules at once, all
// within one transaction. Unknown ids fail the whole batch.
func (s *SQLiteStorage) SetRulePriorities(ctx context.Context, ownerID string, priorities map[string]int) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if len(priorities) == 0 {
		return nil
	}

	return s.RunInTransaction(ctx, func(tx service.Storage) error {
		st, ok := tx.(*SQLiteStorage)
		if !ok {
			return fmt.Errorf("unexpected storage type in transaction")
		}
		now := time.Now().UTC()
		for id, priority := range priorities {
			res, err := st.q.ExecContext(ctx, `
				UPDATE rules SET priority = ?, updated_at = ?
				WHERE id = ? AND owner_id = ?
			`, priority, now, id, ownerID)
			if err != nil {
				return mapSQLiteErr(err, "set rule priority")
			}
			if err := requireAffected(res, "rule"); err != nil {
				return err
			}
		}
		return nil
	})
}

// BumpRuleStats advances a rule's match counter and last-matched timestamp.
// Best-effort telemetry; callers may ignore the error.
func (s *SQLiteStorage) BumpRuleStats(ctx context.Context, ownerID, id string, matchedAt time.Time) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	_, err := s.q.ExecContext(ctx, `
		UPDATE rules SET match_count = match_count + 1, last_matched_at = ?
		WHERE id = ? AND owner_id = ?
	`, matchedAt.UTC(), id, ownerID)
	if err != nil {
		return mapSQLiteErr(err, "bump rule stats")
	}
	return nil
}

func scanRule(rows *sql.Rows) (*model.Rule, error) {
	var r model.Rule
	var condJSON, actionJSON string
	var lastMatched sql.NullTime

	err := rows.Scan(&r.ID, &r.OwnerID, &r.Name, &r.Enabled, &r.Priority,
		&condJSON, &actionJSON, (*string)(&r.Source), &r.MatchCount,
		&lastMatched, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, mapSQLiteErr(err, "scan rule")
	}

	if err := json.Unmarshal([]byte(condJSON), &r.Conditions); err != nil {
		return nil, fmt.Errorf("failed to decode rule conditions: %w", err)
	}
	if err := json.Unmarshal([]byte(actionJSON), &r.Action); err != nil {
		return nil, fmt.Errorf("failed to decode rule action: %w", err)
	}
	if lastMatched.Valid {
		t := lastMatched.Time
		r.LastMatchedAt = &t
	}
	return &r, nil
}
