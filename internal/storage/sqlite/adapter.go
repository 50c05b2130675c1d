// Package sqlite persists routing state in a local SQLite database. It is
// the default backend and what the test suite runs against (:memory:).
package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"conversation-router/internal/assignment"
	"conversation-router/internal/common/errors"
	"conversation-router/internal/providers"
	"conversation-router/internal/routing"
	"conversation-router/internal/storage"
)

// Adapter implements storage.Storage on SQLite.
type Adapter struct {
	db   *sql.DB
	path string
}

// NewAdapter opens (creating if needed) the database and runs migrations.
func NewAdapter(cfg *Config) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.ConfigError(fmt.Sprintf("invalid sqlite config: %v", err))
	}

	db, err := sql.Open("sqlite3", cfg.DatabasePath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, errors.ConnectionError("failed to open sqlite database", err)
	}

	// SQLite serializes writers; one connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	adapter := &Adapter{db: db, path: cfg.DatabasePath}
	if err := adapter.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return adapter, nil
}

func (a *Adapter) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS routing_rules (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		priority INTEGER NOT NULL,
		conditions TEXT NOT NULL,
		target_provider_id TEXT NOT NULL,
		target_provider_type TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		description TEXT NOT NULL DEFAULT '',
		position INTEGER NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS providers (
		provider_id TEXT PRIMARY KEY,
		provider_type TEXT NOT NULL,
		available INTEGER NOT NULL DEFAULT 0,
		current_load INTEGER NOT NULL DEFAULT 0,
		max_capacity INTEGER NOT NULL DEFAULT 0,
		average_response_minutes INTEGER NOT NULL DEFAULT 0,
		specialties TEXT NOT NULL DEFAULT '[]',
		working_hours TEXT NOT NULL DEFAULT '{}'
	);

	CREATE TABLE IF NOT EXISTS conversations (
		conversation_id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL,
		current_provider_id TEXT NOT NULL,
		current_provider_type TEXT NOT NULL,
		routing_method TEXT NOT NULL,
		routing_reason TEXT NOT NULL DEFAULT '',
		routing_score REAL,
		can_transfer INTEGER NOT NULL DEFAULT 1,
		transfer_requested INTEGER NOT NULL DEFAULT 0,
		transfer_reason TEXT NOT NULL DEFAULT '',
		closed INTEGER NOT NULL DEFAULT 0,
		archived INTEGER NOT NULL DEFAULT 0,
		history TEXT NOT NULL DEFAULT '[]',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_conversations_client ON conversations(client_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_rules_position ON routing_rules(position);
	`

	if _, err := a.db.Exec(schema); err != nil {
		return errors.InternalError("failed to run sqlite migrations", err)
	}
	return nil
}

// Close closes the underlying database.
func (a *Adapter) Close() error {
	return a.db.Close()
}

// Health pings the database.
func (a *Adapter) Health() error {
	if err := a.db.Ping(); err != nil {
		return errors.ConnectionError("sqlite health check failed", err)
	}
	return nil
}

// SaveRule upserts a routing rule. New rules get the next position so that
// GetRules returns them in the order they were first saved; updates keep it.
func (a *Adapter) SaveRule(rule *routing.RouteRule) error {
	conditions, err := json.Marshal(rule.Conditions)
	if err != nil {
		return errors.InternalError("failed to encode rule conditions", err)
	}

	now := time.Now().UTC()
	createdAt := rule.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	_, err = a.db.Exec(`
		INSERT INTO routing_rules
			(id, name, priority, conditions, target_provider_id, target_provider_type,
			 active, description, position, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?,
			(SELECT COALESCE(MAX(position), 0) + 1 FROM routing_rules), ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			priority = excluded.priority,
			conditions = excluded.conditions,
			target_provider_id = excluded.target_provider_id,
			target_provider_type = excluded.target_provider_type,
			active = excluded.active,
			description = excluded.description,
			updated_at = excluded.updated_at`,
		rule.ID, rule.Name, rule.Priority, string(conditions),
		rule.TargetProviderID, string(rule.TargetProviderType),
		boolToInt(rule.Active), rule.Description, createdAt, now)
	if err != nil {
		return errors.InternalError(fmt.Sprintf("failed to save rule %s", rule.ID), err)
	}
	return nil
}

// GetRules returns all rules in first-saved order.
func (a *Adapter) GetRules() ([]*routing.RouteRule, error) {
	rows, err := a.db.Query(`
		SELECT id, name, priority, conditions, target_provider_id, target_provider_type,
		       active, description, created_at, updated_at
		FROM routing_rules ORDER BY position`)
	if err != nil {
		return nil, errors.InternalError("failed to query rules", err)
	}
	defer rows.Close()

	var rules []*routing.RouteRule
	for rows.Next() {
		var (
			rule         routing.RouteRule
			conditions   string
			providerType string
			active       int
		)
		if err := rows.Scan(&rule.ID, &rule.Name, &rule.Priority, &conditions,
			&rule.TargetProviderID, &providerType, &active, &rule.Description,
			&rule.CreatedAt, &rule.UpdatedAt); err != nil {
			return nil, errors.InternalError("failed to scan rule", err)
		}
		if err := json.Unmarshal([]byte(conditions), &rule.Conditions); err != nil {
			return nil, errors.InternalError(fmt.Sprintf("failed to decode conditions for rule %s", rule.ID), err)
		}
		rule.TargetProviderType = providers.ProviderType(providerType)
		rule.Active = active != 0
		rules = append(rules, &rule)
	}
	return rules, rows.Err()
}

// DeleteRule removes a rule by ID.
func (a *Adapter) DeleteRule(ruleID string) error {
	result, err := a.db.Exec(`DELETE FROM routing_rules WHERE id = ?`, ruleID)
	if err != nil {
		return errors.InternalError(fmt.Sprintf("failed to delete rule %s", ruleID), err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return errors.NotFoundError(fmt.Sprintf("rule %s", ruleID))
	}
	return nil
}

// SaveProvider upserts a provider record.
func (a *Adapter) SaveProvider(provider *providers.ProviderAvailability) error {
	specialties, err := json.Marshal(provider.Specialties)
	if err != nil {
		return errors.InternalError("failed to encode specialties", err)
	}
	workingHours, err := json.Marshal(provider.WorkingHours)
	if err != nil {
		return errors.InternalError("failed to encode working hours", err)
	}

	_, err = a.db.Exec(`
		INSERT INTO providers
			(provider_id, provider_type, available, current_load, max_capacity,
			 average_response_minutes, specialties, working_hours)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider_id) DO UPDATE SET
			provider_type = excluded.provider_type,
			available = excluded.available,
			current_load = excluded.current_load,
			max_capacity = excluded.max_capacity,
			average_response_minutes = excluded.average_response_minutes,
			specialties = excluded.specialties,
			working_hours = excluded.working_hours`,
		provider.ProviderID, string(provider.ProviderType), boolToInt(provider.Available),
		provider.CurrentLoad, provider.MaxCapacity, provider.AverageResponseMinutes,
		string(specialties), string(workingHours))
	if err != nil {
		return errors.InternalError(fmt.Sprintf("failed to save provider %s", provider.ProviderID), err)
	}
	return nil
}

// GetProviders returns every known provider, sorted by ID.
func (a *Adapter) GetProviders() ([]*providers.ProviderAvailability, error) {
	rows, err := a.db.Query(`
		SELECT provider_id, provider_type, available, current_load, max_capacity,
		       average_response_minutes, specialties, working_hours
		FROM providers ORDER BY provider_id`)
	if err != nil {
		return nil, errors.InternalError("failed to query providers", err)
	}
	defer rows.Close()

	var result []*providers.ProviderAvailability
	for rows.Next() {
		var (
			p            providers.ProviderAvailability
			providerType string
			available    int
			specialties  string
			workingHours string
		)
		if err := rows.Scan(&p.ProviderID, &providerType, &available, &p.CurrentLoad,
			&p.MaxCapacity, &p.AverageResponseMinutes, &specialties, &workingHours); err != nil {
			return nil, errors.InternalError("failed to scan provider", err)
		}
		if err := json.Unmarshal([]byte(specialties), &p.Specialties); err != nil {
			return nil, errors.InternalError(fmt.Sprintf("failed to decode specialties for %s", p.ProviderID), err)
		}
		if err := json.Unmarshal([]byte(workingHours), &p.WorkingHours); err != nil {
			return nil, errors.InternalError(fmt.Sprintf("failed to decode working hours for %s", p.ProviderID), err)
		}
		p.ProviderType = providers.ProviderType(providerType)
		p.Available = available != 0
		result = append(result, &p)
	}
	return result, rows.Err()
}

// SaveConversation upserts the full conversation aggregate, history included.
func (a *Adapter) SaveConversation(conv *assignment.ConversationRouting) error {
	history, err := json.Marshal(conv.History)
	if err != nil {
		return errors.InternalError("failed to encode history", err)
	}

	var score sql.NullFloat64
	if conv.RoutingScore != nil {
		score = sql.NullFloat64{Float64: *conv.RoutingScore, Valid: true}
	}

	_, err = a.db.Exec(`
		INSERT INTO conversations
			(conversation_id, client_id, current_provider_id, current_provider_type,
			 routing_method, routing_reason, routing_score, can_transfer,
			 transfer_requested, transfer_reason, closed, history, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
			current_provider_id = excluded.current_provider_id,
			current_provider_type = excluded.current_provider_type,
			routing_method = excluded.routing_method,
			routing_reason = excluded.routing_reason,
			routing_score = excluded.routing_score,
			can_transfer = excluded.can_transfer,
			transfer_requested = excluded.transfer_requested,
			transfer_reason = excluded.transfer_reason,
			closed = excluded.closed,
			history = excluded.history,
			updated_at = excluded.updated_at`,
		conv.ConversationID, conv.ClientID, conv.CurrentProviderID,
		string(conv.CurrentProviderType), string(conv.RoutingMethod),
		conv.RoutingReason, score, boolToInt(conv.CanTransfer),
		boolToInt(conv.TransferRequested), conv.TransferReason,
		boolToInt(conv.Closed), string(history), conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		return errors.InternalError(fmt.Sprintf("failed to save conversation %s", conv.ConversationID), err)
	}
	return nil
}

// GetConversation loads a conversation by ID, archived ones included.
func (a *Adapter) GetConversation(conversationID string) (*assignment.ConversationRouting, error) {
	row := a.db.QueryRow(`
		SELECT conversation_id, client_id, current_provider_id, current_provider_type,
		       routing_method, routing_reason, routing_score, can_transfer,
		       transfer_requested, transfer_reason, closed, history, created_at, updated_at
		FROM conversations WHERE conversation_id = ?`, conversationID)

	conv, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundError(fmt.Sprintf("conversation %s", conversationID))
	}
	if err != nil {
		return nil, errors.InternalError(fmt.Sprintf("failed to load conversation %s", conversationID), err)
	}
	return conv, nil
}

// ListConversationsByClient pages through a client's conversations,
// newest first.
func (a *Adapter) ListConversationsByClient(clientID string, limit, offset int) ([]*assignment.ConversationRouting, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := a.db.Query(`
		SELECT conversation_id, client_id, current_provider_id, current_provider_type,
		       routing_method, routing_reason, routing_score, can_transfer,
		       transfer_requested, transfer_reason, closed, history, created_at, updated_at
		FROM conversations WHERE client_id = ?
		ORDER BY created_at DESC LIMIT ? OFFSET ?`, clientID, limit, offset)
	if err != nil {
		return nil, errors.InternalError("failed to query conversations", err)
	}
	defer rows.Close()

	var result []*assignment.ConversationRouting
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, errors.InternalError("failed to scan conversation", err)
		}
		result = append(result, conv)
	}
	return result, rows.Err()
}

// ArchiveConversation marks a conversation archived. The row and its history
// are kept.
func (a *Adapter) ArchiveConversation(conversationID string) error {
	result, err := a.db.Exec(`
		UPDATE conversations SET archived = 1, updated_at = ?
		WHERE conversation_id = ?`, time.Now().UTC(), conversationID)
	if err != nil {
		return errors.InternalError(fmt.Sprintf("failed to archive conversation %s", conversationID), err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return errors.NotFoundError(fmt.Sprintf("conversation %s", conversationID))
	}
	return nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanConversation(s scanner) (*assignment.ConversationRouting, error) {
	var (
		conv              assignment.ConversationRouting
		providerType      string
		method            string
		score             sql.NullFloat64
		canTransfer       int
		transferRequested int
		closed            int
		history           string
	)
	if err := s.Scan(&conv.ConversationID, &conv.ClientID, &conv.CurrentProviderID,
		&providerType, &method, &conv.RoutingReason, &score, &canTransfer,
		&transferRequested, &conv.TransferReason, &closed, &history,
		&conv.CreatedAt, &conv.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(history), &conv.History); err != nil {
		return nil, fmt.Errorf("failed to decode history: %w", err)
	}
	conv.CurrentProviderType = providers.ProviderType(providerType)
	conv.RoutingMethod = assignment.RoutingMethod(method)
	if score.Valid {
		v := score.Float64
		conv.RoutingScore = &v
	}
	conv.CanTransfer = canTransfer != 0
	conv.TransferRequested = transferRequested != 0
	conv.Closed = closed != 0
	return &conv, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ storage.Storage = (*Adapter)(nil)
