// Package postgres persists routing state in PostgreSQL via pgx. Pick it in
// deployments where several router instances share one database.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"conversation-router/internal/assignment"
	"conversation-router/internal/common/errors"
	"conversation-router/internal/providers"
	"conversation-router/internal/routing"
	"conversation-router/internal/storage"
)

const opTimeout = 10 * time.Second

// Adapter implements storage.Storage on a pgx connection pool.
type Adapter struct {
	pool *pgxpool.Pool
}

// NewAdapter connects to the database and runs migrations.
func NewAdapter(cfg *Config) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.ConfigError(fmt.Sprintf("invalid postgres config: %v", err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		return nil, errors.ConnectionError("failed to connect to postgres", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.ConnectionError("failed to ping postgres", err)
	}

	adapter := &Adapter{pool: pool}
	if err := adapter.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return adapter, nil
}

func (a *Adapter) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS routing_rules (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		priority INTEGER NOT NULL,
		conditions JSONB NOT NULL,
		target_provider_id TEXT NOT NULL,
		target_provider_type TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		description TEXT NOT NULL DEFAULT '',
		position BIGSERIAL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS providers (
		provider_id TEXT PRIMARY KEY,
		provider_type TEXT NOT NULL,
		available BOOLEAN NOT NULL DEFAULT FALSE,
		current_load INTEGER NOT NULL DEFAULT 0,
		max_capacity INTEGER NOT NULL DEFAULT 0,
		average_response_minutes INTEGER NOT NULL DEFAULT 0,
		specialties JSONB NOT NULL DEFAULT '[]',
		working_hours JSONB NOT NULL DEFAULT '{}'
	);

	CREATE TABLE IF NOT EXISTS conversations (
		conversation_id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL,
		current_provider_id TEXT NOT NULL,
		current_provider_type TEXT NOT NULL,
		routing_method TEXT NOT NULL,
		routing_reason TEXT NOT NULL DEFAULT '',
		routing_score DOUBLE PRECISION,
		can_transfer BOOLEAN NOT NULL DEFAULT TRUE,
		transfer_requested BOOLEAN NOT NULL DEFAULT FALSE,
		transfer_reason TEXT NOT NULL DEFAULT '',
		closed BOOLEAN NOT NULL DEFAULT FALSE,
		archived BOOLEAN NOT NULL DEFAULT FALSE,
		history JSONB NOT NULL DEFAULT '[]',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_conversations_client ON conversations(client_id, created_at DESC);
	`

	if _, err := a.pool.Exec(ctx, schema); err != nil {
		return errors.InternalError("failed to run postgres migrations", err)
	}
	return nil
}

// Close releases the connection pool.
func (a *Adapter) Close() error {
	a.pool.Close()
	return nil
}

// Health pings the database.
func (a *Adapter) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := a.pool.Ping(ctx); err != nil {
		return errors.ConnectionError("postgres health check failed", err)
	}
	return nil
}

// SaveRule upserts a routing rule, preserving first-saved order via position.
func (a *Adapter) SaveRule(rule *routing.RouteRule) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	conditions, err := json.Marshal(rule.Conditions)
	if err != nil {
		return errors.InternalError("failed to encode rule conditions", err)
	}

	now := time.Now().UTC()
	createdAt := rule.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	_, err = a.pool.Exec(ctx, `
		INSERT INTO routing_rules
			(id, name, priority, conditions, target_provider_id, target_provider_type,
			 active, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			priority = EXCLUDED.priority,
			conditions = EXCLUDED.conditions,
			target_provider_id = EXCLUDED.target_provider_id,
			target_provider_type = EXCLUDED.target_provider_type,
			active = EXCLUDED.active,
			description = EXCLUDED.description,
			updated_at = EXCLUDED.updated_at`,
		rule.ID, rule.Name, rule.Priority, conditions,
		rule.TargetProviderID, string(rule.TargetProviderType),
		rule.Active, rule.Description, createdAt, now)
	if err != nil {
		return errors.InternalError(fmt.Sprintf("failed to save rule %s", rule.ID), err)
	}
	return nil
}

// GetRules returns all rules in first-saved order.
func (a *Adapter) GetRules() ([]*routing.RouteRule, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := a.pool.Query(ctx, `
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
			conditions   []byte
			providerType string
		)
		if err := rows.Scan(&rule.ID, &rule.Name, &rule.Priority, &conditions,
			&rule.TargetProviderID, &providerType, &rule.Active, &rule.Description,
			&rule.CreatedAt, &rule.UpdatedAt); err != nil {
			return nil, errors.InternalError("failed to scan rule", err)
		}
		if err := json.Unmarshal(conditions, &rule.Conditions); err != nil {
			return nil, errors.InternalError(fmt.Sprintf("failed to decode conditions for rule %s", rule.ID), err)
		}
		rule.TargetProviderType = providers.ProviderType(providerType)
		rules = append(rules, &rule)
	}
	return rules, rows.Err()
}

// DeleteRule removes a rule by ID.
func (a *Adapter) DeleteRule(ruleID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tag, err := a.pool.Exec(ctx, `DELETE FROM routing_rules WHERE id = $1`, ruleID)
	if err != nil {
		return errors.InternalError(fmt.Sprintf("failed to delete rule %s", ruleID), err)
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFoundError(fmt.Sprintf("rule %s", ruleID))
	}
	return nil
}

// SaveProvider upserts a provider record.
func (a *Adapter) SaveProvider(provider *providers.ProviderAvailability) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	specialties, err := json.Marshal(provider.Specialties)
	if err != nil {
		return errors.InternalError("failed to encode specialties", err)
	}
	workingHours, err := json.Marshal(provider.WorkingHours)
	if err != nil {
		return errors.InternalError("failed to encode working hours", err)
	}

	_, err = a.pool.Exec(ctx, `
		INSERT INTO providers
			(provider_id, provider_type, available, current_load, max_capacity,
			 average_response_minutes, specialties, working_hours)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (provider_id) DO UPDATE SET
			provider_type = EXCLUDED.provider_type,
			available = EXCLUDED.available,
			current_load = EXCLUDED.current_load,
			max_capacity = EXCLUDED.max_capacity,
			average_response_minutes = EXCLUDED.average_response_minutes,
			specialties = EXCLUDED.specialties,
			working_hours = EXCLUDED.working_hours`,
		provider.ProviderID, string(provider.ProviderType), provider.Available,
		provider.CurrentLoad, provider.MaxCapacity, provider.AverageResponseMinutes,
		specialties, workingHours)
	if err != nil {
		return errors.InternalError(fmt.Sprintf("failed to save provider %s", provider.ProviderID), err)
	}
	return nil
}

// GetProviders returns every known provider, sorted by ID.
func (a *Adapter) GetProviders() ([]*providers.ProviderAvailability, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := a.pool.Query(ctx, `
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
			specialties  []byte
			workingHours []byte
		)
		if err := rows.Scan(&p.ProviderID, &providerType, &p.Available, &p.CurrentLoad,
			&p.MaxCapacity, &p.AverageResponseMinutes, &specialties, &workingHours); err != nil {
			return nil, errors.InternalError("failed to scan provider", err)
		}
		if err := json.Unmarshal(specialties, &p.Specialties); err != nil {
			return nil, errors.InternalError(fmt.Sprintf("failed to decode specialties for %s", p.ProviderID), err)
		}
		if err := json.Unmarshal(workingHours, &p.WorkingHours); err != nil {
			return nil, errors.InternalError(fmt.Sprintf("failed to decode working hours for %s", p.ProviderID), err)
		}
		p.ProviderType = providers.ProviderType(providerType)
		result = append(result, &p)
	}
	return result, rows.Err()
}

// SaveConversation upserts the full conversation aggregate, history included.
func (a *Adapter) SaveConversation(conv *assignment.ConversationRouting) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	history, err := json.Marshal(conv.History)
	if err != nil {
		return errors.InternalError("failed to encode history", err)
	}

	_, err = a.pool.Exec(ctx, `
		INSERT INTO conversations
			(conversation_id, client_id, current_provider_id, current_provider_type,
			 routing_method, routing_reason, routing_score, can_transfer,
			 transfer_requested, transfer_reason, closed, history, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (conversation_id) DO UPDATE SET
			current_provider_id = EXCLUDED.current_provider_id,
			current_provider_type = EXCLUDED.current_provider_type,
			routing_method = EXCLUDED.routing_method,
			routing_reason = EXCLUDED.routing_reason,
			routing_score = EXCLUDED.routing_score,
			can_transfer = EXCLUDED.can_transfer,
			transfer_requested = EXCLUDED.transfer_requested,
			transfer_reason = EXCLUDED.transfer_reason,
			closed = EXCLUDED.closed,
			history = EXCLUDED.history,
			updated_at = EXCLUDED.updated_at`,
		conv.ConversationID, conv.ClientID, conv.CurrentProviderID,
		string(conv.CurrentProviderType), string(conv.RoutingMethod),
		conv.RoutingReason, conv.RoutingScore, conv.CanTransfer,
		conv.TransferRequested, conv.TransferReason, conv.Closed,
		history, conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		return errors.InternalError(fmt.Sprintf("failed to save conversation %s", conv.ConversationID), err)
	}
	return nil
}

// GetConversation loads a conversation by ID, archived ones included.
func (a *Adapter) GetConversation(conversationID string) (*assignment.ConversationRouting, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	row := a.pool.QueryRow(ctx, `
		SELECT conversation_id, client_id, current_provider_id, current_provider_type,
		       routing_method, routing_reason, routing_score, can_transfer,
		       transfer_requested, transfer_reason, closed, history, created_at, updated_at
		FROM conversations WHERE conversation_id = $1`, conversationID)

	conv, err := scanConversation(row)
	if err == pgx.ErrNoRows {
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
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 50
	}
	rows, err := a.pool.Query(ctx, `
		SELECT conversation_id, client_id, current_provider_id, current_provider_type,
		       routing_method, routing_reason, routing_score, can_transfer,
		       transfer_requested, transfer_reason, closed, history, created_at, updated_at
		FROM conversations WHERE client_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, clientID, limit, offset)
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
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tag, err := a.pool.Exec(ctx, `
		UPDATE conversations SET archived = TRUE, updated_at = $1
		WHERE conversation_id = $2`, time.Now().UTC(), conversationID)
	if err != nil {
		return errors.InternalError(fmt.Sprintf("failed to archive conversation %s", conversationID), err)
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFoundError(fmt.Sprintf("conversation %s", conversationID))
	}
	return nil
}

func scanConversation(row pgx.Row) (*assignment.ConversationRouting, error) {
	var (
		conv         assignment.ConversationRouting
		providerType string
		method       string
		history      []byte
	)
	if err := row.Scan(&conv.ConversationID, &conv.ClientID, &conv.CurrentProviderID,
		&providerType, &method, &conv.RoutingReason, &conv.RoutingScore,
		&conv.CanTransfer, &conv.TransferRequested, &conv.TransferReason,
		&conv.Closed, &history, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(history, &conv.History); err != nil {
		return nil, fmt.Errorf("failed to decode history: %w", err)
	}
	conv.CurrentProviderType = providers.ProviderType(providerType)
	conv.RoutingMethod = assignment.RoutingMethod(method)
	return &conv, nil
}

var _ storage.Storage = (*Adapter)(nil)
