package quota

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/siteagent/siteagent/internal/database"
	"github.com/siteagent/siteagent/internal/monitoring"
)

// Quota errors
var (
	ErrQuotaExhausted = errors.New("message quota exhausted")
	ErrNoPlan         = errors.New("no plan found for user")
)

// Manager enforces per-owner monthly message quotas. Redis holds the hot
// remaining-message counter; Postgres user_plans is the durable record and
// is synced asynchronously after each increment.
type Manager struct {
	db    *pgxpool.Pool
	redis *database.Redis
}

// NewManager creates a quota manager.
func NewManager(db *pgxpool.Pool, redis *database.Redis) *Manager {
	return &Manager{db: db, redis: redis}
}

// Lua script for reading the remaining allowance without consuming it.
// Returns remaining, or -1 when the key is not cached.
const luaCheckQuota = `
local current = redis.call('GET', KEYS[1])
if not current then
    return -1
end
return tonumber(current)
`

// Lua script for atomically consuming one message from the allowance.
// Returns the new remaining count, or -1 when the key is not cached.
const luaConsumeMessage = `
local current = redis.call('GET', KEYS[1])
if not current then
    return -1
end
current = tonumber(current)
if current > 0 then
    current = current - 1
end
redis.call('SET', KEYS[1], current)
return current
`

// CanSendMessage reports whether the chatbot owner has remaining allowance.
// The check happens before any model work so exhausted tenants fail fast.
func (m *Manager) CanSendMessage(ctx context.Context, userID uuid.UUID) error {
	key := quotaKey(userID)

	remaining, err := m.redis.Client.Eval(ctx, luaCheckQuota, []string{key}).Int64()
	if err != nil && err != redis.Nil {
		// Redis down must not take chat down; fall back to the database.
		remaining, err = m.remainingFromDB(ctx, userID)
		if err != nil {
			return err
		}
	} else if remaining < 0 {
		remaining, err = m.syncFromDB(ctx, userID)
		if err != nil {
			return err
		}
	}

	if remaining <= 0 {
		monitoring.Get().QuotaRejections.Inc()
		return ErrQuotaExhausted
	}
	return nil
}

// IncrementUsage consumes one message from the owner's allowance. Called
// only after a turn produced a deliverable answer, so failed turns are
// never billed.
func (m *Manager) IncrementUsage(ctx context.Context, userID uuid.UUID) error {
	key := quotaKey(userID)

	result, err := m.redis.Client.Eval(ctx, luaConsumeMessage, []string{key}).Int64()
	if err != nil && err != redis.Nil {
		log.Warn().Err(err).Str("user_id", userID.String()).Msg("Failed to consume quota in Redis")
	} else if result < 0 {
		if _, syncErr := m.syncFromDB(ctx, userID); syncErr == nil {
			_, _ = m.redis.Client.Eval(ctx, luaConsumeMessage, []string{key}).Int64()
		}
	}

	// Durable counter advances regardless of cache state.
	go m.syncUsageToDB(context.WithoutCancel(ctx), userID)
	return nil
}

func (m *Manager) remainingFromDB(ctx context.Context, userID uuid.UUID) (int64, error) {
	var allowance, used int64
	err := m.db.QueryRow(ctx, `
		SELECT p.monthly_messages, up.messages_used
		FROM user_plans up
		JOIN plans p ON p.id = up.plan_id
		WHERE up.user_id = $1
	`, userID).Scan(&allowance, &used)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrNoPlan, err)
	}
	return allowance - used, nil
}

// syncFromDB refreshes the Redis counter from the durable record.
func (m *Manager) syncFromDB(ctx context.Context, userID uuid.UUID) (int64, error) {
	remaining, err := m.remainingFromDB(ctx, userID)
	if err != nil {
		return 0, err
	}

	if err := m.redis.Client.Set(ctx, quotaKey(userID), remaining, 0).Err(); err != nil {
		log.Warn().Err(err).Str("user_id", userID.String()).Msg("Failed to cache quota in Redis")
	}
	return remaining, nil
}

func (m *Manager) syncUsageToDB(ctx context.Context, userID uuid.UUID) {
	_, err := m.db.Exec(ctx, `
		UPDATE user_plans
		SET messages_used = messages_used + 1, updated_at = NOW()
		WHERE user_id = $1
	`, userID)
	if err != nil {
		log.Error().Err(err).
			Str("user_id", userID.String()).
			Msg("Failed to sync message usage to database")
	}
}

func quotaKey(userID uuid.UUID) string {
	return fmt.Sprintf("quota:messages:%s", userID.String())
}
