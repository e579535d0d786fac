package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RiskEventsChannel is the redis channel risk events are published on
const RiskEventsChannel = "risk_events"

// EventType names a ledger event
type EventType string

const (
	EventTradeExecuted    EventType = "trade_executed"
	EventTradeRejected    EventType = "trade_rejected"
	EventTradeClosed      EventType = "trade_closed"
	EventAccountLocked    EventType = "account_locked"
	EventAccountUnlocked  EventType = "account_unlocked"
	EventWindowRolledOver EventType = "window_rolled_over"
)

// RiskEvent is published after a ledger change commits
type RiskEvent struct {
	Type      EventType `json:"type"`
	AccountID uint      `json:"account_id"`
	TradeID   string    `json:"trade_id,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Version   int64     `json:"version"`
	At        time.Time `json:"at"`
}

// EventPublisher fans out committed ledger events. Publishing is best effort
// and never affects the outcome of the operation that produced the event.
type EventPublisher interface {
	Publish(ctx context.Context, event RiskEvent)
}

// NopPublisher discards events
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, RiskEvent) {}

// RedisEventPublisher publishes events as JSON on a redis channel
type RedisEventPublisher struct {
	rdb     *redis.Client
	channel string
	log     *zap.Logger
}

// NewRedisEventPublisher creates a publisher on RiskEventsChannel
func NewRedisEventPublisher(rdb *redis.Client, log *zap.Logger) *RedisEventPublisher {
	return &RedisEventPublisher{rdb: rdb, channel: RiskEventsChannel, log: log}
}

func (p *RedisEventPublisher) Publish(ctx context.Context, event RiskEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		p.log.Warn("marshal risk event", zap.Error(err))
		return
	}
	if err := p.rdb.Publish(ctx, p.channel, payload).Err(); err != nil {
		p.log.Warn("publish risk event",
			zap.String("type", string(event.Type)),
			zap.Uint("account_id", event.AccountID),
			zap.Error(err))
	}
}
