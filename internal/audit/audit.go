// Package audit records every coordinator attempt to a capped Redis stream.
// Writes are best-effort: an audit failure is logged and swallowed so it can
// never alter the outcome of the sponsored action it describes.
package audit

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// StreamKey is the append-only attempt trail.
	StreamKey = "sponsor:audit"
	// maxStreamLen bounds the trail; XADD trims approximately.
	maxStreamLen = 10000
)

// Record is one coordinator attempt. Metadata carries free-form operational
// context (sponsor address, chain id, nonce, operation kind, token id).
type Record struct {
	Action    string
	Status    string
	Recipient string
	Lock      string
	TxHash    string
	Error     string
	Metadata  map[string]string
}

type Log struct {
	rdb *redis.Client
	log *zap.Logger
}

func New(rdb *redis.Client, log *zap.Logger) *Log {
	return &Log{rdb: rdb, log: log}
}

// Write appends one record, fire-and-forget.
func (l *Log) Write(ctx context.Context, rec Record) {
	values := map[string]interface{}{
		"action":    rec.Action,
		"status":    rec.Status,
		"recipient": rec.Recipient,
		"lock":      rec.Lock,
	}
	if rec.TxHash != "" {
		values["tx_hash"] = rec.TxHash
	}
	if rec.Error != "" {
		values["error"] = rec.Error
	}
	for k, v := range rec.Metadata {
		values["meta_"+k] = v
	}

	err := l.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey,
		MaxLen: maxStreamLen,
		Approx: true,
		Values: values,
	}).Err()
	if err != nil {
		l.log.Warn("audit write failed",
			zap.String("action", rec.Action),
			zap.String("status", rec.Status),
			zap.Error(err),
		)
	}
}
