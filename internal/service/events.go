package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/sakif/captured-thinkings/internal/model"
)

// Publisher delivers change events to realtime subscribers.
// realtime.Broker satisfies it.
type Publisher interface {
	Publish(ctx context.Context, ev model.ChangeEvent) error
}

// publish emits a change event. A failed publish is logged and swallowed:
// the write it describes has already committed.
func publish(ctx context.Context, pub Publisher, logger *slog.Logger, relation string, typ model.ChangeType, record any) {
	if pub == nil {
		return
	}
	raw, err := json.Marshal(record)
	if err != nil {
		logger.Error("encoding change event", "relation", relation, "error", err)
		return
	}
	ev := model.ChangeEvent{
		Relation:        relation,
		Type:            typ,
		Record:          raw,
		CommitTimestamp: time.Now().UTC(),
	}
	if err := pub.Publish(ctx, ev); err != nil {
		logger.Warn("publishing change event", "relation", relation, "type", typ, "error", err)
	}
}
