package model

import (
	"encoding/json"
	"time"
)

// Comment is a reader's reply to a poem. Comments are created and deleted,
// never edited in place.
type Comment struct {
	ID        string    `json:"id"         db:"id"`
	PoemID    string    `json:"poem_id"    db:"poem_id"`
	UserID    string    `json:"user_id"    db:"user_id"`
	Content   string    `json:"content"    db:"content"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Like is identified by the (PoemID, UserID) pair: the row existing means
// "liked", its absence means "not liked".
type Like struct {
	PoemID    string    `json:"poem_id"    db:"poem_id"`
	UserID    string    `json:"user_id"    db:"user_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Relation names, shared by the REST paths and the realtime feed.
const (
	RelationPoems    = "poems"
	RelationLikes    = "poem_likes"
	RelationComments = "poem_comments"
)

// ChangeType is the kind of row change carried by a ChangeEvent.
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// ChangeEvent is a realtime notification that a row of Relation changed.
// Record carries the new row (or the deleted one for DELETE) as raw JSON.
type ChangeEvent struct {
	Relation        string          `json:"relation"`
	Type            ChangeType      `json:"type"`
	Record          json.RawMessage `json:"record,omitempty"`
	CommitTimestamp time.Time       `json:"commit_timestamp"`
}
