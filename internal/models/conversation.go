package models

import "time"

// Round roles. Round 1 writes from scratch; rounds 2..N revise the
// previous draft against the previous review; every round is reviewed.
const (
	RoleWriter   = "writer"
	RoleModifier = "modifier"
	RoleReviewer = "reviewer"
)

// ConversationTask is the durable record of one generation run.
type ConversationTask struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Mode       string    `json:"mode"`
	Iterations int       `json:"iterations"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ConversationRound is one immutable prompt/response exchange.
type ConversationRound struct {
	ID        int64     `json:"id"`
	TaskID    string    `json:"task_id"`
	Round     int       `json:"round"`
	Role      string    `json:"role"`
	Prompt    string    `json:"prompt"`
	Response  string    `json:"response"`
	Timestamp time.Time `json:"timestamp"`
}

// RoundDetail groups the records of a single round by role.
type RoundDetail struct {
	Writer   *ConversationRound `json:"writer,omitempty"`
	Modifier *ConversationRound `json:"modifier,omitempty"`
	Reviewer *ConversationRound `json:"reviewer,omitempty"`
}
