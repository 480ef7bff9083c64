package models

import "time"

// MemoryEntry is one stored question/answer summary used for recall.
// Keywords are the normalised tokens of the question plus answer summary.
type MemoryEntry struct {
	ID            string    `json:"id"`
	SessionKey    string    `json:"session_key"`
	Question      string    `json:"question"`
	AnswerSummary string    `json:"answer_summary"`
	Keywords      []string  `json:"keywords"`
	CreatedAt     time.Time `json:"created_at"`
}
