package model

import "time"

// SessionStatus is how a session ended.
type SessionStatus string

const (
	SessionCompleted  SessionStatus = "completed"   // ran out of questions normally
	SessionEndedEarly SessionStatus = "ended_early" // remote stopped answering
	SessionAborted    SessionStatus = "aborted"     // could not start
)

// GuessRecord is the narrative of one question.
type GuessRecord struct {
	QuestionID   QuestionID `json:"questionId"`
	Fingerprint  string     `json:"fingerprint,omitempty"`
	Known        Identity   `json:"known,omitempty"`
	Source       string     `json:"source,omitempty"` // precache, lookup, fallback
	SuggestionID string     `json:"suggestionId,omitempty"`
	Suggestion   string     `json:"suggestion,omitempty"`
	Correct      bool       `json:"correct"`
	Score        int        `json:"score"`
	Error        string     `json:"error,omitempty"`
}

// SessionOutcome summarizes one played session.
type SessionOutcome struct {
	SessionID SessionID     `json:"sessionId,omitempty"`
	Status    SessionStatus `json:"status"`
	Score     int           `json:"score"`
	Correct   int           `json:"correct"`
	Guesses   int           `json:"guesses"`
	Failures  int           `json:"failures"`
	Learned   int           `json:"learned"`
	Questions []GuessRecord `json:"questions,omitempty"`
	Log       []string      `json:"log,omitempty"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Started reports whether the session was created remotely.
func (o SessionOutcome) Started() bool { return o.Status != SessionAborted }

// BatchOutcome aggregates a sequential run of sessions.
type BatchOutcome struct {
	RunID         string           `json:"runId"`
	Requested     int              `json:"requested"`
	Attempted     int              `json:"attempted"`
	Started       int              `json:"started"`   // sessions created remotely, whatever their ending
	Completed     int              `json:"completed"` // sessions that ran out of questions normally
	EndedEarly    int              `json:"endedEarly"`
	Aborted       int              `json:"aborted"`
	TotalScore    int              `json:"totalScore"`
	Correct       int              `json:"correct"`
	Guesses       int              `json:"guesses"`
	SessionScores []int            `json:"sessionScores"`
	BestSession   int              `json:"bestSession"` // index into Sessions, -1 when none started
	Sessions      []SessionOutcome `json:"sessions"`
	Log           []string         `json:"log"`
	PersistError  string           `json:"persistError,omitempty"`
	Cancelled     bool             `json:"cancelled,omitempty"`
	Duration      time.Duration    `json:"duration"`
}

// Accuracy is the share of correct guesses, 0 when nothing was guessed.
func (b BatchOutcome) Accuracy() float64 {
	if b.Guesses == 0 {
		return 0
	}
	return float64(b.Correct) / float64(b.Guesses)
}

// BestScore returns the best session score, 0 when none.
func (b BatchOutcome) BestScore() int {
	if b.BestSession < 0 || b.BestSession >= len(b.Sessions) {
		return 0
	}
	return b.Sessions[b.BestSession].Score
}
