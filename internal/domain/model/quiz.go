// Package model contains domain models passed between layers.
package model

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const hexDigits = "0123456789abcdef"

// Fingerprint is the lowercase hex SHA-256 digest of an image's raw bytes.
type Fingerprint string

// ParseFingerprint normalizes s and reports whether it is a hex digest.
func ParseFingerprint(s string) (Fingerprint, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", false
	}
	for _, r := range s {
		if !strings.ContainsRune(hexDigits, r) {
			return "", false
		}
	}
	return Fingerprint(s), true
}

func (f Fingerprint) String() string { return string(f) }

// Identity is the learned name of the person behind a fingerprint.
// Stored as received; compared case-insensitively.
type Identity string

func (i Identity) String() string { return string(i) }

// Empty reports whether the identity is blank.
func (i Identity) Empty() bool { return strings.TrimSpace(string(i)) == "" }

// Storable reports whether the identity can be kept as a key: it is not
// blank and holds no NUL byte, which separates key parts in the index.
func (i Identity) Storable() bool {
	return !i.Empty() && !strings.ContainsRune(string(i), 0)
}

// Matches reports whether name denotes the same identity ignoring case.
func (i Identity) Matches(name string) bool {
	// Casers are stateful and must not be shared between goroutines.
	fold := cases.Fold()
	return fold.String(strings.TrimSpace(string(i))) == fold.String(strings.TrimSpace(name))
}

// Letter is the key of the identity in the prefix index.
func (i Identity) Letter() string {
	s := strings.TrimSpace(string(i))
	if s == "" {
		return ""
	}
	r, _ := utf8.DecodeRuneInString(s)
	return cases.Lower(language.Und).String(string(r))
}

// NormalizeLetter lowers a user-supplied prefix letter to index form.
func NormalizeLetter(l string) string {
	return Identity(l).Letter()
}

// Association binds a fingerprint to an identity.
type Association struct {
	Fingerprint Fingerprint `json:"fingerprint"`
	Identity    Identity    `json:"identity"`
}

// SessionID identifies a remote game session.
type SessionID string

// QuestionID identifies a question within a session. Ids are sequential.
type QuestionID int64

// Suggestion is one answer candidate.
type Suggestion struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Question is one quiz item.
type Question struct {
	ID           QuestionID   `json:"id"`
	ImageLocator string       `json:"imageLocator"`
	Suggestions  []Suggestion `json:"suggestions"`
	// PlainSuggestions is set when the API sent bare names; guesses are then
	// submitted by value instead of by id.
	PlainSuggestions bool `json:"plainSuggestions"`
}

// SuggestionFor returns the candidate whose name matches identity.
func (q Question) SuggestionFor(identity Identity) (Suggestion, bool) {
	if identity.Empty() {
		return Suggestion{}, false
	}
	for _, s := range q.Suggestions {
		if identity.Matches(s.Name) {
			return s, true
		}
	}
	return Suggestion{}, false
}

// SuggestionByID returns the candidate with the given id.
func (q Question) SuggestionByID(id string) (Suggestion, bool) {
	for _, s := range q.Suggestions {
		if s.ID == id {
			return s, true
		}
	}
	return Suggestion{}, false
}

// Verdict is the API's authoritative answer to a guess.
type Verdict struct {
	ChosenSuggestionID  string   `json:"chosenSuggestionId"`
	CorrectSuggestionID string   `json:"correctSuggestionId,omitempty"`
	CorrectName         Identity `json:"correctName,omitempty"`
	Score               int      `json:"score"`
	Correct             bool     `json:"correct"`
}

// PrecacheEntry is the result of prefetching one question's picture.
// Identity is empty when the fingerprint is unknown.
type PrecacheEntry struct {
	QuestionID  QuestionID  `json:"questionId"`
	Fingerprint Fingerprint `json:"fingerprint"`
	Identity    Identity    `json:"identity,omitempty"`
}
