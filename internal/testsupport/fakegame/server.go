// Package fakegame is an in-process stand-in for the remote quiz API, used by tests.
package fakegame

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
)

// APIPath is where the fake mounts the game API.
const APIPath = "/faces/api"

// Options tune the fake's behavior.
type Options struct {
	People              []string
	QuestionsPerSession int
	Candidates          int
	// SingularGuessMissing makes .../guess answer 404 so clients must fall back to .../guesses.
	SingularGuessMissing bool
	// PlainSuggestions serves candidates as bare names.
	PlainSuggestions bool
	// OmitImageURL leaves the image locator out of questions.
	OmitImageURL bool
	// FailPictures lists question positions (0-based within a session) whose picture answers 500.
	FailPictures map[int]bool
	// StartStatus, when set, is returned by session creation instead of a session.
	StartStatus int
	// GarbageAfter makes the question at that position (1-based) an unparseable body.
	GarbageAfter int
}

type question struct {
	id         int64
	answer     int
	candidates []int
	position   int
}

type session struct {
	id        string
	questions []question
	asked     int
}

// Guess is one received guess submission.
type Guess struct {
	Path       string
	SessionID  string
	QuestionID int64
	Body       map[string]any
	Correct    bool
}

// Server is the fake API.
type Server struct {
	*httptest.Server
	opts Options

	mu            sync.Mutex
	sessions      map[string]*session
	nextSession   int
	guesses       []Guess
	pictureHits   map[int64]int
	sessionStarts int
}

// New starts a fake API server. Close it when done.
func New(opts Options) *Server {
	if len(opts.People) == 0 {
		opts.People = []string{"Ana", "Bea", "Cid", "Dan", "Eve", "Fay", "Gus", "Hal", "Ivy", "Jon", "Kim", "Lea"}
	}
	if opts.QuestionsPerSession <= 0 {
		opts.QuestionsPerSession = 10
	}
	if opts.Candidates <= 0 {
		opts.Candidates = 4
	}
	opts.Candidates = min(opts.Candidates, len(opts.People))

	s := &Server{
		opts:        opts,
		sessions:    make(map[string]*session),
		pictureHits: make(map[int64]int),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+APIPath+"/games", s.startSession)
	mux.HandleFunc("POST "+APIPath+"/games/{gid}/questions/next", s.nextQuestion)
	mux.HandleFunc("GET "+APIPath+"/games/{gid}/questions/{qid}/picture", s.picture)
	mux.HandleFunc("POST "+APIPath+"/games/{gid}/questions/{qid}/{variant}", s.guess)
	s.Server = httptest.NewServer(mux)
	return s
}

// BaseURL is the API root to hand to a client.
func (s *Server) BaseURL() string { return s.URL + APIPath }

// Image returns the picture bytes served for a person.
func Image(name string) []byte { return []byte("\x89PNG-fake-portrait-of-" + name) }

// Guesses returns every guess received so far.
func (s *Server) Guesses() []Guess {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Guess(nil), s.guesses...)
}

// PictureHits counts picture requests for a question id.
func (s *Server) PictureHits(qid int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pictureHits[qid]
}

// SessionStarts counts session creation requests.
func (s *Server) SessionStarts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionStarts
}

// Answer returns the expected name of the question at position in session n (0-based).
func (s *Server) Answer(n, position int) string {
	return s.opts.People[(n*s.opts.QuestionsPerSession+position)%len(s.opts.People)]
}

// FirstQuestionID is the id of the first question of session n (0-based).
func FirstQuestionID(n int) int64 { return int64(n*1000 + 1) }

func (s *Server) startSession(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionStarts++
	if s.opts.StartStatus != 0 {
		w.WriteHeader(s.opts.StartStatus)
		return
	}

	n := s.nextSession
	s.nextSession++
	sess := &session{id: "g" + strconv.Itoa(n)}
	people := len(s.opts.People)
	for i := 0; i < s.opts.QuestionsPerSession; i++ {
		answer := (n*s.opts.QuestionsPerSession + i) % people
		slot := i % s.opts.Candidates
		cands := make([]int, s.opts.Candidates)
		for c := range cands {
			cands[c] = (answer + c - slot + people) % people
		}
		sess.questions = append(sess.questions, question{
			id:         FirstQuestionID(n) + int64(i),
			answer:     answer,
			candidates: cands,
			position:   i,
		})
	}
	s.sessions[sess.id] = sess
	writeJSON(w, http.StatusOK, map[string]any{"id": sess.id})
}

func (s *Server) lookup(gid string, qid int64) (*session, *question) {
	sess := s.sessions[gid]
	if sess == nil {
		return nil, nil
	}
	for i := range sess.questions {
		if sess.questions[i].id == qid {
			return sess, &sess.questions[i]
		}
	}
	return sess, nil
}

func (s *Server) nextQuestion(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.sessions[r.PathValue("gid")]
	if sess == nil || sess.asked >= len(sess.questions) {
		http.NotFound(w, r)
		return
	}
	q := sess.questions[sess.asked]
	sess.asked++

	if s.opts.GarbageAfter > 0 && sess.asked >= s.opts.GarbageAfter {
		writeJSON(w, http.StatusOK, map[string]any{"unexpected": true})
		return
	}

	body := map[string]any{"id": q.id}
	if !s.opts.OmitImageURL {
		body["imageUrl"] = fmt.Sprintf("%s/games/%s/questions/%d/picture", APIPath, sess.id, q.id)
	}
	if s.opts.PlainSuggestions {
		names := make([]string, len(q.candidates))
		for i, c := range q.candidates {
			names[i] = s.opts.People[c]
		}
		body["suggestions"] = names
	} else {
		sugg := make([]map[string]any, len(q.candidates))
		for i, c := range q.candidates {
			sugg[i] = map[string]any{"id": suggestionID(q.id, c), "value": s.opts.People[c]}
		}
		body["suggestions"] = sugg
	}
	writeJSON(w, http.StatusOK, body)
}

func suggestionID(qid int64, person int) int64 { return qid*100 + int64(person) }

func (s *Server) picture(w http.ResponseWriter, r *http.Request) {
	qid, _ := strconv.ParseInt(r.PathValue("qid"), 10, 64)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pictureHits[qid]++
	_, q := s.lookup(r.PathValue("gid"), qid)
	if q == nil {
		http.NotFound(w, r)
		return
	}
	if s.opts.FailPictures[q.position] {
		http.Error(w, "boom", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(Image(s.opts.People[q.answer]))
}

func (s *Server) guess(w http.ResponseWriter, r *http.Request) {
	variant := r.PathValue("variant")
	if variant != "guess" && variant != "guesses" {
		http.NotFound(w, r)
		return
	}
	if variant == "guess" && s.opts.SingularGuessMissing {
		http.NotFound(w, r)
		return
	}

	var body map[string]any
	data, _ := io.ReadAll(r.Body)
	if err := json.Unmarshal(data, &body); err != nil {
		http.Error(w, "bad body", http.StatusBadRequest)
		return
	}
	qid, _ := strconv.ParseInt(r.PathValue("qid"), 10, 64)

	s.mu.Lock()
	defer s.mu.Unlock()
	sess, q := s.lookup(r.PathValue("gid"), qid)
	if q == nil {
		http.Error(w, "unknown question", http.StatusBadRequest)
		return
	}

	answer := s.opts.People[q.answer]
	var correct bool
	var resp map[string]any
	if s.opts.PlainSuggestions {
		name, _ := body["suggestion"].(string)
		correct = name == answer
		resp = map[string]any{"correct": correct, "score": score(correct), "correctAnswer": answer}
	} else {
		chosen, _ := body["suggestionId"].(float64)
		correct = int64(chosen) == suggestionID(q.id, q.answer)
		resp = map[string]any{
			"isCorrect":           correct,
			"score":               score(correct),
			"correctSuggestionId": suggestionID(q.id, q.answer),
		}
	}
	s.guesses = append(s.guesses, Guess{
		Path: variant, SessionID: sess.id, QuestionID: qid, Body: body, Correct: correct,
	})
	writeJSON(w, http.StatusOK, resp)
}

func score(correct bool) int {
	if correct {
		return 10
	}
	return 0
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
