// Package gameclient talks to the remote quiz API and normalizes its
// responses into domain types.
package gameclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/okian/facequiz/internal/domain/model"
	"github.com/okian/facequiz/pkg/logger"
	"github.com/okian/facequiz/pkg/metrics"
)

const (
	defaultTimeout   = 15 * time.Second
	maxResponseBytes = 16 << 20
	imageAccept      = "image/avif,image/webp,image/apng,image/svg+xml,image/*,*/*;q=0.8"
	jsonAccept       = "application/json, text/plain, */*"
)

// guessPaths are tried in order; a 404 moves on to the next one.
var guessPaths = []string{"guess", "guesses"}

// Client is a remote game API client. It is safe for concurrent use.
type Client struct {
	base    *url.URL
	origin  *url.URL
	http    *http.Client
	timeout time.Duration
	headers http.Header
	limiter *rate.Limiter
	logger  logger.Logger
}

// New creates a client for the API rooted at baseURL, e.g.
// https://aramis.ilucca.net/faces/api.
func New(baseURL string, opts ...Option) (*Client, error) {
	base, err := url.Parse(baseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBaseURL, baseURL)
	}

	c := &Client{
		base:    base,
		origin:  &url.URL{Scheme: base.Scheme, Host: base.Host},
		timeout: defaultTimeout,
		headers: make(http.Header),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: c.timeout}
	}
	if c.logger == nil {
		c.logger = logger.Get().Named("gameclient")
	}
	return c, nil
}

func (c *Client) endpoint(elem ...string) string {
	return c.base.JoinPath(elem...).String()
}

// PictureURL is the canonical picture endpoint of a question.
func (c *Client) PictureURL(sid model.SessionID, qid model.QuestionID) string {
	return c.endpoint("games", string(sid), "questions", strconv.FormatInt(int64(qid), 10), "picture")
}

type response struct {
	status int
	body   []byte
}

// do performs one request. Only transport failures are returned as errors;
// status handling is left to the caller.
func (c *Client) do(ctx context.Context, op, method, target string, payload any, accept string) (response, error) {
	start := time.Now()
	status := "error"
	defer func() {
		metrics.RecordRemoteRequest(op, status)
		metrics.RecordRemoteLatency(op, float64(time.Since(start).Milliseconds()))
	}()

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return response{}, fmt.Errorf("marshal %s payload: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return response{}, fmt.Errorf("%w: build %s request: %w", ErrUnavailable, op, err)
	}
	for k, vs := range c.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", accept)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return response{}, fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return response{}, fmt.Errorf("%w: read %s response: %w", ErrUnavailable, op, err)
	}
	status = strconv.Itoa(resp.StatusCode)
	return response{status: resp.StatusCode, body: data}, nil
}

func (c *Client) pace(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

func success(status int) bool { return status >= 200 && status < 300 }

// StartSession opens a new game.
func (c *Client) StartSession(ctx context.Context) (model.SessionID, error) {
	if err := c.pace(ctx); err != nil {
		return "", err
	}
	resp, err := c.do(ctx, "start_session", http.MethodPost, c.endpoint("games"), struct{}{}, jsonAccept)
	if err != nil {
		return "", err
	}
	if !success(resp.status) {
		return "", fmt.Errorf("%w: start session returned %d", ErrUnavailable, resp.status)
	}
	sid, err := parseSessionID(resp.body)
	if err != nil {
		return "", err
	}
	c.logger.Debug(ctx, "session started", logger.String("session", string(sid)))
	return sid, nil
}

type nextQuestionRequest struct {
	Establishments []string `json:"establishments"`
	Departments    []string `json:"departments"`
}

// NextQuestion asks for the session's next question.
func (c *Client) NextQuestion(ctx context.Context, sid model.SessionID) (model.Question, error) {
	if err := c.pace(ctx); err != nil {
		return model.Question{}, err
	}
	payload := nextQuestionRequest{Establishments: []string{}, Departments: []string{}}
	resp, err := c.do(ctx, "next_question", http.MethodPost,
		c.endpoint("games", string(sid), "questions", "next"), payload, jsonAccept)
	if err != nil {
		return model.Question{}, err
	}

	switch {
	case resp.status == http.StatusNotFound, resp.status == http.StatusGone, resp.status == http.StatusNoContent:
		return model.Question{}, ErrNoMoreQuestions
	case !success(resp.status):
		return model.Question{}, fmt.Errorf("%w: next question returned %d", ErrUnavailable, resp.status)
	case emptyBody(resp.body):
		return model.Question{}, ErrNoMoreQuestions
	}

	q, err := parseQuestion(resp.body, func(qid model.QuestionID) string { return c.PictureURL(sid, qid) })
	if err != nil {
		c.logger.Warn(ctx, "unrecognized question shape",
			logger.String("session", string(sid)),
			logger.Error(err),
		)
		return model.Question{}, err
	}
	return q, nil
}

// FetchImage downloads the bytes behind locator. Site-relative locators are
// resolved against the API host.
func (c *Client) FetchImage(ctx context.Context, locator string) ([]byte, error) {
	ref, err := url.Parse(locator)
	if err != nil || locator == "" {
		return nil, fmt.Errorf("%w: bad image locator %q", ErrUnavailable, locator)
	}
	target := ref
	if !ref.IsAbs() {
		target = c.origin.ResolveReference(ref)
	}

	resp, err := c.do(ctx, "fetch_image", http.MethodGet, target.String(), nil, imageAccept)
	if err != nil {
		return nil, err
	}
	if !success(resp.status) {
		return nil, fmt.Errorf("%w: image returned %d", ErrUnavailable, resp.status)
	}
	if len(resp.body) == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrUnavailable)
	}
	return resp.body, nil
}

// FetchQuestionImage downloads a question's picture by id.
func (c *Client) FetchQuestionImage(ctx context.Context, sid model.SessionID, qid model.QuestionID) ([]byte, error) {
	return c.FetchImage(ctx, c.PictureURL(sid, qid))
}

// guessPayload matches the candidate format the question was served with.
func guessPayload(q model.Question, s model.Suggestion) any {
	if q.PlainSuggestions {
		return map[string]any{"suggestion": s.Name}
	}
	var id any = s.ID
	if _, err := strconv.ParseInt(s.ID, 10, 64); err == nil && s.ID[0] != '+' {
		id = json.Number(s.ID)
	}
	return map[string]any{"questionId": int64(q.ID), "suggestionId": id}
}

// SubmitGuess answers q with s and returns the API's verdict. Each guess
// path is tried in turn; the first response other than 404 is final.
func (c *Client) SubmitGuess(ctx context.Context, sid model.SessionID, q model.Question, s model.Suggestion) (model.Verdict, error) {
	if err := c.pace(ctx); err != nil {
		return model.Verdict{}, err
	}
	payload := guessPayload(q, s)
	qid := strconv.FormatInt(int64(q.ID), 10)

	lastErr := fmt.Errorf("%w: no guess endpoint accepted the submission", ErrUnavailable)
	for _, variant := range guessPaths {
		target := c.endpoint("games", string(sid), "questions", qid, variant)
		resp, err := c.do(ctx, "submit_guess", http.MethodPost, target, payload, jsonAccept)
		if err != nil {
			if ctx.Err() != nil {
				return model.Verdict{}, err
			}
			lastErr = err
			c.logger.Debug(ctx, "guess endpoint failed, trying next", logger.String("path", variant), logger.Error(err))
			continue
		}
		if resp.status == http.StatusNotFound {
			c.logger.Debug(ctx, "guess endpoint not found, trying next", logger.String("path", variant))
			continue
		}
		if !success(resp.status) {
			return model.Verdict{}, fmt.Errorf("%w: guess returned %d", ErrUnavailable, resp.status)
		}
		return parseVerdict(resp.body, q, s)
	}
	return model.Verdict{}, lastErr
}
