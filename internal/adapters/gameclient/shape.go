package gameclient

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/okian/facequiz/internal/domain/model"
)

// The remote API has shipped several response shapes over time. Each parse
// function below accepts all known variants and normalizes them; anything
// else is ErrUnrecognizedShape.

func parseSessionID(body []byte) (model.SessionID, error) {
	if !gjson.ValidBytes(body) {
		return "", fmt.Errorf("%w: session body is not JSON", ErrUnrecognizedShape)
	}
	root := gjson.ParseBytes(body)
	var id string
	switch {
	case root.IsObject():
		id = scalarID(root.Get("id"))
	case root.Type == gjson.String:
		id = root.Str
	}
	if strings.TrimSpace(id) == "" {
		return "", fmt.Errorf("%w: session id missing", ErrUnrecognizedShape)
	}
	return model.SessionID(id), nil
}

// emptyBody reports whether a 2xx body means "nothing here".
func emptyBody(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// parseQuestion normalizes a question. The image locator may be under
// imageUrl or pictureUrl; when both are absent picture(id) supplies the
// canonical picture endpoint. Candidates are either {id, value} objects or
// bare names, in which case their index becomes the id.
func parseQuestion(body []byte, picture func(model.QuestionID) string) (model.Question, error) {
	if !gjson.ValidBytes(body) {
		return model.Question{}, fmt.Errorf("%w: question body is not JSON", ErrUnrecognizedShape)
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return model.Question{}, fmt.Errorf("%w: question is not an object", ErrUnrecognizedShape)
	}

	qid, ok := questionID(root.Get("id"))
	if !ok {
		return model.Question{}, fmt.Errorf("%w: question id missing or not an integer", ErrUnrecognizedShape)
	}

	q := model.Question{ID: qid}
	for _, field := range []string{"imageUrl", "pictureUrl"} {
		if v := root.Get(field); v.Type == gjson.String && strings.TrimSpace(v.Str) != "" {
			q.ImageLocator = strings.TrimSpace(v.Str)
			break
		}
	}
	if q.ImageLocator == "" && picture != nil {
		q.ImageLocator = picture(qid)
	}

	raw := root.Get("suggestions")
	if !raw.IsArray() {
		return model.Question{}, fmt.Errorf("%w: suggestions missing", ErrUnrecognizedShape)
	}
	items := raw.Array()
	q.Suggestions = make([]model.Suggestion, 0, len(items))
	for i, item := range items {
		switch {
		case item.IsObject():
			if q.PlainSuggestions {
				return model.Question{}, fmt.Errorf("%w: mixed suggestion formats", ErrUnrecognizedShape)
			}
			id := scalarID(item.Get("id"))
			name := item.Get("value")
			if !name.Exists() {
				name = item.Get("name")
			}
			if id == "" || name.Type != gjson.String {
				return model.Question{}, fmt.Errorf("%w: suggestion %d lacks id or value", ErrUnrecognizedShape, i)
			}
			q.Suggestions = append(q.Suggestions, model.Suggestion{ID: id, Name: name.Str})
		case item.Type == gjson.String:
			if i > 0 && !q.PlainSuggestions {
				return model.Question{}, fmt.Errorf("%w: mixed suggestion formats", ErrUnrecognizedShape)
			}
			q.PlainSuggestions = true
			q.Suggestions = append(q.Suggestions, model.Suggestion{ID: strconv.Itoa(i), Name: item.Str})
		default:
			return model.Question{}, fmt.Errorf("%w: suggestion %d has type %s", ErrUnrecognizedShape, i, item.Type)
		}
	}
	return q, nil
}

// parseVerdict normalizes a guess response. The correct name comes from
// correctAnswer when present, else from the candidate with correctSuggestionId.
func parseVerdict(body []byte, q model.Question, chosen model.Suggestion) (model.Verdict, error) {
	if !gjson.ValidBytes(body) {
		return model.Verdict{}, fmt.Errorf("%w: verdict body is not JSON", ErrUnrecognizedShape)
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return model.Verdict{}, fmt.Errorf("%w: verdict is not an object", ErrUnrecognizedShape)
	}

	v := model.Verdict{
		ChosenSuggestionID:  chosen.ID,
		CorrectSuggestionID: scalarID(root.Get("correctSuggestionId")),
		Score:               int(root.Get("score").Int()),
	}

	answer := root.Get("correctAnswer")
	switch {
	case answer.Type == gjson.String:
		v.CorrectName = model.Identity(strings.TrimSpace(answer.Str))
	case answer.IsObject():
		if name := answer.Get("value"); name.Type == gjson.String {
			v.CorrectName = model.Identity(strings.TrimSpace(name.Str))
		} else if name := answer.Get("name"); name.Type == gjson.String {
			v.CorrectName = model.Identity(strings.TrimSpace(name.Str))
		}
		if v.CorrectSuggestionID == "" {
			v.CorrectSuggestionID = scalarID(answer.Get("id"))
		}
	}
	if v.CorrectName == "" && v.CorrectSuggestionID != "" {
		if s, ok := q.SuggestionByID(v.CorrectSuggestionID); ok {
			v.CorrectName = model.Identity(s.Name)
		}
	}

	flag := root.Get("isCorrect")
	if !flag.Exists() {
		flag = root.Get("correct")
	}
	switch {
	case flag.Exists():
		v.Correct = flag.Bool()
	case v.CorrectSuggestionID != "":
		v.Correct = v.CorrectSuggestionID == chosen.ID
	case v.CorrectName != "":
		v.Correct = v.CorrectName.Matches(chosen.Name)
	}

	if !flag.Exists() && v.CorrectSuggestionID == "" && v.CorrectName == "" && !root.Get("score").Exists() {
		return model.Verdict{}, fmt.Errorf("%w: verdict has no known field", ErrUnrecognizedShape)
	}
	return v, nil
}

// scalarID renders a string or numeric id; numbers keep their JSON text.
func scalarID(r gjson.Result) string {
	switch r.Type {
	case gjson.String:
		return strings.TrimSpace(r.Str)
	case gjson.Number:
		return r.Raw
	default:
		return ""
	}
}

func questionID(r gjson.Result) (model.QuestionID, bool) {
	switch r.Type {
	case gjson.Number:
		n, err := strconv.ParseInt(r.Raw, 10, 64)
		if err != nil {
			return 0, false
		}
		return model.QuestionID(n), true
	case gjson.String:
		n, err := strconv.ParseInt(strings.TrimSpace(r.Str), 10, 64)
		if err != nil {
			return 0, false
		}
		return model.QuestionID(n), true
	default:
		return 0, false
	}
}
