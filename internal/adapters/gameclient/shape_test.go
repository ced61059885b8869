package gameclient

import (
	"errors"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/facequiz/internal/domain/model"
)

func picture(qid model.QuestionID) string { return "/picture" }

func TestParseSessionID(t *testing.T) {
	Convey("Given session responses", t, func() {
		Convey("Then object, numeric and bare-string ids are accepted", func() {
			sid, err := parseSessionID([]byte(`{"id":"abc"}`))
			So(err, ShouldBeNil)
			So(sid, ShouldEqual, model.SessionID("abc"))

			sid, err = parseSessionID([]byte(`{"id":17}`))
			So(err, ShouldBeNil)
			So(sid, ShouldEqual, model.SessionID("17"))

			sid, err = parseSessionID([]byte(`"xyz"`))
			So(err, ShouldBeNil)
			So(sid, ShouldEqual, model.SessionID("xyz"))
		})

		Convey("Then anything else is an unrecognized shape", func() {
			for _, body := range []string{`{}`, `[]`, `nope`, `{"id":""}`} {
				_, err := parseSessionID([]byte(body))
				So(errors.Is(err, ErrUnrecognizedShape), ShouldBeTrue)
			}
		})
	})
}

func TestParseQuestion(t *testing.T) {
	Convey("Given question responses", t, func() {
		Convey("When the image is under pictureUrl and ids are numbers", func() {
			q, err := parseQuestion([]byte(`{"id":5,"pictureUrl":"https://cdn/x.png","suggestions":[{"id":1,"value":"Ana"},{"id":2,"value":"Bea"}]}`), picture)

			Convey("Then it is normalized", func() {
				So(err, ShouldBeNil)
				So(q.ID, ShouldEqual, model.QuestionID(5))
				So(q.ImageLocator, ShouldEqual, "https://cdn/x.png")
				So(q.Suggestions, ShouldResemble, []model.Suggestion{{ID: "1", Name: "Ana"}, {ID: "2", Name: "Bea"}})
			})
		})

		Convey("When the id is a numeric string and no image is given", func() {
			q, err := parseQuestion([]byte(`{"id":"7","suggestions":["Ana","Bea"]}`), picture)

			Convey("Then the picture fallback and plain candidates are used", func() {
				So(err, ShouldBeNil)
				So(q.ID, ShouldEqual, model.QuestionID(7))
				So(q.ImageLocator, ShouldEqual, "/picture")
				So(q.PlainSuggestions, ShouldBeTrue)
				So(q.Suggestions[1], ShouldResemble, model.Suggestion{ID: "1", Name: "Bea"})
			})
		})

		Convey("Then malformed questions are rejected, never partially filled", func() {
			bodies := []string{
				`{"suggestions":[]}`,
				`{"id":"seven","suggestions":[]}`,
				`{"id":1}`,
				`{"id":1,"suggestions":[{"value":"Ana"}]}`,
				`{"id":1,"suggestions":[{"id":1,"value":"Ana"},"Bea"]}`,
				`{"id":1,"suggestions":[3]}`,
				`[1,2]`,
				`{"id":1,`,
			}
			for _, body := range bodies {
				q, err := parseQuestion([]byte(body), picture)
				So(errors.Is(err, ErrUnrecognizedShape), ShouldBeTrue)
				So(q, ShouldResemble, model.Question{})
			}
		})
	})
}

func TestParseVerdict(t *testing.T) {
	Convey("Given a question and a chosen candidate", t, func() {
		q := model.Question{ID: 1, Suggestions: []model.Suggestion{{ID: "10", Name: "Ana"}, {ID: "11", Name: "Bea"}}}
		chosen := q.Suggestions[0]

		Convey("When the verdict carries isCorrect and correctSuggestionId", func() {
			v, err := parseVerdict([]byte(`{"isCorrect":false,"score":0,"correctSuggestionId":11}`), q, chosen)

			Convey("Then the correct name is resolved from the candidates", func() {
				So(err, ShouldBeNil)
				So(v.Correct, ShouldBeFalse)
				So(v.CorrectSuggestionID, ShouldEqual, "11")
				So(v.CorrectName, ShouldEqual, model.Identity("Bea"))
				So(v.ChosenSuggestionID, ShouldEqual, "10")
			})
		})

		Convey("When the verdict uses correct and correctAnswer", func() {
			v, err := parseVerdict([]byte(`{"correct":true,"score":25,"correctAnswer":"Ana"}`), q, chosen)

			Convey("Then both are read", func() {
				So(err, ShouldBeNil)
				So(v.Correct, ShouldBeTrue)
				So(v.Score, ShouldEqual, 25)
				So(v.CorrectName, ShouldEqual, model.Identity("Ana"))
			})
		})

		Convey("When no correctness flag is present", func() {
			v, err := parseVerdict([]byte(`{"correctSuggestionId":"10"}`), q, chosen)

			Convey("Then it is derived from the ids", func() {
				So(err, ShouldBeNil)
				So(v.Correct, ShouldBeTrue)
			})
		})

		Convey("When correctAnswer is an object", func() {
			v, err := parseVerdict([]byte(`{"isCorrect":false,"correctAnswer":{"id":11,"value":"Bea"}}`), q, chosen)
			So(err, ShouldBeNil)
			So(v.CorrectName, ShouldEqual, model.Identity("Bea"))
			So(v.CorrectSuggestionID, ShouldEqual, "11")
		})

		Convey("Then unknown shapes are rejected", func() {
			for _, body := range []string{`{}`, `[]`, `"ok"`, `{"foo":1}`} {
				_, err := parseVerdict([]byte(body), q, chosen)
				So(errors.Is(err, ErrUnrecognizedShape), ShouldBeTrue)
			}
		})
	})
}
