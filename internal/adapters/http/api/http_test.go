package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/facequiz/internal/adapters/http/api"
	repository "github.com/okian/facequiz/internal/adapters/repository"
	"github.com/okian/facequiz/internal/domain/batch"
	"github.com/okian/facequiz/internal/domain/model"
)

type mockDeps struct {
	mu       sync.Mutex
	runs     []int
	runErr   error
	doc      []byte
	imported [][]byte
	known    map[string]model.Identity
}

func (m *mockDeps) RunBatch(_ context.Context, n int) (model.BatchOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runErr != nil {
		return model.BatchOutcome{}, m.runErr
	}
	m.runs = append(m.runs, n)
	return model.BatchOutcome{RunID: "r1", Requested: n, Attempted: n, TotalScore: 10 * n, BestSession: -1, Log: []string{"total"}}, nil
}

func (m *mockDeps) ExportDocument(context.Context) ([]byte, error) { return m.doc, nil }

func (m *mockDeps) ImportDocument(_ context.Context, data []byte) (repository.ImportReport, error) {
	if !json.Valid(data) {
		return repository.ImportReport{}, repository.ErrCorruptDurableState
	}
	m.imported = append(m.imported, data)
	return repository.ImportReport{Added: 1}, nil
}

func (m *mockDeps) Lookup(_ context.Context, fp string) (model.Identity, error) {
	if _, ok := model.ParseFingerprint(fp); !ok {
		return "", repository.ErrInvalidFingerprint
	}
	if id, ok := m.known[fp]; ok {
		return id, nil
	}
	return "", repository.ErrNotFound
}

func (m *mockDeps) SearchByIdentity(_ context.Context, name string) ([]model.Fingerprint, error) {
	var out []model.Fingerprint
	for fp, id := range m.known {
		if string(id) == name {
			out = append(out, model.Fingerprint(fp))
		}
	}
	return out, nil
}

func (m *mockDeps) SearchByLetter(_ context.Context, letter string) ([]model.Identity, error) {
	if letter == "" {
		return nil, repository.ErrInvalidIdentity
	}
	var out []model.Identity
	for _, id := range m.known {
		if id.Letter() == model.NormalizeLetter(letter) {
			out = append(out, id)
		}
	}
	return out, nil
}

type mockStats struct{}

func (mockStats) GetStats() map[string]interface{} {
	return map[string]interface{}{"started": true, "associations": 2}
}

func newMux(deps *mockDeps) *http.ServeMux {
	mux := http.NewServeMux()
	api.NewServer(deps, mockStats{}, api.WithDefaultSessions(2), api.WithMaxSessions(5)).Register(context.Background(), mux)
	return mux
}

func serve(mux *http.ServeMux, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decode(rec *httptest.ResponseRecorder) map[string]any {
	var body map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	return body
}

func TestRunEndpoint(t *testing.T) {
	Convey("Given the API", t, func() {
		deps := &mockDeps{}
		mux := newMux(deps)

		Convey("When a run is requested without a size", func() {
			rec := serve(mux, httptest.NewRequest(http.MethodPost, "/run", nil))

			Convey("Then the default batch size is used and the outcome returned", func() {
				So(rec.Code, ShouldEqual, http.StatusOK)
				So(deps.runs, ShouldResemble, []int{2})
				body := decode(rec)
				So(body["runId"], ShouldEqual, "r1")
				So(body["totalScore"], ShouldEqual, 20.0)
			})
		})

		Convey("When a run size is given", func() {
			rec := serve(mux, httptest.NewRequest(http.MethodPost, "/run?sessions=4", nil))
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(deps.runs, ShouldResemble, []int{4})
		})

		Convey("When the run size is out of range", func() {
			for _, q := range []string{"0", "6", "lots"} {
				rec := serve(mux, httptest.NewRequest(http.MethodPost, "/run?sessions="+q, nil))
				So(rec.Code, ShouldEqual, http.StatusBadRequest)
				So(decode(rec)["code"], ShouldEqual, "bad_request")
			}
			So(deps.runs, ShouldBeEmpty)
		})

		Convey("When a batch is already running", func() {
			deps.runErr = batch.ErrAlreadyRunning
			rec := serve(mux, httptest.NewRequest(http.MethodPost, "/run", nil))

			Convey("Then the request conflicts", func() {
				So(rec.Code, ShouldEqual, http.StatusConflict)
				So(decode(rec)["code"], ShouldEqual, "busy")
			})
		})

		Convey("When run is called with GET", func() {
			rec := serve(mux, httptest.NewRequest(http.MethodGet, "/run", nil))
			So(rec.Code, ShouldEqual, http.StatusMethodNotAllowed)
		})
	})
}

func TestAssociationsEndpoints(t *testing.T) {
	Convey("Given the API", t, func() {
		deps := &mockDeps{doc: []byte("{\n  \"0a\": \"Amy\"\n}\n")}
		mux := newMux(deps)

		Convey("When exporting", func() {
			rec := serve(mux, httptest.NewRequest(http.MethodGet, "/associations", nil))

			Convey("Then the document is offered as faces_data.json", func() {
				So(rec.Code, ShouldEqual, http.StatusOK)
				So(rec.Header().Get("Content-Disposition"), ShouldEqual, `attachment; filename=faces_data.json`)
				So(rec.Body.String(), ShouldEqual, string(deps.doc))
			})
		})

		Convey("When importing a raw body", func() {
			rec := serve(mux, httptest.NewRequest(http.MethodPost, "/associations", strings.NewReader(`{"0b":"Bo"}`)))

			Convey("Then the report is returned", func() {
				So(rec.Code, ShouldEqual, http.StatusOK)
				So(decode(rec)["added"], ShouldEqual, 1.0)
				So(string(deps.imported[0]), ShouldEqual, `{"0b":"Bo"}`)
			})
		})

		Convey("When importing a multipart upload", func() {
			var buf bytes.Buffer
			mw := multipart.NewWriter(&buf)
			fw, _ := mw.CreateFormFile("file", "faces_data.json")
			_, _ = fw.Write([]byte(`[{"hash":"0c","name":"Cy"}]`))
			_ = mw.Close()
			req := httptest.NewRequest(http.MethodPost, "/associations", &buf)
			req.Header.Set("Content-Type", mw.FormDataContentType())
			rec := serve(mux, req)

			Convey("Then the file field is imported", func() {
				So(rec.Code, ShouldEqual, http.StatusOK)
				So(string(deps.imported[0]), ShouldEqual, `[{"hash":"0c","name":"Cy"}]`)
			})
		})

		Convey("When a multipart upload has no file", func() {
			var buf bytes.Buffer
			mw := multipart.NewWriter(&buf)
			_ = mw.WriteField("other", "x")
			_ = mw.Close()
			req := httptest.NewRequest(http.MethodPost, "/associations", &buf)
			req.Header.Set("Content-Type", mw.FormDataContentType())
			rec := serve(mux, req)

			Convey("Then it is a bad request", func() {
				So(rec.Code, ShouldEqual, http.StatusBadRequest)
				So(deps.imported, ShouldBeEmpty)
			})
		})

		Convey("When the document is corrupt", func() {
			rec := serve(mux, httptest.NewRequest(http.MethodPost, "/associations", strings.NewReader(`{"0b":`)))

			Convey("Then it is rejected", func() {
				So(rec.Code, ShouldEqual, http.StatusBadRequest)
				So(decode(rec)["code"], ShouldEqual, "corrupt_document")
			})
		})
	})
}

func TestLookupEndpoints(t *testing.T) {
	Convey("Given the API with two associations", t, func() {
		deps := &mockDeps{known: map[string]model.Identity{"0a": "Amy", "0b": "Amy"}}
		mux := newMux(deps)

		Convey("Then a known fingerprint resolves", func() {
			rec := serve(mux, httptest.NewRequest(http.MethodGet, "/fingerprints/0a", nil))
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(decode(rec)["identity"], ShouldEqual, "Amy")
		})

		Convey("Then an unknown fingerprint is not found", func() {
			rec := serve(mux, httptest.NewRequest(http.MethodGet, "/fingerprints/ff", nil))
			So(rec.Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("Then a malformed fingerprint is a bad request", func() {
			rec := serve(mux, httptest.NewRequest(http.MethodGet, "/fingerprints/xyz", nil))
			So(rec.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("Then an identity lists its fingerprints", func() {
			rec := serve(mux, httptest.NewRequest(http.MethodGet, "/identities/Amy/fingerprints", nil))
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(decode(rec)["fingerprints"], ShouldHaveLength, 2)
		})

		Convey("Then an unknown identity lists nothing", func() {
			rec := serve(mux, httptest.NewRequest(http.MethodGet, "/identities/Nobody/fingerprints", nil))
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(decode(rec)["fingerprints"], ShouldBeEmpty)
		})

		Convey("Then a letter lists identities", func() {
			rec := serve(mux, httptest.NewRequest(http.MethodGet, "/letters/a/identities", nil))
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(decode(rec)["identities"], ShouldNotBeEmpty)
		})
	})
}

func TestOperationalEndpoints(t *testing.T) {
	Convey("Given the API", t, func() {
		mux := newMux(&mockDeps{})

		Convey("Then stats are served as JSON", func() {
			rec := serve(mux, httptest.NewRequest(http.MethodGet, "/stats", nil))
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(decode(rec)["associations"], ShouldEqual, 2.0)
		})

		Convey("Then metrics are served on healthz", func() {
			serve(mux, httptest.NewRequest(http.MethodGet, "/stats", nil))
			rec := serve(mux, httptest.NewRequest(http.MethodGet, "/healthz", nil))
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(rec.Body.String(), ShouldContainSubstring, "facequiz_http_requests_total")
		})
	})
}

func TestErrorKinds(t *testing.T) {
	Convey("Unknown errors become internal errors", t, func() {
		deps := &mockDeps{runErr: errors.New("boom")}
		rec := serve(newMux(deps), httptest.NewRequest(http.MethodPost, "/run", nil))
		So(rec.Code, ShouldEqual, http.StatusInternalServerError)
		So(decode(rec)["code"], ShouldEqual, "internal_error")
	})
}
