package service_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	repository "github.com/okian/facequiz/internal/adapters/repository"
	service "github.com/okian/facequiz/internal/app"
	"github.com/okian/facequiz/internal/domain/batch"
	"github.com/okian/facequiz/internal/domain/fingerprint"
	"github.com/okian/facequiz/internal/domain/model"
	"github.com/okian/facequiz/internal/testsupport/fakegame"
	"github.com/okian/facequiz/pkg/logger"
)

func init() {
	// Initialize logging for tests
	err := logger.Init()
	if err != nil {
		panic(err)
	}
	_ = logger.SetLevelString("error")
}

func newService(t *testing.T, srv *fakegame.Server, opts ...service.Option) (*service.Service, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "faces_data.json")
	base := []service.Option{
		service.WithAPIBaseURL(srv.BaseURL()),
		service.WithDurablePath(path),
		service.WithQuestionInterval(0),
		service.WithRequestTimeout(2 * time.Second),
	}
	return service.New(append(base, opts...)...), path
}

func faceOf(name string) string {
	fp, _ := fingerprint.Compute(fakegame.Image(name))
	return string(fp)
}

func TestService_Lifecycle(t *testing.T) {
	Convey("Given a new service", t, func() {
		srv := fakegame.New(fakegame.Options{})
		Reset(srv.Close)
		svc, _ := newService(t, srv)

		Convey("When getting stats before starting", func() {
			stats := svc.GetStats()

			Convey("Then it should return basic stats", func() {
				So(stats["started"], ShouldEqual, false)
				So(stats["runs"], ShouldEqual, 0)
			})
		})

		Convey("When operations are called before starting", func() {
			_, err := svc.RunBatch(context.Background(), 1)

			Convey("Then they report the service is not started", func() {
				So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
				So(svc.Count(context.Background()), ShouldEqual, 0)
			})
		})

		Convey("When starting and stopping the service", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			So(svc.Start(ctx), ShouldBeNil)
			So(svc.Start(ctx), ShouldBeNil)
			So(svc.GetStats()["started"], ShouldEqual, true)
			So(svc.GetStats()["degraded"], ShouldEqual, false)

			svc.Stop()
			svc.Stop()

			Convey("Then it should be marked as stopped", func() {
				So(svc.GetStats()["started"], ShouldEqual, false)
			})
		})
	})

	Convey("Given an invalid API base URL", t, func() {
		svc := service.New(service.WithAPIBaseURL("not a url"), service.WithDurablePath(filepath.Join(t.TempDir(), "f.json")))

		Convey("Then start fails", func() {
			So(svc.Start(context.Background()), ShouldNotBeNil)
		})
	})
}

func TestService_RunBatch(t *testing.T) {
	Convey("Given a started service against the fake game", t, func() {
		srv := fakegame.New(fakegame.Options{})
		Reset(srv.Close)
		svc, path := newService(t, srv)
		ctx := context.Background()
		So(svc.Start(ctx), ShouldBeNil)
		Reset(svc.Stop)

		Convey("When two sessions are run", func() {
			out, err := svc.RunBatch(ctx, 2)

			Convey("Then the second session profits from the first", func() {
				So(err, ShouldBeNil)
				So(out.Started, ShouldEqual, 2)
				So(out.Completed, ShouldEqual, 2)
				So(out.SessionScores, ShouldResemble, []int{30, 90})
				So(out.BestSession, ShouldEqual, 1)
				So(out.PersistError, ShouldBeEmpty)
			})

			Convey("Then every seen face is learned and persisted", func() {
				So(svc.Count(ctx), ShouldEqual, 12)
				data, err := os.ReadFile(path)
				So(err, ShouldBeNil)
				So(string(data), ShouldContainSubstring, `"Ana"`)
			})

			Convey("Then the stores can be queried", func() {
				id, err := svc.Lookup(ctx, faceOf("Ana"))
				So(err, ShouldBeNil)
				So(id, ShouldEqual, model.Identity("Ana"))

				fps, err := svc.SearchByIdentity(ctx, "Bea")
				So(err, ShouldBeNil)
				So(fps, ShouldResemble, []model.Fingerprint{model.Fingerprint(faceOf("Bea"))})

				names, err := svc.SearchByLetter(ctx, "A")
				So(err, ShouldBeNil)
				So(names, ShouldResemble, []model.Identity{"Ana"})

				_, err = svc.Lookup(ctx, "zz")
				So(errors.Is(err, repository.ErrInvalidFingerprint), ShouldBeTrue)
			})

			Convey("Then stats describe the last run", func() {
				stats := svc.GetStats()
				So(stats["runs"], ShouldEqual, 1)
				So(stats["associations"], ShouldEqual, 12)
				last := stats["lastRun"].(map[string]interface{})
				So(last["totalScore"], ShouldEqual, 120)
				So(last["started"], ShouldEqual, 2)
				So(last["completed"], ShouldEqual, 2)
			})
		})

		Convey("When batches overlap", func() {
			var wg sync.WaitGroup
			results := make([]error, 4)
			for i := range results {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, results[i] = svc.RunBatch(ctx, 3)
				}(i)
			}
			wg.Wait()

			Convey("Then at most one runs and the others are refused", func() {
				ok := 0
				for _, err := range results {
					if err == nil {
						ok++
					} else {
						So(errors.Is(err, batch.ErrAlreadyRunning), ShouldBeTrue)
					}
				}
				So(ok, ShouldBeGreaterThanOrEqualTo, 1)
			})
		})
	})
}

func TestService_ImportExport(t *testing.T) {
	Convey("Given a started service", t, func() {
		srv := fakegame.New(fakegame.Options{})
		Reset(srv.Close)
		svc, path := newService(t, srv, service.WithVolatile(false, ""))
		ctx := context.Background()
		So(svc.Start(ctx), ShouldBeNil)
		Reset(svc.Stop)

		Convey("When a legacy document is imported", func() {
			report, err := svc.ImportDocument(ctx, []byte(`[{"hash":"0b","name":"Zed"},{"hash":"0a","name":"Amy"},{"name":"NoHash"}]`))

			Convey("Then it is merged, persisted and exported in order", func() {
				So(err, ShouldBeNil)
				So(report.Added, ShouldEqual, 2)
				So(report.Skipped, ShouldEqual, 1)
				So(report.Legacy, ShouldBeTrue)

				doc, err := svc.ExportDocument(ctx)
				So(err, ShouldBeNil)
				So(string(doc), ShouldEqual, "{\n  \"0a\": \"Amy\",\n  \"0b\": \"Zed\"\n}\n")

				onDisk, err := os.ReadFile(path)
				So(err, ShouldBeNil)
				So(string(onDisk), ShouldEqual, string(doc))
			})
		})

		Convey("When a corrupt document is imported", func() {
			_, err := svc.ImportDocument(ctx, []byte(`{"0a":`))

			Convey("Then nothing changes", func() {
				So(errors.Is(err, repository.ErrCorruptDurableState), ShouldBeTrue)
				So(svc.Count(ctx), ShouldEqual, 0)
			})
		})
	})

	Convey("Given a durable file written by an earlier run", t, func() {
		srv := fakegame.New(fakegame.Options{})
		Reset(srv.Close)
		svc, path := newService(t, srv)
		So(os.WriteFile(path, []byte(`{"`+faceOf("Ana")+`": "Ana"}`), 0o600), ShouldBeNil)
		So(svc.Start(context.Background()), ShouldBeNil)
		Reset(svc.Stop)

		Convey("Then the association is available after start", func() {
			id, err := svc.Lookup(context.Background(), faceOf("Ana"))
			So(err, ShouldBeNil)
			So(id, ShouldEqual, model.Identity("Ana"))
		})
	})
}
