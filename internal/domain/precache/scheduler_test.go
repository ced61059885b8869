package precache

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/facequiz/internal/adapters/gameclient"
	"github.com/okian/facequiz/internal/domain/fingerprint"
	"github.com/okian/facequiz/internal/domain/model"
	"github.com/okian/facequiz/internal/testsupport/fakegame"
	"github.com/okian/facequiz/pkg/logger"
)

func init() {
	_ = logger.Init()
	_ = logger.SetLevelString("error")
}

var errMiss = errors.New("miss")

type mapResolver struct {
	mu    sync.Mutex
	known map[model.Fingerprint]model.Identity
}

func (r *mapResolver) Lookup(_ context.Context, fp model.Fingerprint) (model.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.known[fp]; ok {
		return id, nil
	}
	return "", errMiss
}

// countingFetcher serves "img-<qid>" and tracks peak concurrency.
type countingFetcher struct {
	fail     map[model.QuestionID]bool
	delay    time.Duration
	inFlight atomic.Int32
	peak     atomic.Int32
	calls    atomic.Int32
}

func (f *countingFetcher) FetchQuestionImage(ctx context.Context, _ model.SessionID, qid model.QuestionID) ([]byte, error) {
	f.calls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	select {
	case <-time.After(f.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if f.fail[qid] {
		return nil, errors.New("boom")
	}
	return []byte("img-" + strconv.FormatInt(int64(qid), 10)), nil
}

func fp(t *testing.T, data string) model.Fingerprint {
	t.Helper()
	f, err := fingerprint.Compute([]byte(data))
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func TestPrecache(t *testing.T) {
	Convey("Given a scheduler over ten questions", t, func() {
		fetcher := &countingFetcher{
			fail:  map[model.QuestionID]bool{103: true, 107: true},
			delay: 5 * time.Millisecond,
		}
		resolver := &mapResolver{known: map[model.Fingerprint]model.Identity{
			fp(t, "img-100"): "Ana",
		}}
		s := New(fetcher, resolver, WithConcurrency(3))

		Convey("When two fetches fail", func() {
			out := s.Precache(context.Background(), "g", 100, 10)

			Convey("Then the other eight are cached and the batch still succeeds", func() {
				So(out, ShouldHaveLength, 8)
				So(out, ShouldNotContainKey, model.QuestionID(103))
				So(out, ShouldNotContainKey, model.QuestionID(107))
				So(fetcher.calls.Load(), ShouldEqual, 10)
			})

			Convey("Then known fingerprints carry their identity", func() {
				So(out[100].Identity, ShouldEqual, model.Identity("Ana"))
				So(out[100].Fingerprint, ShouldEqual, fp(t, "img-100"))
				So(out[101].Identity, ShouldEqual, model.Identity(""))
				So(out[101].Fingerprint, ShouldEqual, fp(t, "img-101"))
			})

			Convey("Then concurrency stays within the limit", func() {
				So(fetcher.peak.Load(), ShouldBeLessThanOrEqualTo, 3)
			})
		})

		Convey("When asked for nothing", func() {
			So(s.Precache(context.Background(), "g", 1, 0), ShouldBeEmpty)
			So(fetcher.calls.Load(), ShouldEqual, 0)
		})

		Convey("When the context is already cancelled", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			out := s.Precache(ctx, "g", 100, 10)

			Convey("Then nothing is fetched", func() {
				So(out, ShouldBeEmpty)
				So(fetcher.calls.Load(), ShouldEqual, 0)
			})
		})
	})
}

func TestPrecacheAgainstRemote(t *testing.T) {
	Convey("Given the fake game with two broken pictures", t, func() {
		srv := fakegame.New(fakegame.Options{FailPictures: map[int]bool{2: true, 5: true}})
		Reset(srv.Close)
		client, err := gameclient.New(srv.BaseURL())
		So(err, ShouldBeNil)
		sid, err := client.StartSession(context.Background())
		So(err, ShouldBeNil)

		s := New(client, &mapResolver{known: map[model.Fingerprint]model.Identity{}})
		first := model.QuestionID(fakegame.FirstQuestionID(0))
		out := s.Precache(context.Background(), sid, first, 10)

		Convey("Then eight pictures are fingerprinted", func() {
			So(out, ShouldHaveLength, 8)
			want := fp(t, string(fakegame.Image(srv.Answer(0, 0))))
			So(out[first].Fingerprint, ShouldEqual, want)
		})
	})
}

func TestTable(t *testing.T) {
	Convey("Given a table", t, func() {
		tbl := NewTable()
		tbl.Merge(map[model.QuestionID]model.PrecacheEntry{
			1: {QuestionID: 1, Fingerprint: "aa"},
			2: {QuestionID: 2, Fingerprint: "bb"},
		})

		Convey("Then taking an entry removes it", func() {
			e, ok := tbl.Take(1)
			So(ok, ShouldBeTrue)
			So(e.Fingerprint, ShouldEqual, model.Fingerprint("aa"))
			_, ok = tbl.Take(1)
			So(ok, ShouldBeFalse)
			So(tbl.Len(), ShouldEqual, 1)
		})

		Convey("Then merging replaces by question id", func() {
			tbl.Merge(map[model.QuestionID]model.PrecacheEntry{2: {QuestionID: 2, Fingerprint: "cc"}})
			e, _ := tbl.Take(2)
			So(e.Fingerprint, ShouldEqual, model.Fingerprint("cc"))
		})

		Convey("Then reset empties it", func() {
			tbl.Reset()
			So(tbl.Len(), ShouldEqual, 0)
		})
	})
}
