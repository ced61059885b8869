package config_test

import (
	"context"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/facequiz/internal/config"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New(context.Background())

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.DurablePath, convey.ShouldEqual, "faces_data.json")
			convey.So(cfg.VolatileEnabled, convey.ShouldBeTrue)
			convey.So(cfg.PrecacheConcurrency, convey.ShouldEqual, 4)
			convey.So(cfg.QuestionsPerSession, convey.ShouldEqual, 10)
			convey.So(cfg.RequestTimeout(), convey.ShouldEqual, 15*time.Second)
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})

		convey.Convey("Then remote headers carry the cookie and user agent", func() {
			cfg.AuthCookie = "authToken=abc"
			cfg.Headers = map[string]string{"X-Trace": "1"}
			h := cfg.RemoteHeaders()
			convey.So(h["Cookie"], convey.ShouldEqual, "authToken=abc")
			convey.So(h["User-Agent"], convey.ShouldEqual, cfg.UserAgent)
			convey.So(h["X-Trace"], convey.ShouldEqual, "1")
		})
	})
}
