package metricsd

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

type stubStats struct{}

func (stubStats) Stats(ctx context.Context) map[string]interface{} {
	return map[string]interface{}{"started": true, "totalJobs": 3}
}

func TestHandlers(t *testing.T) {
	Convey("Given the metrics server handlers", t, func() {
		Convey("When the liveness probe is hit", func() {
			s := New(":0", nil)
			rec := httptest.NewRecorder()
			s.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

			Convey("Then it answers ok", func() {
				So(rec.Code, ShouldEqual, http.StatusOK)
				So(rec.Body.String(), ShouldContainSubstring, `"status":"ok"`)
			})
		})

		Convey("When stats are requested", func() {
			s := New(":0", stubStats{})
			rec := httptest.NewRecorder()
			s.handleStats(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

			Convey("Then the service view is serialized", func() {
				So(rec.Code, ShouldEqual, http.StatusOK)
				var body map[string]interface{}
				So(json.Unmarshal(rec.Body.Bytes(), &body), ShouldBeNil)
				So(body["started"], ShouldEqual, true)
				So(body["totalJobs"], ShouldEqual, 3)
			})
		})

		Convey("When no stats source is wired", func() {
			s := New(":0", nil)
			rec := httptest.NewRecorder()
			s.handleStats(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

			Convey("Then the endpoint degrades to an empty object", func() {
				So(rec.Code, ShouldEqual, http.StatusOK)
				So(rec.Body.String(), ShouldEqual, `{}`)
			})
		})

		Convey("When stopping a server that never started", func() {
			s := New(":0", nil)
			So(s.Stop(context.Background()), ShouldBeNil)
		})
	})
}
