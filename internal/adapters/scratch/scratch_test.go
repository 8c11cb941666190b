package scratch_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/okian/protofold/internal/adapters/scratch"
	. "github.com/smartystreets/goconvey/convey"
)

func TestScratchLifecycle(t *testing.T) {
	Convey("Given a scratch manager rooted in a temp directory", t, func() {
		ctx := context.Background()
		root := filepath.Join(t.TempDir(), "scratch")
		manager, err := scratch.NewManager(root)
		So(err, ShouldBeNil)

		Convey("Then the root is created on demand", func() {
			info, err := os.Stat(root)
			So(err, ShouldBeNil)
			So(info.IsDir(), ShouldBeTrue)
		})

		Convey("When a workspace is acquired", func() {
			ws, err := manager.Acquire(ctx, "job-1")
			So(err, ShouldBeNil)

			Convey("Then it is a usable directory scoped to the job", func() {
				info, err := os.Stat(ws.Dir())
				So(err, ShouldBeNil)
				So(info.IsDir(), ShouldBeTrue)
				So(strings.HasPrefix(filepath.Base(ws.Dir()), "job-1-"), ShouldBeTrue)
			})

			Convey("Then Path joins inside the workspace", func() {
				So(ws.Path("hits.tsv"), ShouldEqual, filepath.Join(ws.Dir(), "hits.tsv"))
			})

			Convey("Then spills land inside the workspace", func() {
				So(ws.WriteSpill("hits.tsv", []byte("ref_a\t0.91\n")), ShouldBeNil)
				data, err := os.ReadFile(ws.Path("hits.tsv"))
				So(err, ShouldBeNil)
				So(string(data), ShouldEqual, "ref_a\t0.91\n")
			})

			Convey("Then spilling into a released workspace is rejected", func() {
				ws.Release(ctx)
				So(ws.WriteSpill("hits.tsv", []byte("late")), ShouldNotBeNil)
			})

			Convey("Then release removes the directory and its contents", func() {
				So(os.WriteFile(ws.Path("hits.tsv"), []byte("data"), 0o644), ShouldBeNil)
				dir := ws.Dir()
				ws.Release(ctx)

				_, err := os.Stat(dir)
				So(os.IsNotExist(err), ShouldBeTrue)
			})

			Convey("Then releasing twice is harmless", func() {
				ws.Release(ctx)
				ws.Release(ctx)
				So(ws.Dir(), ShouldBeEmpty)
			})
		})

		Convey("When two jobs acquire workspaces", func() {
			a, errA := manager.Acquire(ctx, "job-a")
			b, errB := manager.Acquire(ctx, "job-b")
			So(errA, ShouldBeNil)
			So(errB, ShouldBeNil)

			Convey("Then the directories never collide", func() {
				So(a.Dir(), ShouldNotEqual, b.Dir())
			})

			Convey("Then releasing one leaves the other intact", func() {
				a.Release(ctx)
				_, err := os.Stat(b.Dir())
				So(err, ShouldBeNil)
			})
		})
	})
}
