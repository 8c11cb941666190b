package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/smartystreets/goconvey/convey"
)

func writeQueryFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "queries.fasta")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadQueries(t *testing.T) {
	convey.Convey("Given FASTA query input", t, func() {
		convey.Convey("When the file carries named entries", func() {
			path := writeQueryFile(t, `>q1 some description
MKTAYIAKQR
QISFVKSHFS
>q2
EVQLVESGGG
`)
			queries, err := readQueries([]string{path})

			convey.Convey("Then IDs come from the header and wrapped lines join", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(queries, convey.ShouldHaveLength, 2)
				convey.So(queries[0].ID, convey.ShouldEqual, "q1")
				convey.So(queries[0].Sequence, convey.ShouldEqual, "MKTAYIAKQRQISFVKSHFS")
				convey.So(queries[1].ID, convey.ShouldEqual, "q2")
				convey.So(queries[1].Sequence, convey.ShouldEqual, "EVQLVESGGG")
			})
		})

		convey.Convey("When the input has no headers", func() {
			path := writeQueryFile(t, "MKTAYIAKQR\n")
			queries, err := readQueries([]string{path})

			convey.Convey("Then the bare sequence becomes an unnamed entry", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(queries, convey.ShouldHaveLength, 1)
				convey.So(queries[0].ID, convey.ShouldEqual, "sequence_1")
				convey.So(queries[0].Sequence, convey.ShouldEqual, "MKTAYIAKQR")
			})
		})

		convey.Convey("When several files mix named and unnamed entries", func() {
			first := writeQueryFile(t, "MKTAYIAKQR\n")
			second := writeQueryFile(t, ">named\nEVQLVESGGG\n")
			third := writeQueryFile(t, "QISFVKSHFS\n")
			queries, err := readQueries([]string{first, second, third})

			convey.Convey("Then unnamed numbering runs across files", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(queries, convey.ShouldHaveLength, 3)
				convey.So(queries[0].ID, convey.ShouldEqual, "sequence_1")
				convey.So(queries[1].ID, convey.ShouldEqual, "named")
				convey.So(queries[2].ID, convey.ShouldEqual, "sequence_2")
			})
		})

		convey.Convey("When sequence data contains whitespace", func() {
			path := writeQueryFile(t, ">q1\nMKTAY IAKQR\n")
			_, err := readQueries([]string{path})

			convey.Convey("Then parsing rejects the input instead of normalizing", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(err.Error(), convey.ShouldContainSubstring, "whitespace")
			})
		})

		convey.Convey("When an entry has a header but no sequence", func() {
			path := writeQueryFile(t, ">q1\n>q2\nMKTAYIAKQR\n")
			_, err := readQueries([]string{path})

			convey.So(err, convey.ShouldNotBeNil)
			convey.So(err.Error(), convey.ShouldContainSubstring, "no sequence data")
		})

		convey.Convey("When blank lines separate entries", func() {
			path := writeQueryFile(t, "\n>q1\n\nMKTAYIAKQR\n\n")
			queries, err := readQueries([]string{path})

			convey.So(err, convey.ShouldBeNil)
			convey.So(queries, convey.ShouldHaveLength, 1)
			convey.So(queries[0].Sequence, convey.ShouldEqual, "MKTAYIAKQR")
		})

		convey.Convey("When the file does not exist", func() {
			_, err := readQueries([]string{filepath.Join(t.TempDir(), "missing.fasta")})
			convey.So(err, convey.ShouldNotBeNil)
		})
	})
}
