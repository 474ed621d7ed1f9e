package pipeline

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/aluiziolira/go-scrape-catalog/models"
)

const publicBase = "https://raw.githubusercontent.com/acme/catalog/main/images"

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestSplitImages(t *testing.T) {
	tests := []struct {
		cell string
		want []string
	}{
		{cell: "", want: nil},
		{cell: " | |", want: nil},
		{cell: "a.jpg", want: []string{"a.jpg"}},
		{cell: " a.jpg |b.jpg| | c.jpg ", want: []string{"a.jpg", "b.jpg", "c.jpg"}},
	}

	for _, tt := range tests {
		if got := SplitImages(tt.cell); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("SplitImages(%q) = %v, want %v", tt.cell, got, tt.want)
		}
	}
}

func TestCollectImageURLsDeduplicatesAcrossRows(t *testing.T) {
	table := &models.Table{
		Header: []string{"title", "images"},
		Rows: [][]string{
			{"A", "http://x.test/1.jpg|http://x.test/2.jpg"},
			{"B", "http://x.test/2.jpg | http://x.test/3.jpg"},
			{"C", ""},
			{"short"},
		},
	}

	set, err := CollectImageURLs(table, "images")
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	want := []string{"http://x.test/1.jpg", "http://x.test/2.jpg", "http://x.test/3.jpg"}
	if got := set.Sorted(); !reflect.DeepEqual(got, want) {
		t.Fatalf("urls = %v, want %v", got, want)
	}
}

func TestCollectImageURLsMissingColumn(t *testing.T) {
	if _, err := CollectImageURLs(&models.Table{Header: []string{"title"}}, "images"); err == nil {
		t.Fatalf("expected error for missing column")
	}
}

func TestRewriteImagesPreservesOrderAndFailures(t *testing.T) {
	table := &models.Table{
		Header: []string{"title", "images", "sku"},
		Rows: [][]string{
			{"A", "http://x.test/a/1.jpg| http://x.test/dead.jpg |http://x.test/a/2.jpg", "SKU-AAAAAA"},
			{"B", "", "SKU-BBBBBB"},
			{"C", "http://x.test/unknown.jpg", "SKU-CCCCCC"},
		},
	}
	outcomes := map[string]models.FetchOutcome{
		"http://x.test/a/1.jpg":  {URL: "http://x.test/a/1.jpg", Success: true, LocalName: "1.jpg"},
		"http://x.test/a/2.jpg":  {URL: "http://x.test/a/2.jpg", Success: true, LocalName: "2.jpg", Cached: true},
		"http://x.test/dead.jpg": {URL: "http://x.test/dead.jpg", Err: errors.New("boom")},
	}

	got, err := RewriteImages(table, "images", outcomes, PublicLink(publicBase+"/"))
	if err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	want := [][]string{
		{"A", publicBase + "/1.jpg|http://x.test/dead.jpg|" + publicBase + "/2.jpg", "SKU-AAAAAA"},
		{"B", "", "SKU-BBBBBB"},
		{"C", "http://x.test/unknown.jpg", "SKU-CCCCCC"},
	}
	if !reflect.DeepEqual(got.Rows, want) {
		t.Fatalf("rows = %v, want %v", got.Rows, want)
	}
	if !reflect.DeepEqual(got.Header, table.Header) {
		t.Fatalf("header = %v, want %v", got.Header, table.Header)
	}
	for i := range want {
		if n, m := len(SplitImages(got.Rows[i][1])), len(SplitImages(table.Rows[i][1])); n != m {
			t.Fatalf("row %d image count = %d, want %d", i, n, m)
		}
	}
	if strings.Contains(table.Rows[0][1], publicBase) {
		t.Fatalf("input table was modified: %v", table.Rows[0])
	}
}

func TestReadRewriteWriteRoundTrip(t *testing.T) {
	input := writeFile(t, "in.csv", "\ufefftitle,Images,stock\n"+
		"\"Panel, 6.1\"\"\",http://x.test/p1.jpg|http://x.test/p2.jpg,5\n"+
		"Cable,,0\n"+
		"iPhone 6.1\" LCD,http://x.test/p1.jpg,2\n")

	table, err := ReadTable(input, "images")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(table.Rows) != 3 || table.Rows[0][0] != `Panel, 6.1"` || table.Rows[2][0] != `iPhone 6.1" LCD` {
		t.Fatalf("unexpected rows: %v", table.Rows)
	}

	outcomes := map[string]models.FetchOutcome{
		"http://x.test/p1.jpg": {URL: "http://x.test/p1.jpg", Success: true, LocalName: "p1.jpg"},
	}
	rewritten, err := RewriteImages(table, "images", outcomes, PublicLink(publicBase))
	if err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	output := filepath.Join(t.TempDir(), "nested", "out.csv")
	if err := WriteTable(output, rewritten); err != nil {
		t.Fatalf("write: %v", err)
	}

	reread, err := ReadTable(output, "images")
	if err != nil {
		t.Fatalf("reread: %v", err)
	}
	if !reflect.DeepEqual(reread.Header, table.Header) {
		t.Fatalf("header = %q, want %q", reread.Header, table.Header)
	}
	wantCell := publicBase + "/p1.jpg|http://x.test/p2.jpg"
	if reread.Rows[0][1] != wantCell {
		t.Fatalf("images = %q, want %q", reread.Rows[0][1], wantCell)
	}
	if reread.Rows[1][2] != "0" {
		t.Fatalf("untouched column changed: %v", reread.Rows[1])
	}
	if reread.Rows[2][0] != `iPhone 6.1" LCD` || reread.Rows[2][1] != publicBase+"/p1.jpg" {
		t.Fatalf("bare quote row = %q", reread.Rows[2])
	}
}

func TestReadTableErrorsNamePath(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.csv")
	noColumn := writeFile(t, "nocol.csv", "title,price\nA,1\n")
	empty := writeFile(t, "empty.csv", "")

	for _, path := range []string{missing, noColumn, empty} {
		_, err := ReadTable(path, "images")
		if err == nil {
			t.Fatalf("ReadTable(%s) succeeded, want error", path)
		}
		if !strings.Contains(err.Error(), path) {
			t.Fatalf("error %q does not name %s", err, path)
		}
	}
}

func TestWriteTableErrorNamesPath(t *testing.T) {
	blocker := writeFile(t, "file", "x")
	path := filepath.Join(blocker, "out.csv")

	err := WriteTable(path, &models.Table{Header: []string{"images"}})
	if err == nil {
		t.Fatalf("expected error writing under a regular file")
	}
	if !strings.Contains(err.Error(), path) {
		t.Fatalf("error %q does not name %s", err, path)
	}
}
