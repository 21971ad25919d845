package pipeline

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func writeArtifact(t *testing.T, dir, name, body string) *ClipArtifact {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return &ClipArtifact{Kind: KindFinal, Path: p}
}

func TestBundleWithoutFinalsCreatesNothing(t *testing.T) {
	dir := t.TempDir()
	b := NewBundler(dir)

	cases := map[string][]ClipResult{
		"empty": nil,
		"previews only": {
			{Preview: &ClipArtifact{Kind: KindPreview, Path: "/x/p.mp4"}},
		},
		"failures only": {
			{Err: &Error{Kind: KindTranscodeFailure}},
		},
	}
	for name, results := range cases {
		arc, err := b.Bundle(results)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", name, err)
		}
		if arc != nil {
			t.Errorf("%s: expected no archive, got %+v", name, arc)
		}
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("no file may be created, found %v", entries)
	}
}

func TestBundleZipsFinalsInOrder(t *testing.T) {
	src := t.TempDir()
	out := t.TempDir()
	a := writeArtifact(t, src, "a_1080.mp4", "first")
	b := writeArtifact(t, filepath.Join(src, "other"), "a_1080.mp4", "second")
	c := writeArtifact(t, src, "c_1080.mp4", "third")

	results := []ClipResult{
		{Final: a},
		{Err: &Error{Kind: KindTimeout}},
		{Final: b},
		{Preview: &ClipArtifact{Kind: KindPreview, Path: "/nope.mp4"}, Final: c},
	}
	arc, err := NewBundler(out).Bundle(results)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if arc == nil {
		t.Fatal("expected an archive")
	}
	if filepath.Dir(arc.Path) != out || filepath.Ext(arc.Path) != ".zip" {
		t.Errorf("unexpected archive path %q", arc.Path)
	}

	zr, err := zip.OpenReader(arc.Path)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer zr.Close()

	want := []struct{ name, body string }{
		{"a_1080.mp4", "first"},
		{"a_1080_2.mp4", "second"},
		{"c_1080.mp4", "third"},
	}
	if len(zr.File) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(zr.File))
	}
	for i, f := range zr.File {
		if f.Name != want[i].name {
			t.Errorf("entry %d = %q, want %q", i, f.Name, want[i].name)
		}
		rc, err := f.Open()
		if err != nil {
			t.Fatal(err)
		}
		body, _ := io.ReadAll(rc)
		rc.Close()
		if string(body) != want[i].body {
			t.Errorf("entry %s body = %q", f.Name, body)
		}
	}

	leftovers, _ := filepath.Glob(filepath.Join(out, ".clips-*"))
	if len(leftovers) != 0 {
		t.Errorf("temporary files left: %v", leftovers)
	}
}

func TestBundleMissingFileCleansUp(t *testing.T) {
	out := t.TempDir()
	results := []ClipResult{{Final: &ClipArtifact{Kind: KindFinal, Path: filepath.Join(out, "gone.mp4")}}}

	arc, err := NewBundler(out).Bundle(results)
	if err == nil || arc != nil {
		t.Fatalf("expected an error, got %+v, %v", arc, err)
	}
	entries, _ := os.ReadDir(out)
	if len(entries) != 0 {
		t.Errorf("failed bundle must not leave files: %v", entries)
	}
}

func TestEntryNamesAreDeterministic(t *testing.T) {
	arts := []*ClipArtifact{
		{Path: "/a/x.mp4"}, {Path: "/b/x.mp4"}, {Path: "/c/x_2.mp4"}, {Path: "/d/x.mp4"},
	}
	got := EntryNames(arts)
	want := []string{"x.mp4", "x_2.mp4", "x_2_2.mp4", "x_3.mp4"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("name %d = %q, want %q", i, got[i], want[i])
		}
	}
}
