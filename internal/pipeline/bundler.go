package pipeline

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Archive is a zip of final exports.
type Archive struct {
	Path      string
	Entries   []string
	SizeBytes int64
}

// Bundler packages final artifacts of a settled run.
type Bundler struct {
	dir string
	now func() time.Time
}

func NewBundler(dir string) *Bundler {
	return &Bundler{dir: dir, now: time.Now}
}

// Bundle zips every final artifact in results order. It returns nil, nil
// when there is nothing to bundle; no file is created in that case.
func (b *Bundler) Bundle(results []ClipResult) (*Archive, error) {
	var finals []*ClipArtifact
	for _, r := range results {
		if r.Err == nil && r.Final != nil {
			finals = append(finals, r.Final)
		}
	}
	if len(finals) == 0 {
		return nil, nil
	}

	if err := os.MkdirAll(b.dir, 0755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	tmp, err := os.CreateTemp(b.dir, ".clips-*.zip.tmp")
	if err != nil {
		return nil, fmt.Errorf("create archive: %w", err)
	}
	tmpPath := tmp.Name()
	ok := false
	defer func() {
		if !ok {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	names := EntryNames(finals)
	zw := zip.NewWriter(tmp)
	for i, a := range finals {
		if err := addEntry(zw, a.Path, names[i]); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finalize archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close archive: %w", err)
	}

	stamp := b.now().UTC().Format("20060102_150405")
	final := filepath.Join(b.dir, fmt.Sprintf("clips_%s_%s.zip", stamp, uuid.NewString()[:8]))
	if err := os.Rename(tmpPath, final); err != nil {
		return nil, fmt.Errorf("publish archive: %w", err)
	}
	ok = true

	arc := &Archive{Path: final, Entries: names}
	if info, err := os.Stat(final); err == nil {
		arc.SizeBytes = info.Size()
	}
	return arc, nil
}

// EntryNames derives archive entry names from basenames. A repeated name gets
// a _2, _3, ... suffix before its extension, in input order.
func EntryNames(artifacts []*ClipArtifact) []string {
	used := make(map[string]bool, len(artifacts))
	names := make([]string, len(artifacts))
	for i, a := range artifacts {
		base := filepath.Base(a.Path)
		name := base
		ext := filepath.Ext(base)
		stem := strings.TrimSuffix(base, ext)
		for n := 2; used[name]; n++ {
			name = fmt.Sprintf("%s_%d%s", stem, n, ext)
		}
		used[name] = true
		names[i] = name
	}
	return names
}

// addEntry stores the file without compression; mp4 payloads are already compressed.
func addEntry(zw *zip.Writer, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", filepath.Base(path), err)
	}
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	hdr.Name = name
	hdr.Method = zip.Store

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("add %s: %w", name, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}
