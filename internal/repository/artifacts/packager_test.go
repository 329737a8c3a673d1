package artifacts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/lapidary-search/lapidary/internal/domain"
	"github.com/lapidary-search/lapidary/internal/metrics"
	"github.com/lapidary-search/lapidary/internal/repository/results"
)

func TestSafeLabel(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Gold Necklace! 24K", "gold_necklace_24k"},
		{"gold necklace", "gold_necklace"},
		{"../../etc/passwd", "etc_passwd"},
		{"हार", "query"},
		{"", "query"},
		{"__already__safe__", "already_safe"},
	}
	for _, tt := range tests {
		if got := SafeLabel(tt.in); got != tt.want {
			t.Errorf("SafeLabel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSafeLabel_NeverEscapesRoot(t *testing.T) {
	for _, in := range []string{"../escape", "a/../../b", "..\\windows"} {
		got := SafeLabel(in)
		if strings.Contains(got, "/") || strings.Contains(got, "\\") || strings.Contains(got, "..") {
			t.Errorf("SafeLabel(%q) = %q contains path characters", in, got)
		}
	}
}

func TestArtifactName(t *testing.T) {
	got := ArtifactName(3, "score", 4.25, "ring-001", ".jpg")
	if got != "03_score_4.2500_ring_001.jpg" {
		t.Errorf("unexpected artifact name %q", got)
	}
}

func writeSource(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("image-bytes"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	return path
}

func testResults(t *testing.T, srcDir string) []domain.RankedResult {
	t.Helper()
	return []domain.RankedResult{
		{Candidate: domain.Candidate{ProductID: "p1", Path: writeSource(t, srcDir, "p1.jpg")}, RerankScore: 0.91, Rank: 1},
		{Candidate: domain.Candidate{ProductID: "p2", Path: writeSource(t, srcDir, "p2.png")}, RerankScore: 0.85, Rank: 2},
	}
}

func TestPackage_WritesBothViews(t *testing.T) {
	srcDir := t.TempDir()
	outDir := t.TempDir()
	store := results.NewFileStore(outDir)
	p := New(outDir, 2, store, zap.NewNop())

	ranked := testResults(t, srcDir)
	queryDir, err := p.Package("Gold Ring", "gold ring", ranked, ranked)
	if err != nil {
		t.Fatalf("package: %v", err)
	}
	if queryDir != filepath.Join(outDir, "gold_ring") {
		t.Errorf("unexpected query dir %q", queryDir)
	}

	for _, view := range []string{"embedding_only", "reranked"} {
		entries, err := os.ReadDir(filepath.Join(queryDir, view))
		if err != nil {
			t.Fatalf("read %s: %v", view, err)
		}
		if len(entries) != 2 {
			t.Errorf("%s: expected 2 artifacts, got %d", view, len(entries))
		}
	}

	entry, err := store.Get("gold_ring")
	if err != nil {
		t.Fatalf("stored entry: %v", err)
	}
	if len(entry.Reranked) != 2 || entry.Query != "gold ring" {
		t.Errorf("unexpected stored entry %+v", entry)
	}
}

func TestPackage_ArtifactNaming(t *testing.T) {
	srcDir := t.TempDir()
	outDir := t.TempDir()
	p := New(outDir, 1, results.NewFileStore(outDir), zap.NewNop())

	ranked := []domain.RankedResult{
		{Candidate: domain.Candidate{ProductID: "p1", Path: writeSource(t, srcDir, "p1.jpg")}, RerankScore: 0.9137, Rank: 1},
	}
	queryDir, err := p.Package("q", "q", ranked, nil)
	if err != nil {
		t.Fatalf("package: %v", err)
	}

	want := filepath.Join(queryDir, "embedding_only", "01_dist_0.9137_p1.jpg")
	if _, err := os.Stat(want); err != nil {
		t.Errorf("expected artifact %s: %v", want, err)
	}
}

func TestPackage_MissingSourceSkipped(t *testing.T) {
	srcDir := t.TempDir()
	outDir := t.TempDir()
	p := New(outDir, 2, results.NewFileStore(outDir), zap.NewNop())

	ranked := []domain.RankedResult{
		{Candidate: domain.Candidate{ProductID: "gone", Path: "/nonexistent/gone.jpg"}, RerankScore: 0.9, Rank: 1},
		{Candidate: domain.Candidate{ProductID: "p2", Path: writeSource(t, srcDir, "p2.jpg")}, RerankScore: 0.8, Rank: 2},
	}
	queryDir, err := p.Package("partial", "partial", ranked, nil)
	if err != nil {
		t.Fatalf("package must not fail on a missing source: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(queryDir, "embedding_only"))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected 1 surviving artifact, got %d", len(entries))
	}
}

func TestPackage_MissingSourceCountsFallback(t *testing.T) {
	outDir := t.TempDir()
	p := New(outDir, 1, results.NewFileStore(outDir), zap.NewNop())

	before := testutil.ToFloat64(metrics.FallbacksTotal.WithLabelValues("copy"))

	ranked := []domain.RankedResult{
		{Candidate: domain.Candidate{ProductID: "gone", Path: "/nonexistent/gone.jpg"}, RerankScore: 0.9, Rank: 1},
	}
	if _, err := p.Package("q", "q", ranked, nil); err != nil {
		t.Fatalf("package: %v", err)
	}

	after := testutil.ToFloat64(metrics.FallbacksTotal.WithLabelValues("copy"))
	if after != before+1 {
		t.Errorf("copy fallback counter = %f, want %f", after, before+1)
	}
}

func TestPackage_RerunReplacesArtifacts(t *testing.T) {
	srcDir := t.TempDir()
	outDir := t.TempDir()
	p := New(outDir, 1, results.NewFileStore(outDir), zap.NewNop())

	first := testResults(t, srcDir)
	if _, err := p.Package("q", "q", first, first); err != nil {
		t.Fatalf("first package: %v", err)
	}

	second := first[:1]
	queryDir, err := p.Package("q", "q", second, second)
	if err != nil {
		t.Fatalf("second package: %v", err)
	}

	entries, _ := os.ReadDir(filepath.Join(queryDir, "reranked"))
	if len(entries) != 1 {
		t.Errorf("stale artifacts survived rerun: %d entries", len(entries))
	}
}
