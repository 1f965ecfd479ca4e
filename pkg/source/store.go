package source

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"methodlift/pkg/types"
)

// Edit is one replace/insert range in document byte offsets. An insert has
// Start == End.
type Edit struct {
	Start int
	End   int
	Text  string
}

// DocumentStore is the edit application layer: it tracks a version per
// document and applies ordered edit sets atomically. Reads (snapshots) are
// concurrent; Apply serializes against the version captured at snapshot time
// and fails with StaleSnapshot when the document moved on.
type DocumentStore struct {
	mu     sync.RWMutex
	root   string
	logger *slog.Logger
	docs   map[string]*document
}

type document struct {
	content []byte
	version int64
}

func NewDocumentStore(root string, logger *slog.Logger) *DocumentStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentStore{
		root:   root,
		logger: logger,
		docs:   make(map[string]*document),
	}
}

// Root returns the workspace root directory.
func (s *DocumentStore) Root() string {
	return s.root
}

func (s *DocumentStore) resolve(path string) string {
	if filepath.IsAbs(path) || s.root == "" {
		return path
	}
	return filepath.Join(s.root, path)
}

// Snapshot captures an immutable parse of path at its current version,
// loading from disk on first access.
func (s *DocumentStore) Snapshot(path string) (*Snapshot, error) {
	full := s.resolve(path)

	s.mu.Lock()
	doc, ok := s.docs[full]
	if !ok || doc.content == nil {
		content, err := os.ReadFile(full)
		if err != nil {
			s.mu.Unlock()
			return nil, fmt.Errorf("read %s: %w", full, err)
		}
		if !ok {
			doc = &document{version: 1}
			s.docs[full] = doc
		}
		doc.content = content
	}
	content, version := doc.content, doc.version
	s.mu.Unlock()

	return NewSnapshot(full, content, version)
}

// Open seeds the store with in-memory content, mainly for documents that are
// not yet on disk and for tests.
func (s *DocumentStore) Open(path string, content []byte) int64 {
	full := s.resolve(path)
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[full]
	if !ok {
		doc = &document{}
		s.docs[full] = doc
	}
	doc.content = append([]byte(nil), content...)
	doc.version++
	return doc.version
}

// Version reports the current version of path, 0 when unknown.
func (s *DocumentStore) Version(path string) int64 {
	full := s.resolve(path)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if doc, ok := s.docs[full]; ok {
		return doc.version
	}
	return 0
}

// Invalidate drops cached content and bumps the version; the watcher calls
// this when a file changes on disk underneath us. In-flight snapshots keep
// their captured content, but their version no longer matches, so any apply
// built on them fails with StaleSnapshot.
func (s *DocumentStore) Invalidate(path string) {
	full := s.resolve(path)
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc, ok := s.docs[full]; ok {
		doc.content = nil
		doc.version++
	}
}

// Apply applies edits to path as a single atomic step, guarded by the version
// the caller captured at snapshot time. Either every edit lands and the new
// version is returned, or nothing is observable and an error is returned.
func (s *DocumentStore) Apply(path string, version int64, edits []Edit) (int64, error) {
	if len(edits) == 0 {
		return version, nil
	}
	full := s.resolve(path)

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[full]
	if !ok {
		return 0, types.Errf(types.StaleSnapshot, "document %s was never snapshotted", full)
	}
	if doc.version != version {
		return 0, &types.ExtractError{
			Kind:   types.StaleSnapshot,
			Detail: fmt.Sprintf("document moved from version %d to %d", version, doc.version),
			Path:   full,
		}
	}
	if doc.content == nil {
		// Invalidated but version happened to match: refuse rather than guess.
		return 0, types.Errf(types.StaleSnapshot, "document %s content was invalidated", full)
	}

	updated, err := Patch(doc.content, edits)
	if err != nil {
		return 0, err
	}

	// Write through a temp file + rename so a crash never leaves a torn file.
	tmp, err := os.CreateTemp(filepath.Dir(full), ".methodlift-*")
	if err != nil {
		return 0, fmt.Errorf("stage write for %s: %w", full, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(updated); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return 0, fmt.Errorf("stage write for %s: %w", full, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return 0, fmt.Errorf("stage write for %s: %w", full, err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		os.Remove(tmpName)
		return 0, fmt.Errorf("apply edits to %s: %w", full, err)
	}

	doc.content = updated
	doc.version++
	s.logger.Debug("edits applied", "path", full, "edits", len(edits), "version", doc.version)
	return doc.version, nil
}

// Patch applies edits to content without touching the store: it rejects
// overlapping ranges and splices back to front so earlier offsets stay valid.
// Apply uses it under the store lock; callers use it to inspect what an apply
// would produce.
func Patch(content []byte, edits []Edit) ([]byte, error) {
	sorted := append([]Edit(nil), edits...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	for i := 0; i < len(sorted); i++ {
		e := sorted[i]
		if e.Start < 0 || e.End < e.Start || e.End > len(content) {
			return nil, types.Errf(types.InternalAnalysisFailure,
				"edit range %d-%d outside document of %d bytes", e.Start, e.End, len(content))
		}
		if i > 0 && e.Start < sorted[i-1].End {
			return nil, types.Errf(types.InternalAnalysisFailure,
				"overlapping edits at offset %d", e.Start)
		}
	}

	out := append([]byte(nil), content...)
	for i := len(sorted) - 1; i >= 0; i-- {
		e := sorted[i]
		out = append(out[:e.Start], append([]byte(e.Text), out[e.End:]...)...)
	}
	return out, nil
}
