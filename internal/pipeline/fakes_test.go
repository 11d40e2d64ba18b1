package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/joseph-ayodele/planetafiscal/constants"
	"github.com/joseph-ayodele/planetafiscal/internal/artifacts"
	"github.com/joseph-ayodele/planetafiscal/internal/common"
	"github.com/joseph-ayodele/planetafiscal/internal/llm"
	"github.com/joseph-ayodele/planetafiscal/internal/loader"
)

type reply struct {
	raw string
	err error
}

// scriptedExtractor answers per file name, one reply per attempt. The last
// reply repeats once the script runs out.
type scriptedExtractor struct {
	mu       sync.Mutex
	scripts  map[string][]reply
	calls    map[string]int
	inFlight map[string]int
	overlap  bool
	hook     func(name string)
}

func newScriptedExtractor(scripts map[string][]reply) *scriptedExtractor {
	return &scriptedExtractor{scripts: scripts, calls: map[string]int{}, inFlight: map[string]int{}}
}

func (e *scriptedExtractor) Extract(ctx context.Context, req llm.ExtractionRequest) (string, error) {
	name := req.FilenameHint
	e.mu.Lock()
	e.inFlight[name]++
	if e.inFlight[name] > 1 {
		e.overlap = true
	}
	e.calls[name]++
	n := e.calls[name]
	script := e.scripts[name]
	hook := e.hook
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.inFlight[name]--
		e.mu.Unlock()
	}()
	if hook != nil {
		hook(name)
	}

	if len(script) == 0 {
		return "", common.BackendUnavailable(fmt.Errorf("no script for %s", name))
	}
	if n > len(script) {
		n = len(script)
	}
	r := script[n-1]
	return r.raw, r.err
}

func (e *scriptedExtractor) Calls(name string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[name]
}

// mapLoader serves documents from memory keyed by path.
type mapLoader struct {
	texts  map[string]string
	fail   map[string]error
	panics map[string]string
}

func (l mapLoader) Load(ctx context.Context, path string) (loader.SourceDocument, error) {
	if err := ctx.Err(); err != nil {
		return loader.SourceDocument{}, err
	}
	if msg, ok := l.panics[path]; ok {
		panic(msg)
	}
	if err, ok := l.fail[path]; ok {
		return loader.SourceDocument{}, common.Unreadable(path, err)
	}
	text, ok := l.texts[path]
	if !ok {
		return loader.SourceDocument{}, common.Unreadable(path, fmt.Errorf("no such file"))
	}
	return loader.SourceDocument{
		Path:     path,
		Text:     text,
		Encoding: "UTF-8",
		Format:   constants.MapExtToFormat(filepath.Ext(path)),
	}, nil
}

// memStore is an in-memory artifacts.Store.
type memStore struct {
	mu    sync.Mutex
	files map[string][]byte
	fail  map[string]bool
}

var _ artifacts.Store = (*memStore)(nil)

func newMemStore() *memStore { return &memStore{files: map[string][]byte{}, fail: map[string]bool{}} }

func (s *memStore) Put(_ context.Context, name string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail[name] {
		return fmt.Errorf("disk full")
	}
	s.files[name] = append([]byte(nil), data...)
	return nil
}

func (s *memStore) Get(_ context.Context, name string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[name]
	if !ok {
		return nil, artifacts.ErrNotFound
	}
	return data, nil
}

func (s *memStore) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.files))
	for n := range s.files {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (s *memStore) Location() string { return "mem" }

func (s *memStore) Close() error { return nil }

type captureSink struct {
	recs []llm.ExtractedRecord
	err  error
}

func (c *captureSink) InsertRecords(_ context.Context, recs []llm.ExtractedRecord) (int64, error) {
	c.recs = append(c.recs, recs...)
	return int64(len(recs)), c.err
}

type captureReporter struct {
	summaries []RunSummary
}

func (c *captureReporter) Report(_ context.Context, s RunSummary) error {
	c.summaries = append(c.summaries, s)
	return nil
}
