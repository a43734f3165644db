// package testing contains shared testing utilities
package testing

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"sync"
	"testing"

	"github.com/desertthunder/tunelink/internal/models"
)

// FakeEngine is a test double for the engine binding consumed by players and
// the pool. It records every update so tests can assert on coalesced
// payloads and command order.
type FakeEngine struct {
	EngineName   string
	EngineRegion string
	ScoreValue   float64
	Up           bool
	UpdateErr    error
	LoadResult   *models.LoadResult
	LoadErr      error

	mu        sync.Mutex
	updates   []RecordedUpdate
	destroyed []string
	loads     []string
}

// RecordedUpdate is one captured Update call.
type RecordedUpdate struct {
	GuildID   string
	Payload   map[string]any
	NoReplace bool
}

func NewFakeEngine(name string) *FakeEngine {
	return &FakeEngine{EngineName: name, Up: true}
}

func (f *FakeEngine) Name() string { return f.EngineName }

func (f *FakeEngine) Region() string { return f.EngineRegion }

func (f *FakeEngine) Score() float64 { return f.ScoreValue }

func (f *FakeEngine) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Up
}

// SetConnected flips the fake's liveness.
func (f *FakeEngine) SetConnected(up bool) {
	f.mu.Lock()
	f.Up = up
	f.mu.Unlock()
}

func (f *FakeEngine) Update(_ context.Context, guildID string, payload map[string]any, noReplace bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.UpdateErr != nil {
		return f.UpdateErr
	}
	f.updates = append(f.updates, RecordedUpdate{GuildID: guildID, Payload: payload, NoReplace: noReplace})
	return nil
}

func (f *FakeEngine) DestroyPlayer(_ context.Context, guildID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed = append(f.destroyed, guildID)
	return nil
}

func (f *FakeEngine) LoadTracks(_ context.Context, identifier string) (*models.LoadResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads = append(f.loads, identifier)
	if f.LoadErr != nil {
		return nil, f.LoadErr
	}
	if f.LoadResult != nil {
		return f.LoadResult, nil
	}
	return &models.LoadResult{LoadType: models.LoadTypeEmpty}, nil
}

// Loads returns the identifiers passed to LoadTracks.
func (f *FakeEngine) Loads() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]string, len(f.loads))
	copy(cp, f.loads)
	return cp
}

// Updates returns a copy of the recorded Update calls.
func (f *FakeEngine) Updates() []RecordedUpdate {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]RecordedUpdate, len(f.updates))
	copy(cp, f.updates)
	return cp
}

// DestroyedGuilds returns the guild ids passed to DestroyPlayer.
func (f *FakeEngine) DestroyedGuilds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]string, len(f.destroyed))
	copy(cp, f.destroyed)
	return cp
}

// FWriter always returns an error on Write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

// LimitedWriter fails after a certain number of writes
type LimitedWriter struct {
	maxWrites int
	written   int
	target    io.Writer
}

func (l *LimitedWriter) Write(p []byte) (n int, err error) {
	if l.written >= l.maxWrites {
		return 0, errors.New("write limit exceeded")
	}
	l.written++
	return l.target.Write(p)
}

func NewLimitedWriter(maxWrites, written int, target io.Writer) LimitedWriter {
	return LimitedWriter{maxWrites: maxWrites, written: written, target: target}
}

// MockRoundTripper allows custom HTTP responses for testing
type MockRoundTripper struct {
	response *http.Response
	err      error
}

func NewMockRoundTripper(r *http.Response, e error) *MockRoundTripper {
	return &MockRoundTripper{response: r, err: e}
}

func (m *MockRoundTripper) RoundTrip(*http.Request) (*http.Response, error) {
	return m.response, m.err
}

// FCloser simulates a failure when reading response body
type FCloser struct{}

func (f *FCloser) Read(p []byte) (n int, err error) {
	return 0, errors.New("read failed")
}

func (f *FCloser) Close() error {
	return nil
}

func MustGetwd(t *testing.T) string {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Failed to get working directory: %v", err)
	}
	return wd
}

func MustChdir(t *testing.T, dir string) {
	t.Helper()
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Failed to change directory to %s: %v", dir, err)
	}
}

func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("File does not exist: %s", path)
	}
}

func AssertDirExists(t *testing.T, path string) {
	t.Helper()
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		t.Errorf("Directory does not exist: %s", path)
		return
	}
	if !info.IsDir() {
		t.Errorf("Path is not a directory: %s", path)
	}
}

func MustReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(content)
}
