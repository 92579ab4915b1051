package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobradar/importer/internal/importer/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeFetcher struct {
	mu       sync.Mutex
	payloads map[string][]byte
	errs     map[string]error
	block    chan struct{}
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errs[url]; ok {
		return nil, err
	}
	return f.payloads[url], nil
}

// fakeParser emits one record per payload byte.
type fakeParser struct{}

func (fakeParser) Parse(payload []byte, sourceURL string) []domain.JobRecord {
	if len(payload) == 0 {
		return nil
	}
	var records []domain.JobRecord
	for i := range payload {
		records = append(records, domain.JobRecord{
			ExternalID: fmt.Sprintf("job-%d", i),
			SourceURL:  sourceURL,
			Title:      "title",
		})
	}
	return records
}

type fakeLedger struct {
	mu          sync.Mutex
	nextRunID   int
	opened      map[string]int // sourceURL -> fetched count
	closedEmpty []string
	failed      map[string]string // runID -> message
	openErr     error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		opened: make(map[string]int),
		failed: make(map[string]string),
	}
}

func (l *fakeLedger) OpenRun(ctx context.Context, sourceURL string, fetched int) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.openErr != nil {
		return "", l.openErr
	}
	l.nextRunID++
	l.opened[sourceURL] = fetched
	return fmt.Sprintf("run-%d", l.nextRunID), nil
}

func (l *fakeLedger) CloseRunIfEmpty(ctx context.Context, runID string, duration time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closedEmpty = append(l.closedEmpty, runID)
	return nil
}

func (l *fakeLedger) FailRun(ctx context.Context, runID, message string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failed[runID] = message
	return nil
}

type fakeQueue struct {
	mu        sync.Mutex
	published [][]byte
	err       error
}

func (q *fakeQueue) PublishBulk(ctx context.Context, bodies [][]byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.published = append(q.published, bodies...)
	return nil
}

func newTestPipeline(fetcher Fetcher, ledger RunLedger, queue Publisher, feeds []string) *Pipeline {
	return NewPipeline(&Config{
		Logger:           testLogger(),
		Fetcher:          fetcher,
		Parser:           fakeParser{},
		Ledger:           ledger,
		Queue:            queue,
		Feeds:            feeds,
		FetchConcurrency: 2,
	})
}

func TestPipeline_Run(t *testing.T) {
	feeds := []string{"https://a.example/feed", "https://b.example/feed"}
	fetcher := &fakeFetcher{payloads: map[string][]byte{
		feeds[0]: []byte("abc"), // 3 records
		feeds[1]: []byte("ab"),  // 2 records
	}}
	ledger := newFakeLedger()
	queue := &fakeQueue{}

	p := newTestPipeline(fetcher, ledger, queue, feeds)

	results, err := p.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.True(t, results[0].Success)
	assert.Equal(t, 3, results[0].JobsQueued)
	assert.NotEmpty(t, results[0].ImportRunID)
	assert.True(t, results[1].Success)
	assert.Equal(t, 2, results[1].JobsQueued)

	assert.Equal(t, 3, ledger.opened[feeds[0]])
	assert.Equal(t, 2, ledger.opened[feeds[1]])
	assert.Len(t, queue.published, 5)

	// Every published body is a complete queue unit tagged with its run.
	var unit domain.QueueUnit
	require.NoError(t, json.Unmarshal(queue.published[0], &unit))
	assert.NotEmpty(t, unit.RunID)
	assert.NotEmpty(t, unit.SourceURL)
	assert.Equal(t, unit.SourceURL, unit.Job.SourceURL)
}

func TestPipeline_Run_PartialFailureIsolated(t *testing.T) {
	feeds := []string{
		"https://a.example/feed",
		"https://broken.example/feed",
		"https://c.example/feed",
	}
	fetcher := &fakeFetcher{
		payloads: map[string][]byte{
			feeds[0]: []byte("ab"),
			feeds[2]: []byte("a"),
		},
		errs: map[string]error{
			feeds[1]: errors.New("connection refused"),
		},
	}
	ledger := newFakeLedger()
	queue := &fakeQueue{}

	p := newTestPipeline(fetcher, ledger, queue, feeds)

	results, err := p.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.Contains(t, results[1].Error, "connection refused")
	assert.True(t, results[2].Success)

	// No run is opened for a feed that never fetched.
	_, opened := ledger.opened[feeds[1]]
	assert.False(t, opened)
	assert.Len(t, queue.published, 3)
}

func TestPipeline_Run_EmptyFeedClosesRun(t *testing.T) {
	feeds := []string{"https://empty.example/feed"}
	fetcher := &fakeFetcher{payloads: map[string][]byte{feeds[0]: nil}}
	ledger := newFakeLedger()
	queue := &fakeQueue{}

	p := newTestPipeline(fetcher, ledger, queue, feeds)

	results, err := p.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.True(t, results[0].Success)
	assert.Equal(t, 0, results[0].JobsQueued)
	assert.Len(t, ledger.closedEmpty, 1)
	assert.Empty(t, queue.published)
}

func TestPipeline_Run_PublishFailureFailsRun(t *testing.T) {
	feeds := []string{"https://a.example/feed"}
	fetcher := &fakeFetcher{payloads: map[string][]byte{feeds[0]: []byte("ab")}}
	ledger := newFakeLedger()
	queue := &fakeQueue{err: errors.New("channel closed")}

	p := newTestPipeline(fetcher, ledger, queue, feeds)

	results, err := p.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.False(t, results[0].Success)
	assert.Contains(t, results[0].Error, "channel closed")
	require.Len(t, ledger.failed, 1)
	assert.Equal(t, "channel closed", ledger.failed["run-1"])
}

func TestPipeline_Run_OverlappingInvocation(t *testing.T) {
	feeds := []string{"https://a.example/feed"}
	block := make(chan struct{})
	fetcher := &fakeFetcher{
		payloads: map[string][]byte{feeds[0]: []byte("a")},
		block:    block,
	}
	ledger := newFakeLedger()
	queue := &fakeQueue{}

	p := newTestPipeline(fetcher, ledger, queue, feeds)

	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		close(started)
		_, err := p.Run(context.Background())
		assert.NoError(t, err)
		close(done)
	}()

	<-started
	// Wait until the first run holds the lease.
	require.Eventually(t, func() bool {
		_, err := p.Run(context.Background())
		return errors.Is(err, domain.ErrImportInProgress)
	}, time.Second, 5*time.Millisecond)

	close(block)
	<-done

	// Lease is released after the cycle completes.
	results, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, results, 1)
}
