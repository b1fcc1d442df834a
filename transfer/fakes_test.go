package transfer

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/bitrise-io/go-chunktransfer/transfer/chunkplan"
	"github.com/bitrise-io/go-chunktransfer/transfer/network"
	"github.com/bitrise-io/go-chunktransfer/transfer/progress"
	"github.com/bitrise-io/go-utils/v2/analytics"
)

type storedFile struct {
	name        string
	size        uint64
	totalChunks uint32
	chunks      map[uint32][]byte
}

// fakeClient is an in-memory backend with hooks for injecting failures and delays.
type fakeClient struct {
	chunkSize uint32

	initErr  func(name string) error
	putHook  func(ctx context.Context, name string, index uint32) error
	getErr   func(index uint32) error
	putDelay time.Duration

	mu          sync.Mutex
	nextID      int
	files       map[network.FileID]*storedFile
	initOrder   []string
	putCalls    map[string]int
	inFlight    int
	maxInFlight int
	deleted     []network.FileID
}

func newFakeClient(chunkSize uint32) *fakeClient {
	return &fakeClient{
		chunkSize: chunkSize,
		files:     map[network.FileID]*storedFile{},
		putCalls:  map[string]int{},
	}
}

func (c *fakeClient) Initialize(ctx context.Context, fileName, mimeType string, size uint64) (network.Descriptor, error) {
	c.mu.Lock()
	c.initOrder = append(c.initOrder, fileName)
	c.mu.Unlock()

	if c.initErr != nil {
		if err := c.initErr(fileName); err != nil {
			return network.Descriptor{}, &network.InitError{FileName: fileName, Err: err}
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := network.FileID(strconv.Itoa(c.nextID))
	total := uint32(chunkplan.TotalChunks(size, c.chunkSize))
	c.files[id] = &storedFile{name: fileName, size: size, totalChunks: total, chunks: map[uint32][]byte{}}
	c.inFlight++
	if c.inFlight > c.maxInFlight {
		c.maxInFlight = c.inFlight
	}

	return network.Descriptor{FileID: id, TotalChunks: total, ChunkSize: c.chunkSize}, nil
}

func (c *fakeClient) PutChunk(ctx context.Context, id network.FileID, index uint32, data []byte) (network.ChunkAck, error) {
	c.mu.Lock()
	f, ok := c.files[id]
	if !ok {
		c.mu.Unlock()
		return network.ChunkAck{}, &network.ChunkError{Index: index, Op: "upload", Err: network.ErrNotFound}
	}
	c.putCalls[f.name]++
	c.mu.Unlock()

	if c.putDelay > 0 {
		time.Sleep(c.putDelay)
	}
	if c.putHook != nil {
		if err := c.putHook(ctx, f.name, index); err != nil {
			return network.ChunkAck{}, &network.ChunkError{Index: index, Op: "upload", Err: err}
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	f.chunks[index] = append([]byte(nil), data...)
	completed := uint32(len(f.chunks)) == f.totalChunks
	if completed {
		c.inFlight--
	}
	return network.ChunkAck{ChunkNumber: index, Uploaded: true, Completed: completed, UploadedChunks: uint32(len(f.chunks))}, nil
}

func (c *fakeClient) GetChunk(ctx context.Context, id network.FileID, index uint32) ([]byte, error) {
	if c.getErr != nil {
		if err := c.getErr(index); err != nil {
			return nil, &network.ChunkError{Index: index, Op: "download", Err: err}
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	f, ok := c.files[id]
	if !ok {
		return nil, &network.ChunkError{Index: index, Op: "download", Err: network.ErrNotFound}
	}
	data, ok := f.chunks[index]
	if !ok {
		return nil, &network.ChunkError{Index: index, Op: "download", Err: network.ErrNotFound}
	}
	return data, nil
}

func (c *fakeClient) DeleteTransfer(ctx context.Context, id network.FileID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.files[id]; !ok {
		return &network.DeleteError{FileID: id, Err: network.ErrNotFound}
	}
	delete(c.files, id)
	c.deleted = append(c.deleted, id)
	return nil
}

func (c *fakeClient) content(name string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, f := range c.files {
		if f.name != name {
			continue
		}
		var out []byte
		for i := uint32(0); i < f.totalChunks; i++ {
			chunk, ok := f.chunks[i]
			if !ok {
				return nil, false
			}
			out = append(out, chunk...)
		}
		return out, true
	}
	return nil, false
}

func (c *fakeClient) idOf(name string) network.FileID {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, f := range c.files {
		if f.name == name {
			return id
		}
	}
	return ""
}

// recordingSink keeps every event it receives in delivery order.
type recordingSink struct {
	mu        sync.Mutex
	events    []string
	failures  map[string]error
	snapshots map[string][]progress.Snapshot
	onIdle    func()
}

func newRecordingSink() *recordingSink {
	return &recordingSink{
		failures:  map[string]error{},
		snapshots: map[string][]progress.Snapshot{},
	}
}

func (s *recordingSink) record(event string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *recordingSink) FileStarted(name string) {
	s.record("started:" + name)
}

func (s *recordingSink) Progress(snapshot progress.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snapshot.FileName] = append(s.snapshots[snapshot.FileName], snapshot)
}

func (s *recordingSink) FileSucceeded(name string) {
	s.record("succeeded:" + name)
}

func (s *recordingSink) FileFailed(name string, err error) {
	s.mu.Lock()
	s.failures[name] = err
	s.mu.Unlock()
	s.record("failed:" + name)
}

func (s *recordingSink) QueueIdle() {
	s.record("idle")
	if s.onIdle != nil {
		s.onIdle()
	}
}

func (s *recordingSink) Events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...)
}

func (s *recordingSink) eventsWithPrefix(prefix string) []string {
	var out []string
	for _, e := range s.Events() {
		if len(e) >= len(prefix) && e[:len(prefix)] == prefix {
			out = append(out, e[len(prefix):])
		}
	}
	return out
}

func (s *recordingSink) Failure(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures[name]
}

func (s *recordingSink) Snapshots(name string) []progress.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]progress.Snapshot(nil), s.snapshots[name]...)
}

type fakeTracker struct {
	mu     sync.Mutex
	events []string
	props  []analytics.Properties
	waited bool
}

func (t *fakeTracker) Enqueue(eventName string, properties ...analytics.Properties) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, eventName)
	t.props = append(t.props, properties...)
}

func (t *fakeTracker) Wait() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.waited = true
}

func testData(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func testFile(name string, size int) *File {
	return NewFileFromBytes(name, testData(size))
}

var errInjected = errors.New("injected failure")
