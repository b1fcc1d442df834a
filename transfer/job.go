package transfer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bitrise-io/go-chunktransfer/transfer/chunkplan"
	"github.com/bitrise-io/go-chunktransfer/transfer/network"
	"github.com/bitrise-io/go-chunktransfer/transfer/progress"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
)

// JobState is the lifecycle state of a Job.
type JobState int

const (
	JobCreated JobState = iota
	JobInitializing
	JobUploading
	JobSucceeded
	JobFailed
)

func (s JobState) String() string {
	switch s {
	case JobCreated:
		return "created"
	case JobInitializing:
		return "initializing"
	case JobUploading:
		return "uploading"
	case JobSucceeded:
		return "succeeded"
	case JobFailed:
		return "failed"
	default:
		return fmt.Sprintf("job_state(%d)", int(s))
	}
}

type chunkResult struct {
	Index  uint32
	Length uint32
	Took   time.Duration
	Err    error
}

// Job uploads one file: it initializes the transfer, then uploads every chunk concurrently.
// The first failed chunk fails the whole job; chunks still in flight finish in the background
// and their results are ignored unless cancelSiblings is set, in which case they are cancelled.
type Job struct {
	file           *File
	client         network.Client
	events         *dispatcher
	analytics      transferTracker
	logger         log.Logger
	cancelSiblings bool

	// background tracks chunk goroutines, which may outlive a failed Run.
	background *sync.WaitGroup
	release    func()
	once       sync.Once

	mu    sync.Mutex
	state JobState
}

// setState moves the job to state and returns the state it left.
func (j *Job) setState(state JobState) JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	prev := j.state
	j.state = state
	return prev
}

// Run executes the job. It returns when the job reaches Succeeded or Failed.
func (j *Job) Run(ctx context.Context) error {
	start := time.Now()

	j.setState(JobInitializing)
	j.logger.Debugf("Initializing transfer of %s (%s, %s)", j.file.Name, units.HumanSizeWithPrecision(float64(j.file.Size), 3), j.file.MimeType)

	if err := j.file.open(); err != nil {
		return j.fail(start, fmt.Errorf("open %s: %w", j.file.Name, err))
	}

	descriptor, err := j.client.Initialize(ctx, j.file.Name, j.file.MimeType, j.file.Size)
	if err != nil {
		j.closeFile()
		return j.fail(start, err)
	}

	ranges, err := chunkplan.Plan(j.file.Size, descriptor.ChunkSize)
	if err == nil && uint32(len(ranges)) != descriptor.TotalChunks {
		err = fmt.Errorf("backend expects %d chunks of %d bytes, file has %d", descriptor.TotalChunks, descriptor.ChunkSize, len(ranges))
	}
	if err != nil {
		j.closeFile()
		return j.fail(start, &network.InitError{FileName: j.file.Name, Err: err})
	}

	j.setState(JobUploading)

	j.logger.Debugf("Uploading %s as %d chunks of %s to transfer %s", j.file.Name, len(ranges), units.BytesSize(float64(descriptor.ChunkSize)), descriptor.FileID)

	chunkCtx := ctx
	cancel := func() {}
	if j.cancelSiblings {
		chunkCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	tracker := progress.NewTracker(j.file.Name, progress.Upload, j.events.progress)
	tracker.Start(descriptor.TotalChunks)
	stats := progress.NewStats()

	numChunks := len(ranges)
	resultChan := make(chan chunkResult, numChunks)

	var chunks sync.WaitGroup
	chunks.Add(numChunks)
	j.background.Add(1)
	go func() {
		defer j.background.Done()
		chunks.Wait()
		j.closeFile()
	}()

	for _, r := range ranges {
		go func(r chunkplan.Range) {
			defer chunks.Done()
			chunkStart := time.Now()
			err := j.uploadChunk(chunkCtx, descriptor.FileID, r)
			resultChan <- chunkResult{Index: r.Index, Length: r.Length, Took: time.Since(chunkStart), Err: err}
		}(r)
	}

	for received := 0; received < numChunks; received++ {
		result := <-resultChan
		if result.Err != nil {
			tracker.Fail()
			cancel()
			j.ignoreStragglers(resultChan, numChunks-received-1)
			return j.fail(start, result.Err)
		}

		stats.Observe(result.Took)
		tracker.RecordChunkDone(uint64(result.Length))
		j.logger.Debugf("Chunk %d of %s uploaded in %v", result.Index, j.file.Name, result.Took.Round(time.Millisecond))
	}

	if err := tracker.Complete(); err != nil {
		return j.fail(start, err)
	}

	j.setState(JobSucceeded)
	took := time.Since(start)
	j.logger.Donef("Uploaded %s as %s in %s [chunks=%d] [avg=%v] [slowest=%v]", j.file.Name, descriptor.FileID, took.Round(time.Millisecond),
		stats.Count(), stats.Average().Round(time.Millisecond), stats.Slowest().Round(time.Millisecond))
	j.events.fileSucceeded(j.file.Name)
	j.analytics.logFileUploaded(took, j.file, numChunks, stats.Average())
	j.releaseSlot()

	return nil
}

func (j *Job) uploadChunk(ctx context.Context, id network.FileID, r chunkplan.Range) error {
	data, err := j.file.ReadChunk(r)
	if err != nil {
		return &network.ChunkError{Index: r.Index, Op: "upload", Err: err}
	}
	_, err = j.client.PutChunk(ctx, id, r.Index, data)
	return err
}

// ignoreStragglers drains the results of chunks still in flight after a failure.
func (j *Job) ignoreStragglers(resultChan <-chan chunkResult, remaining int) {
	if remaining == 0 {
		return
	}
	j.background.Add(1)
	go func() {
		defer j.background.Done()
		for i := 0; i < remaining; i++ {
			result := <-resultChan
			j.logger.Debugf("Ignoring result of chunk %d of failed transfer %s (err=%v)", result.Index, j.file.Name, result.Err)
		}
	}()
}

func (j *Job) fail(start time.Time, err error) error {
	prev := j.setState(JobFailed)
	j.logger.Debugf("Transfer of %s failed while %s: %s", j.file.Name, prev, err)
	j.events.fileFailed(j.file.Name, err)
	j.analytics.logFileFailed(time.Since(start), j.file, err)
	j.releaseSlot()
	return err
}

func (j *Job) releaseSlot() {
	j.once.Do(func() {
		if j.release != nil {
			j.release()
		}
	})
}

func (j *Job) closeFile() {
	if err := j.file.close(); err != nil {
		j.logger.Warnf("Failed to close %s: %s", j.file.Name, err)
	}
}
