package proxy

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"studioproxy/pkg/types"
)

var errForTest = errors.New("scripted failure")

// fakeStream yields a scripted chunk sequence. When step is non-nil the
// test must feed one token per Next call, which lets tests freeze the
// producer mid-stream.
type fakeStream struct {
	chunks  []string
	i       int
	step    chan struct{}
	failAt  int // fail instead of emitting chunk index failAt; -1 disables
	failErr error

	f    *fakeSession
	once sync.Once
}

func (s *fakeStream) Next(ctx context.Context) (string, error) {
	if s.step != nil {
		select {
		case <-s.step:
		case <-ctx.Done():
			s.finish()
			return "", ctx.Err()
		}
	}
	if s.failErr != nil && s.i == s.failAt {
		s.finish()
		return "", s.failErr
	}
	if s.i >= len(s.chunks) {
		s.finish()
		return "", io.EOF
	}
	c := s.chunks[s.i]
	s.i++
	return c, nil
}

func (s *fakeStream) finish() {
	if s.f == nil {
		return
	}
	s.once.Do(func() {
		s.f.mu.Lock()
		s.f.inflight--
		s.f.mu.Unlock()
	})
}

type paramCall struct {
	model  string
	params types.GenParams
}

// fakeSession is a scripted automation session. It records every call and
// tracks how many completions overlap, so tests can assert the processing
// lock keeps the session single-flight.
type fakeSession struct {
	mu          sync.Mutex
	modelCalls  []string
	paramCalls  []paramCall
	jobs        []CompletionJob
	inflight    int
	maxInflight int

	switchFails map[string]int // remaining ApplyModel failures per model
	paramErr    error
	runErr      error
	runDelay    time.Duration

	chunks  []string
	step    chan struct{}
	failAt  int
	failErr error

	models    []types.Model
	listCalls int
	ready     bool
}

func newFakeSession(chunks ...string) *fakeSession {
	return &fakeSession{
		chunks:      chunks,
		switchFails: map[string]int{},
		failAt:      -1,
		ready:       true,
		models: []types.Model{
			{ID: "alpha", Object: "model", DisplayName: "Alpha"},
			{ID: "beta", Object: "model", DisplayName: "Beta"},
		},
	}
}

func (f *fakeSession) ApplyModel(ctx context.Context, modelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.modelCalls = append(f.modelCalls, modelID)
	if n := f.switchFails[modelID]; n > 0 {
		f.switchFails[modelID] = n - 1
		return errors.New("model option not found")
	}
	return nil
}

func (f *fakeSession) ApplyParameters(ctx context.Context, modelID string, params types.GenParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paramCalls = append(f.paramCalls, paramCall{model: modelID, params: params})
	return f.paramErr
}

func (f *fakeSession) RunCompletion(ctx context.Context, job CompletionJob) (Stream, error) {
	f.mu.Lock()
	f.jobs = append(f.jobs, job)
	f.inflight++
	if f.inflight > f.maxInflight {
		f.maxInflight = f.inflight
	}
	runErr := f.runErr
	delay := f.runDelay
	stream := &fakeStream{
		chunks:  f.chunks,
		step:    f.step,
		failAt:  f.failAt,
		failErr: f.failErr,
		f:       f,
	}
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
		}
	}
	if runErr != nil {
		stream.finish()
		return nil, runErr
	}
	return stream, nil
}

func (f *fakeSession) ListModels(ctx context.Context) ([]types.Model, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	return f.models, nil
}

func (f *fakeSession) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *fakeSession) ModelCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.modelCalls...)
}

func (f *fakeSession) ParamCalls() []paramCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]paramCall(nil), f.paramCalls...)
}

func (f *fakeSession) Jobs() []CompletionJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]CompletionJob(nil), f.jobs...)
}

func (f *fakeSession) ListCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

func (f *fakeSession) MaxInflight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInflight
}

// testRequest builds a queued descriptor outside the admission path.
func testRequest(id, model string, stream bool) *request {
	return newRequest(types.ChatCompletionRequest{
		Model:    model,
		Messages: []types.Message{{Role: "user", Content: "hello"}},
		Stream:   stream,
	}, id)
}
