package sandbox

import (
	"context"
	"sync"
)

// fakeInstance answers Exec by argv[0] and records lifecycle calls.
type fakeInstance struct {
	mu         sync.Mutex
	id         string
	uploads    [][]byte
	execs      []ExecRequest
	destroyed  int
	uploadErr  error
	destroyErr error
	peakKB     int64
	isolateErr error
	events     []string
	responses  map[string]func(ctx context.Context, req ExecRequest) (ExecResult, error)
}

func newFakeInstance(id string) *fakeInstance {
	return &fakeInstance{
		id:        id,
		responses: make(map[string]func(ctx context.Context, req ExecRequest) (ExecResult, error)),
	}
}

func (f *fakeInstance) ID() string { return f.id }

func (f *fakeInstance) Upload(_ context.Context, archive []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, archive)
	return f.uploadErr
}

func (f *fakeInstance) Exec(ctx context.Context, req ExecRequest) (ExecResult, error) {
	f.mu.Lock()
	f.execs = append(f.execs, req)
	f.events = append(f.events, "exec "+req.Args[0])
	respond := f.responses[req.Args[0]]
	f.mu.Unlock()

	if respond == nil {
		return ExecResult{}, nil
	}
	return respond(ctx, req)
}

func (f *fakeInstance) PeakMemoryKB(context.Context) (int64, bool) {
	return f.peakKB, f.peakKB > 0
}

func (f *fakeInstance) Isolate(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "isolate")
	return f.isolateErr
}

func (f *fakeInstance) Destroy(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed++
	return f.destroyErr
}

// blockUntilDone simulates a process that never finishes on its own.
func blockUntilDone(ctx context.Context, _ ExecRequest) (ExecResult, error) {
	<-ctx.Done()
	return ExecResult{ExitCode: -1}, ctx.Err()
}

type fakeProvider struct {
	mu        sync.Mutex
	created   []*fakeInstance
	createErr error
	setup     func(*fakeInstance)
}

func (*fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Create(context.Context, Spec) (Instance, error) {
	if p.createErr != nil {
		return nil, p.createErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	inst := newFakeInstance("fake-instance")
	if p.setup != nil {
		p.setup(inst)
	}
	p.created = append(p.created, inst)
	return inst, nil
}
