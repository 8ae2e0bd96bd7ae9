package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"cloud.google.com/go/dlp/apiv2/dlppb"
	"github.com/googleapis/gax-go/v2"

	"github.com/PlainFunction/cloudhandlers/internal/common/types"
)

type deleteCall struct {
	Project string
	Zone    string
	Name    string
}

type fakeOperation struct{ err error }

func (o fakeOperation) Wait(context.Context) error { return o.err }

// fakeCompute records calls and serves a fixed inventory.
type fakeCompute struct {
	mu         sync.Mutex
	instances  []types.Instance
	listErr    error
	deleteErr  map[string]error
	waitErr    map[string]error
	listCalls  []string
	deleteCall []deleteCall
}

func (f *fakeCompute) ListInstances(_ context.Context, project, zone, filter string) ([]types.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls = append(f.listCalls, project+"|"+zone+"|"+filter)
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.instances, nil
}

func (f *fakeCompute) DeleteInstance(_ context.Context, project, zone, name string) (types.Operation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCall = append(f.deleteCall, deleteCall{project, zone, name})
	if err := f.deleteErr[name]; err != nil {
		return nil, err
	}
	return fakeOperation{err: f.waitErr[name]}, nil
}

func (f *fakeCompute) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listCalls) + len(f.deleteCall)
}

// fakeLocker is an in-memory InstanceLocker.
type fakeLocker struct {
	mu       sync.Mutex
	held     map[string]bool
	released []string
	err      error
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: map[string]bool{}}
}

func (l *fakeLocker) Acquire(_ context.Context, key string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return false, l.err
	}
	if l.held[key] {
		return false, nil
	}
	l.held[key] = true
	return true, nil
}

func (l *fakeLocker) Release(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
	l.released = append(l.released, key)
	return nil
}

// recordingAudit keeps every entry it is given.
type recordingAudit struct {
	mu      sync.Mutex
	entries []types.AuditEntry
}

func (a *recordingAudit) LogAccess(_ context.Context, e types.AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
	return nil
}

func (a *recordingAudit) all() []types.AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]types.AuditEntry(nil), a.entries...)
}

// failingDLP returns err from every call.
type failingDLP struct{ err error }

func (f failingDLP) DeidentifyContent(context.Context, *dlppb.DeidentifyContentRequest, ...gax.CallOption) (*dlppb.DeidentifyContentResponse, error) {
	return nil, f.err
}

func (f failingDLP) ReidentifyContent(context.Context, *dlppb.ReidentifyContentRequest, ...gax.CallOption) (*dlppb.ReidentifyContentResponse, error) {
	return nil, f.err
}

func (f failingDLP) Close() error { return nil }

// scriptedDLP returns fixed responses and captures requests.
type scriptedDLP struct {
	deidentify *dlppb.DeidentifyContentResponse
	reidentify *dlppb.ReidentifyContentResponse
	lastDeid   *dlppb.DeidentifyContentRequest
	lastReid   *dlppb.ReidentifyContentRequest
}

func (s *scriptedDLP) DeidentifyContent(_ context.Context, req *dlppb.DeidentifyContentRequest, _ ...gax.CallOption) (*dlppb.DeidentifyContentResponse, error) {
	s.lastDeid = req
	if s.deidentify == nil {
		return nil, errors.New("no scripted response")
	}
	return s.deidentify, nil
}

func (s *scriptedDLP) ReidentifyContent(_ context.Context, req *dlppb.ReidentifyContentRequest, _ ...gax.CallOption) (*dlppb.ReidentifyContentResponse, error) {
	s.lastReid = req
	if s.reidentify == nil {
		return nil, errors.New("no scripted response")
	}
	return s.reidentify, nil
}

func (s *scriptedDLP) Close() error { return nil }
