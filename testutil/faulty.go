package testutil

import (
	"context"
	"io"
	"sync"

	"github.com/hupe1980/sigindex/blobstore"
)

// Op names a blob store operation for fault injection.
type Op string

const (
	OpCreate Op = "create"
	OpOpen   Op = "open"
	OpExists Op = "exists"
	OpDelete Op = "delete"
	OpList   Op = "list"
)

// FaultyStore wraps a blob store and fails selected calls on demand.
type FaultyStore struct {
	inner blobstore.Store

	mu       sync.Mutex
	failures map[Op][]error
	hooks    map[Op]func(h blobstore.Handle)
	calls    map[Op]int
}

// NewFaultyStore wraps inner.
func NewFaultyStore(inner blobstore.Store) *FaultyStore {
	return &FaultyStore{
		inner:    inner,
		failures: make(map[Op][]error),
		hooks:    make(map[Op]func(blobstore.Handle)),
		calls:    make(map[Op]int),
	}
}

// FailNext queues err to be returned by the next call of op.
func (s *FaultyStore) FailNext(op Op, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = append(s.failures[op], err)
}

// OnCall runs fn before each successful call of op.
func (s *FaultyStore) OnCall(op Op, fn func(h blobstore.Handle)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks[op] = fn
}

// Calls returns how often op was invoked, including failed calls.
func (s *FaultyStore) Calls(op Op) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *FaultyStore) fault(op Op, h blobstore.Handle) error {
	s.mu.Lock()
	s.calls[op]++
	if q := s.failures[op]; len(q) > 0 {
		err := q[0]
		s.failures[op] = q[1:]
		s.mu.Unlock()
		return err
	}
	hook := s.hooks[op]
	s.mu.Unlock()

	if hook != nil {
		hook(h)
	}
	return nil
}

func (s *FaultyStore) Create(ctx context.Context, r io.Reader) (blobstore.Handle, error) {
	if err := s.fault(OpCreate, ""); err != nil {
		return "", err
	}
	return s.inner.Create(ctx, r)
}

func (s *FaultyStore) Open(ctx context.Context, h blobstore.Handle) (blobstore.Blob, error) {
	if err := s.fault(OpOpen, h); err != nil {
		return nil, err
	}
	return s.inner.Open(ctx, h)
}

func (s *FaultyStore) Exists(ctx context.Context, h blobstore.Handle) (bool, error) {
	if err := s.fault(OpExists, h); err != nil {
		return false, err
	}
	return s.inner.Exists(ctx, h)
}

func (s *FaultyStore) Delete(ctx context.Context, h blobstore.Handle) error {
	if err := s.fault(OpDelete, h); err != nil {
		return err
	}
	return s.inner.Delete(ctx, h)
}

func (s *FaultyStore) List(ctx context.Context) ([]blobstore.ObjectInfo, error) {
	if err := s.fault(OpList, ""); err != nil {
		return nil, err
	}
	l, ok := s.inner.(blobstore.Lister)
	if !ok {
		return nil, blobstore.ErrListUnsupported
	}
	return l.List(ctx)
}
