package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/iliyamo/resident-gate/internal/model"
)

type fakeDoor struct {
	calls atomic.Int32
	// failFirst makes the first n calls fail
	failFirst int32
	block     chan struct{}
}

func (d *fakeDoor) TriggerOpen(ctx context.Context) error {
	n := d.calls.Add(1)
	if d.block != nil {
		select {
		case <-d.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if n <= d.failFirst {
		return errors.New("door offline")
	}
	return nil
}

type published struct {
	key   string
	event any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recordingPublisher) Publish(_ context.Context, key string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{key: key, event: event})
	return nil
}

func (p *recordingPublisher) byKey(key string) []any {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []any
	for _, e := range p.events {
		if e.key == key {
			out = append(out, e.event)
		}
	}
	return out
}

type staticLevels map[uint64]model.Level

func (l staticLevels) LevelOf(_ context.Context, id uint64) (model.Level, error) {
	lvl, ok := l[id]
	if !ok {
		return model.LevelPublic, ErrNotFound
	}
	return lvl, nil
}

type fakeDirectory struct {
	mu       sync.Mutex
	failures int
	created  []string
	attrs    map[string]map[string]string
}

func (d *fakeDirectory) fail() error {
	if d.failures > 0 {
		d.failures--
		return errors.New("directory down")
	}
	return nil
}

func (d *fakeDirectory) CreateAccount(_ context.Context, username string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail(); err != nil {
		return err
	}
	d.created = append(d.created, username)
	return nil
}

func (d *fakeDirectory) ResetPassword(_ context.Context, username string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail(); err != nil {
		return "", err
	}
	return "secret-for-" + username, nil
}

func (d *fakeDirectory) UpdateAttributes(_ context.Context, username string, fields map[string]string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail(); err != nil {
		return err
	}
	if d.attrs == nil {
		d.attrs = map[string]map[string]string{}
	}
	d.attrs[username] = fields
	return nil
}
