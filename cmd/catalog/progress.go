package main

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// logProgress reports per-dataset transfer totals through the logger.
type logProgress struct {
	log *zap.Logger

	mu      sync.Mutex
	running map[string]*transfer
}

type transfer struct {
	started time.Time
	total   int
	done    int
	failed  int
	bytes   int64
}

func newLogProgress(log *zap.Logger) *logProgress {
	return &logProgress{log: log, running: make(map[string]*transfer)}
}

func (p *logProgress) Start(dataset string, objects int) {
	p.mu.Lock()
	p.running[dataset] = &transfer{started: time.Now(), total: objects}
	p.mu.Unlock()
	p.log.Debug("transfer started", zap.String("dataset", dataset), zap.Int("objects", objects))
}

func (p *logProgress) Done(dataset, identifier string, bytes int64, err error) {
	p.mu.Lock()
	t, ok := p.running[dataset]
	var done, total int
	if ok {
		t.done++
		t.bytes += bytes
		if err != nil {
			t.failed++
		}
		done, total = t.done, t.total
	}
	p.mu.Unlock()
	if ok {
		p.log.Debug("object done", zap.String("dataset", dataset), zap.String("identifier", identifier),
			zap.Int("done", done), zap.Int("total", total), zap.Error(err))
	}
}

func (p *logProgress) Finish(dataset string) {
	p.mu.Lock()
	t, ok := p.running[dataset]
	delete(p.running, dataset)
	p.mu.Unlock()
	if !ok {
		return
	}
	p.log.Info("transfer finished",
		zap.String("dataset", dataset),
		zap.Int("objects", t.done),
		zap.Int("failed", t.failed),
		zap.Int64("bytes", t.bytes),
		zap.Duration("elapsed", time.Since(t.started)),
	)
}
