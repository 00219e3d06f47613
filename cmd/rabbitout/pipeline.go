package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/glimte/rabbitout"
	"github.com/glimte/rabbitout/event"
)

const maxLineSize = 4 * 1024 * 1024

// receiver is one publishing worker
type receiver interface {
	Receive(ctx context.Context, record event.Fields) error
	Close() error
}

// pipeline reads newline delimited JSON and fans the records out to workers
type pipeline struct {
	newWorker func() receiver
	workers   int
	raw       bool
	limiter   *rate.Limiter
	logger    *slog.Logger

	read      atomic.Int64
	malformed atomic.Int64
	failed    atomic.Int64
}

// summary counts what happened to the input
type summary struct {
	Read      int64
	Malformed int64
	Failed    int64
}

func (p *pipeline) summary() summary {
	return summary{
		Read:      p.read.Load(),
		Malformed: p.malformed.Load(),
		Failed:    p.failed.Load(),
	}
}

// run publishes every record from in. It returns when the input is exhausted
// and every record has been handed to the broker, or on the first error that
// stops all workers.
func (p *pipeline) run(ctx context.Context, in io.Reader) error {
	workers := p.workers
	if workers < 1 {
		workers = 1
	}

	records := make(chan event.Fields, workers*2)
	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < workers; i++ {
		g.Go(func() error {
			w := p.newWorker()
			defer w.Close()

			for record := range records {
				if p.limiter != nil {
					if err := p.limiter.Wait(gctx); err != nil {
						return err
					}
				}
				if err := w.Receive(gctx, record); err != nil {
					if errors.Is(err, rabbitout.ErrShutdown) || gctx.Err() != nil {
						return err
					}
					p.failed.Add(1)
					p.logger.Error("failed to publish event", "error", err)
				}
			}
			return nil
		})
	}

	g.Go(func() error {
		defer close(records)

		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 64*1024), maxLineSize)
		line := 0
		for scanner.Scan() {
			if err := gctx.Err(); err != nil {
				return err
			}
			line++
			data := bytes.TrimSpace(scanner.Bytes())
			if len(data) == 0 {
				continue
			}
			p.read.Add(1)

			record, err := p.decode(data)
			if err != nil {
				p.malformed.Add(1)
				p.logger.Warn("skipping malformed input", "line", line, "error", err)
				continue
			}

			select {
			case records <- record:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func (p *pipeline) decode(data []byte) (event.Fields, error) {
	if p.raw {
		if !json.Valid(data) {
			return nil, errors.New("invalid JSON")
		}
		// the scanner reuses its buffer
		return event.Raw(bytes.Clone(data)), nil
	}

	record, err := event.DecodeRecord(data)
	if err != nil {
		return nil, err
	}
	return record, nil
}
