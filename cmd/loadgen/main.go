// Command loadgen drives a running prism-events server with concurrent
// writers and stream subscribers, then checks that the projected task list
// matches what was written.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"prism-events/client"
	"prism-events/domain"
)

type config struct {
	BaseURL        string        `env:"API_BASE" envDefault:"http://localhost:8080"`
	Writers        int           `env:"WRITERS" envDefault:"16"`
	TasksPerWriter int           `env:"TASKS_PER_WRITER" envDefault:"50"`
	Subscribers    int           `env:"SSE_CONNECTIONS" envDefault:"50"`
	Timeout        time.Duration `env:"TIMEOUT" envDefault:"2m"`
}

type counters struct {
	posts    atomic.Uint64
	failures atomic.Uint64
	pushes   atomic.Uint64
}

func main() {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Writers <= 0 || cfg.TasksPerWriter <= 0 {
		log.Fatal("WRITERS and TASKS_PER_WRITER must be positive")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	c := client.New(cfg.BaseURL, &http.Client{})
	run := uuid.NewString()
	var stats counters

	streamCtx, stopStreams := context.WithCancel(ctx)
	streams, _ := errgroup.WithContext(streamCtx)
	for range cfg.Subscribers {
		streams.Go(func() error {
			err := c.Stream(streamCtx, func([]domain.Task) bool {
				stats.pushes.Add(1)
				return true
			})
			if err != nil && streamCtx.Err() == nil {
				stats.failures.Add(1)
			}
			return nil
		})
	}

	writers, wctx := errgroup.WithContext(ctx)
	for w := range cfg.Writers {
		writers.Go(func() error {
			return write(wctx, c, &stats, run, w, cfg.TasksPerWriter)
		})
	}
	writeErr := writers.Wait()
	stopStreams()
	_ = streams.Wait()

	start := time.Now()
	err := verify(ctx, c, run, cfg)
	logger := log.WithFields(log.Fields{
		"run":         run,
		"writers":     cfg.Writers,
		"subscribers": cfg.Subscribers,
		"posts":       stats.posts.Load(),
		"failures":    stats.failures.Load(),
		"pushes":      stats.pushes.Load(),
		"verify_ms":   time.Since(start).Milliseconds(),
	})
	if writeErr != nil || err != nil {
		logger.WithError(firstErr(writeErr, err)).Error("load run failed")
		os.Exit(1)
	}
	logger.Info("load run passed")
}

// write adds n tasks and completes every even one, each in its own request.
func write(ctx context.Context, c *client.Client, stats *counters, run string, writer, n int) error {
	for i := range n {
		uri := taskURI(run, writer, i)
		if _, err := c.PostEvents(ctx, "", domain.Event{Name: domain.TaskAdded, TaskURI: uri, TaskTitle: uri}); err != nil {
			stats.failures.Add(1)
			return fmt.Errorf("add %s: %w", uri, err)
		}
		stats.posts.Add(1)
	}
	for i := 0; i < n; i += 2 {
		uri := taskURI(run, writer, i)
		if _, err := c.PostEvents(ctx, "", domain.Event{Name: domain.TaskCompleted, TaskURI: uri, TaskTitle: uri}); err != nil {
			stats.failures.Add(1)
			return fmt.Errorf("complete %s: %w", uri, err)
		}
		stats.posts.Add(1)
	}
	return nil
}

func verify(ctx context.Context, c *client.Client, run string, cfg config) error {
	tasks, err := c.Tasks(ctx)
	if err != nil {
		return fmt.Errorf("fetch tasks: %w", err)
	}
	open := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		open[t.URI] = true
	}
	for w := range cfg.Writers {
		for i := range cfg.TasksPerWriter {
			uri := taskURI(run, w, i)
			if want := i%2 == 1; open[uri] != want {
				return fmt.Errorf("task %s: open=%v, want %v", uri, open[uri], want)
			}
		}
	}
	return nil
}

func taskURI(run string, writer, i int) string {
	return fmt.Sprintf("urn:loadgen:%s:%d:%d", run, writer, i)
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
