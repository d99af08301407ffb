package api

import (
	"net/http"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
)

const sseDataPrefix = "data: "

// updateBroker fans out "the log changed" signals to stream subscribers.
// Signals coalesce: a slow subscriber sees at most one pending wake-up.
// After close every subscriber channel is closed and new subscribers get a
// closed channel.
type updateBroker struct {
	mu     sync.Mutex
	subs   map[chan struct{}]struct{}
	closed bool
}

func newUpdateBroker() *updateBroker {
	return &updateBroker{subs: make(map[chan struct{}]struct{})}
}

func (b *updateBroker) subscribe() chan struct{} {
	ch := make(chan struct{}, 1)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subs[ch] = struct{}{}
	return ch
}

func (b *updateBroker) unsubscribe(ch chan struct{}) {
	b.mu.Lock()
	delete(b.subs, ch)
	b.mu.Unlock()
}

// close ends every open stream. It is registered as a server shutdown hook.
func (b *updateBroker) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subs {
		close(ch)
		delete(b.subs, ch)
	}
}

func (b *updateBroker) notify() {
	b.mu.Lock()
	for ch := range b.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	b.mu.Unlock()
}

// streamTasks pushes the projected task list as server-sent events: once on
// connect and again after every accepted POST. The stream ends when the client
// goes away or the broker is closed.
func streamTasks(tasks TaskReader, broker *updateBroker, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}
		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		c.Response().WriteHeader(http.StatusOK)

		ctx := c.Request().Context()
		ch := broker.subscribe()
		defer broker.unsubscribe(ch)

		lastVersion := -1
		for {
			list, version := tasks.Tasks(ctx)
			if version != lastVersion {
				data, err := sonic.Marshal(list)
				if err != nil {
					logger.WithError(err).Error("marshal stream payload")
					return err
				}
				if _, err := c.Response().Write([]byte(sseDataPrefix + string(data) + "\n\n")); err != nil {
					logger.WithError(err).Debug("stream client gone")
					return nil
				}
				flusher.Flush()
				lastVersion = version
			}
			select {
			case <-ctx.Done():
				return nil
			case _, ok := <-ch:
				if !ok {
					return nil
				}
			}
		}
	}
}
