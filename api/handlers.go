package api

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"prism-events/domain"
)

const (
	routeEvents = "/api/events"
	routeTasks  = "/api/tasks"
	routeStream = "/api/stream"
)

// strictJSON rejects unknown fields and anything after the top-level value.
var strictJSON = sonic.Config{
	EscapeHTML:            true,
	CopyString:            true,
	ValidateString:        true,
	DisallowUnknownFields: true,
}.Froze()

var (
	errBodyTooLarge = errors.New("body too large")
	errEmptyBody    = errors.New("empty body")
)

// Options tunes the HTTP layer. A nil Deduper disables idempotency keys.
type Options struct {
	MaxEventBytes int64
	Deduper       Deduper
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, store EventStore, tasks TaskReader, logger *log.Logger, opts Options) {
	if logger == nil {
		panic("Logger is not initialized")
	}
	if opts.MaxEventBytes <= 0 {
		opts.MaxEventBytes = defaultMaxEventBytes
	}
	broker := newUpdateBroker()
	e.Server.RegisterOnShutdown(broker.close)

	e.POST(routeEvents, postEvents(store, opts.Deduper, broker, opts.MaxEventBytes, logger))
	e.GET(routeEvents, getEvents(store))
	e.GET(routeTasks, getTasks(tasks, logger))
	e.GET(routeStream, streamTasks(tasks, broker, logger))
	e.GET("/healthz", healthz())
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

func getTasks(tasks TaskReader, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics, ctx := newRequestMetrics(c.Request().Context(), logger, http.MethodGet, routeTasks)
		c.SetRequest(c.Request().WithContext(ctx))
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		projectStart := time.Now()
		list, version := tasks.Tasks(ctx)
		metrics.Observe("project", time.Since(projectStart))
		metrics.SetInt("log_version", version)
		metrics.SetInt("tasks_returned", len(list))

		encodeStart := time.Now()
		err = c.JSON(http.StatusOK, tasksResponse{Tasks: list})
		metrics.Observe("encode", time.Since(encodeStart))
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

func getEvents(store EventStore) echo.HandlerFunc {
	return func(c echo.Context) error {
		history := store.History()
		return c.JSON(http.StatusOK, eventsResponse{Events: history, Count: len(history)})
	}
}

func postEvents(store EventStore, deduper Deduper, broker *updateBroker, maxBytes int64, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics, ctx := newRequestMetrics(c.Request().Context(), logger, http.MethodPost, routeEvents)
		c.SetRequest(c.Request().WithContext(ctx))
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		decodeStart := time.Now()
		events, decodeErr := decodeEvents(c.Request().Body, maxBytes)
		metrics.Observe("decode", time.Since(decodeStart))
		if decodeErr != nil {
			if errors.Is(decodeErr, errBodyTooLarge) {
				metrics.SetErrorStage("body_too_large")
				return c.String(http.StatusRequestEntityTooLarge, "body too large")
			}
			metrics.SetErrorStage("invalid_body")
			return c.String(http.StatusBadRequest, "invalid body")
		}
		metrics.SetInt("events_received", len(events))

		resp := postEventsResponse{RequestID: uuid.NewString(), Received: len(events)}
		if key := strings.TrimSpace(c.Request().Header.Get(HeaderIdempotencyKey)); key != "" && deduper != nil {
			added, dedupErr := deduper.Add(ctx, key)
			switch {
			case dedupErr != nil:
				logger.WithError(dedupErr).WithField("key", key).Warn("idempotency check failed; submitting anyway")
			case !added:
				metrics.SetBool("duplicate", true)
				resp.Duplicate = true
				return c.JSON(http.StatusAccepted, resp)
			}
		}

		for _, ev := range events {
			store.Submit(ev)
		}
		broker.notify()
		return c.JSON(http.StatusAccepted, resp)
	}
}

// decodeEvents reads a single event object or an array of events. The body
// must hold exactly one JSON value. Field validation is left to the log and
// the projector.
func decodeEvents(body io.Reader, maxBytes int64) ([]domain.Event, error) {
	data, err := io.ReadAll(io.LimitReader(body, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, errBodyTooLarge
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errEmptyBody
	}

	if data[0] == '[' {
		events := make([]domain.Event, 0, 4)
		if err := strictJSON.Unmarshal(data, &events); err != nil {
			return nil, err
		}
		return events, nil
	}
	var ev domain.Event
	if err := strictJSON.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	return []domain.Event{ev}, nil
}
