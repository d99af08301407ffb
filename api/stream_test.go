package api

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"prism-events/domain"
	"prism-events/storage"
)

func TestUpdateBrokerCoalescesNotifications(t *testing.T) {
	b := newUpdateBroker()
	ch := b.subscribe()

	b.notify()
	b.notify()
	select {
	case <-ch:
	default:
		t.Fatal("expected a pending notification")
	}
	select {
	case <-ch:
		t.Fatal("expected notifications to coalesce")
	default:
	}

	b.unsubscribe(ch)
	b.notify()
	select {
	case <-ch:
		t.Fatal("received notification after unsubscribe")
	default:
	}
}

func readSSEData(t *testing.T, lines chan string) []domain.Task {
	t.Helper()
	select {
	case line := <-lines:
		if !strings.HasPrefix(line, sseDataPrefix) {
			t.Fatalf("unexpected stream line %q", line)
		}
		var tasks []domain.Task
		if err := sonic.Unmarshal([]byte(strings.TrimPrefix(line, sseDataPrefix)), &tasks); err != nil {
			t.Fatalf("invalid stream payload %q: %v", line, err)
		}
		return tasks
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stream data")
	}
	return nil
}

func TestStreamTasksPushesAfterPost(t *testing.T) {
	e := echo.New()
	l := storage.NewLog()
	Register(e, l, storage.NewProjection(l, nil, 0), log.New(), Options{})
	srv := httptest.NewServer(e)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+routeStream, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get(echo.HeaderContentType); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	lines := make(chan string, 8)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			if line := sc.Text(); line != "" {
				lines <- line
			}
		}
		close(lines)
	}()

	if tasks := readSSEData(t, lines); len(tasks) != 0 {
		t.Fatalf("expected empty initial list, got %+v", tasks)
	}

	post, err := srv.Client().Post(srv.URL+routeEvents, echo.MIMEApplicationJSON,
		strings.NewReader(`{"name":"task-added","taskUri":"a","taskTitle":"x"}`))
	if err != nil {
		t.Fatalf("post event: %v", err)
	}
	post.Body.Close()
	if post.StatusCode != http.StatusAccepted {
		t.Fatalf("expected status 202 got %d", post.StatusCode)
	}

	tasks := readSSEData(t, lines)
	if len(tasks) != 1 || tasks[0].URI != "a" || tasks[0].Title != "x" {
		t.Fatalf("unexpected pushed tasks %+v", tasks)
	}
}

func TestStreamTasksUnsupportedWriter(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, routeStream, nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Response().Writer = struct{ http.ResponseWriter }{rec}

	tasks := &mockTasks{}
	if err := streamTasks(tasks, newUpdateBroker(), log.New())(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500 got %d", rec.Code)
	}
	if tasks.calls != 0 {
		t.Fatalf("expected no projection read without a stream, got %d", tasks.calls)
	}
}

func TestUpdateBrokerClose(t *testing.T) {
	b := newUpdateBroker()
	ch := b.subscribe()

	b.close()
	b.close()
	if _, ok := <-ch; ok {
		t.Fatal("expected subscriber channel to be closed")
	}
	b.unsubscribe(ch)
	b.notify()

	if _, ok := <-b.subscribe(); ok {
		t.Fatal("expected subscribe after close to return a closed channel")
	}
}

func TestStreamTasksEndsOnServerShutdown(t *testing.T) {
	e := echo.New()
	l := storage.NewLog()
	Register(e, l, storage.NewProjection(l, nil, 0), log.New(), Options{})
	srv := httptest.NewServer(e)
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + routeStream)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()

	lines := make(chan string, 8)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			if line := sc.Text(); line != "" {
				lines <- line
			}
		}
		close(lines)
	}()
	readSSEData(t, lines)

	// The shutdown hooks registered on e.Server run even though the test
	// server owns the listener.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.Server.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	select {
	case line, ok := <-lines:
		if ok {
			t.Fatalf("unexpected stream line after shutdown %q", line)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stream still open after shutdown")
	}
}
