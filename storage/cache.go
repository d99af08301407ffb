package storage

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"prism-events/domain"
)

// HistoryReader is the read side of the event log.
type HistoryReader interface {
	History() []domain.Event
}

// Projection serves the current task list, keeping projected results in
// Redis keyed by the log length. The log is append-only and process-local, so
// an instance namespace plus a length names exactly one history.
type Projection struct {
	log      HistoryReader
	redis    *redis.Client
	ttl      time.Duration
	instance string
}

type cachedTasks struct {
	Version  int           `json:"version"`
	CachedAt time.Time     `json:"cachedAt"`
	Tasks    []domain.Task `json:"tasks"`
}

var (
	errCorruptEntry = errors.New("corrupt cache entry")
	errDisabled     = errors.New("cache disabled")
)

// NewProjection creates a projection reader. A nil client or a non-positive
// TTL disables caching.
func NewProjection(l HistoryReader, client *redis.Client, ttl time.Duration) *Projection {
	if l == nil {
		panic("storage.NewProjection: log is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Projection{
		log:      l,
		redis:    client,
		ttl:      ttl,
		instance: uuid.NewString(),
	}
}

// Tasks projects the current history. Cache failures fall back to a fresh
// projection and are never returned to the caller.
func (p *Projection) Tasks(ctx context.Context) ([]domain.Task, int) {
	events := p.log.History()
	version := len(events)

	if tasks, err := p.load(ctx, version); err == nil {
		return tasks, version
	} else if !errors.Is(err, redis.Nil) && !errors.Is(err, errDisabled) {
		log.WithError(err).WithField("version", version).Warn("projection cache read failed")
	}

	tasks := domain.Project(events)
	p.store(ctx, version, tasks)
	return tasks, version
}

func (p *Projection) enabled() bool {
	return p.redis != nil && p.ttl > 0
}

func (p *Projection) load(ctx context.Context, version int) ([]domain.Task, error) {
	if !p.enabled() {
		return nil, errDisabled
	}
	key := p.key(version)
	data, err := p.redis.Get(ctx, key).Bytes()
	if err != nil {
		return nil, err
	}
	var entry cachedTasks
	if err := sonic.Unmarshal(data, &entry); err != nil || entry.Version != version || entry.Tasks == nil {
		_ = p.redis.Del(ctx, key).Err()
		return nil, errCorruptEntry
	}
	return entry.Tasks, nil
}

func (p *Projection) store(ctx context.Context, version int, tasks []domain.Task) {
	if !p.enabled() {
		return
	}
	data, err := sonic.Marshal(cachedTasks{Version: version, CachedAt: time.Now().UTC(), Tasks: tasks})
	if err != nil {
		return
	}
	if err := p.redis.Set(ctx, p.key(version), data, p.ttl).Err(); err != nil {
		log.WithError(err).WithField("version", version).Warn("projection cache write failed")
	}
}

func (p *Projection) key(version int) string {
	return "tasks:" + p.instance + ":" + strconv.Itoa(version)
}
