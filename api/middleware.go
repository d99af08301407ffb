package api

import (
	"compress/gzip"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"
)

// GzipRequestConfig configures request body inflation.
type GzipRequestConfig struct {
	// Skipper bypasses inflation for matching requests.
	Skipper middleware.Skipper
}

// GzipRequestMiddleware inflates gzip-encoded request bodies with the default
// config.
func GzipRequestMiddleware() echo.MiddlewareFunc {
	return GzipRequestWithConfig(GzipRequestConfig{})
}

// GzipRequestWithConfig inflates request bodies sent with a gzip
// Content-Encoding. Readers are pooled across requests. A body that is not
// valid gzip is answered with 400 before the handler runs.
func GzipRequestWithConfig(cfg GzipRequestConfig) echo.MiddlewareFunc {
	if cfg.Skipper == nil {
		cfg.Skipper = middleware.DefaultSkipper
	}
	var readers sync.Pool

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if cfg.Skipper(c) || req.Body == nil || !acceptsGzip(req.Header.Get(echo.HeaderContentEncoding)) {
				return next(c)
			}

			gr, _ := readers.Get().(*gzip.Reader)
			var err error
			if gr == nil {
				gr, err = gzip.NewReader(req.Body)
			} else {
				err = gr.Reset(req.Body)
			}
			if err != nil {
				_ = req.Body.Close()
				return echo.NewHTTPError(http.StatusBadRequest, "invalid gzip body").SetInternal(err)
			}

			raw := req.Body
			req.Body = &gzipBody{Reader: gr, raw: raw, release: func() { readers.Put(gr) }}
			req.ContentLength = -1
			req.Header.Del(echo.HeaderContentEncoding)
			req.Header.Del(echo.HeaderContentLength)

			defer req.Body.Close()
			return next(c)
		}
	}
}

// RequestLogger logs one line per request through logrus.
func RequestLogger(logger *log.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			entry := logger.WithFields(log.Fields{
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency_ms": durationToMillis(v.Latency),
			})
			if v.Error != nil {
				entry.WithError(v.Error).Error("request failed")
				return nil
			}
			entry.Debug("request")
			return nil
		},
	})
}

func acceptsGzip(header string) bool {
	for _, enc := range strings.Split(header, ",") {
		if strings.EqualFold(strings.TrimSpace(enc), "gzip") {
			return true
		}
	}
	return false
}

// gzipBody closes the inflater and the raw body once, then hands the reader
// back to the pool.
type gzipBody struct {
	*gzip.Reader
	raw     io.Closer
	release func()
	once    sync.Once
	err     error
}

func (g *gzipBody) Close() error {
	g.once.Do(func() {
		g.err = g.Reader.Close()
		if cerr := g.raw.Close(); cerr != nil && g.err == nil {
			g.err = cerr
		}
		g.release()
	})
	return g.err
}
