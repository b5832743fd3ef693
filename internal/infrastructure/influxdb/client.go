package influxdb

import (
	"context"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/meshbridge/internal/infrastructure/config"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultPingTimeout    = 5 * time.Second
	defaultReportInterval = 30 * time.Second

	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Second
)

// pointWriter is the subset of api.WriteAPI the client writes through.
type pointWriter interface {
	WritePoint(point *write.Point)
	Flush()
}

// pingFunc reports whether the server is ready to accept writes.
type pingFunc func(ctx context.Context) (bool, error)

// Client samples bridge statistics into a single bucket.
//
// Writes go through the library's non-blocking write API and are batched.
// Report pings the server before every sample and skips samples while it
// is unreachable, so an InfluxDB outage never backs up the batch buffer.
type Client struct {
	writeAPI pointWriter
	ping     pingFunc
	release  func()

	mu      sync.RWMutex
	open    bool
	healthy bool
	onError func(err error)
}

// Connect creates the client, checks the server is reachable and starts
// the batched write API. It returns ErrDisabled when cfg.Enabled is false.
func Connect(ctx context.Context, cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	lib := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, clientOptions(cfg))
	if err := probe(ctx, lib.Ping, defaultConnectTimeout); err != nil {
		lib.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	writeAPI := lib.WriteAPI(cfg.Org, cfg.Bucket)
	c := &Client{
		writeAPI: writeAPI,
		ping:     lib.Ping,
		release:  lib.Close,
		open:     true,
		healthy:  true,
	}
	go c.forwardErrors(writeAPI.Errors())

	return c, nil
}

// clientOptions maps the batch settings onto library options.
func clientOptions(cfg config.InfluxDBConfig) *influxdb2.Options {
	batch := uint(defaultBatchSize)
	if cfg.BatchSize > 0 {
		batch = uint(cfg.BatchSize)
	}
	flush := defaultFlushInterval
	if cfg.FlushInterval > 0 {
		flush = time.Duration(cfg.FlushInterval) * time.Second
	}

	return influxdb2.DefaultOptions().
		SetBatchSize(batch).
		SetFlushInterval(uint(flush.Milliseconds()))
}

func probe(ctx context.Context, ping pingFunc, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ready, err := ping(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	if !ready {
		return fmt.Errorf("%w: server not ready", ErrUnreachable)
	}
	return nil
}

func (c *Client) forwardErrors(errs <-chan error) {
	for err := range errs {
		c.report(err)
	}
}

func (c *Client) report(err error) {
	c.mu.RLock()
	callback := c.onError
	c.mu.RUnlock()

	if callback != nil {
		callback(err)
	}
}

// SetOnError registers a callback for asynchronous write failures and for
// the server becoming unreachable during Report.
func (c *Client) SetOnError(callback func(err error)) {
	c.mu.Lock()
	c.onError = callback
	c.mu.Unlock()
}

// IsConnected reports whether the client is open. It does not touch the
// network; HealthCheck does.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.open
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() || c.ping == nil {
		return ErrNotConnected
	}
	return probe(ctx, c.ping, defaultPingTimeout)
}

// checkHealth runs HealthCheck and reports the transition to unreachable
// once. It returns false while samples should be skipped.
func (c *Client) checkHealth(ctx context.Context) bool {
	err := c.HealthCheck(ctx)

	c.mu.Lock()
	wasHealthy := c.healthy
	c.healthy = err == nil
	c.mu.Unlock()

	if err != nil && wasHealthy {
		c.report(err)
	}
	return err == nil
}

// Flush sends buffered points. It is a no-op after Close.
func (c *Client) Flush() {
	if c.IsConnected() {
		c.writeAPI.Flush()
	}
}

// Close flushes pending points and releases the underlying client.
// Calling it more than once is safe.
func (c *Client) Close() error {
	c.mu.Lock()
	wasOpen := c.open
	c.open = false
	c.mu.Unlock()

	if !wasOpen {
		return nil
	}
	if c.writeAPI != nil {
		c.writeAPI.Flush()
	}
	if c.release != nil {
		c.release()
	}
	return nil
}
