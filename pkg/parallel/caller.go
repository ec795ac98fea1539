package parallel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Sternrassler/adfetch/pkg/client"
	"github.com/Sternrassler/adfetch/pkg/ratelimit"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"
)

// Doer executes one request inside its own retry session.
type Doer interface {
	Do(ctx context.Context, req *client.Request, stream client.StreamFunc) (*client.Response, error)
}

// PagingFunc returns the continuation of req, or nil when resp is the last page.
type PagingFunc func(req *client.Request, resp *client.Response) *client.Request

// Options configures one MakeParallelCalls invocation.
type Options struct {
	// MaxDegreeOfParallelism bounds the requests in flight. 0 means the whole chunk.
	MaxDegreeOfParallelism int

	// PermittedPerWindow requests at most per Window. 0 disables the window.
	PermittedPerWindow int
	Window             time.Duration

	Paging PagingFunc

	// PerItem runs after every successful request.
	PerItem func(req *client.Request, resp *client.Response)

	// Stream receives the raw body of every successful response instead of
	// it being buffered.
	Stream client.StreamFunc

	// OnMaxRuntime is polled before every chunk; true stops dispatching.
	OnMaxRuntime func() bool

	// OnException runs for every failed request.
	OnException func(req *client.Request, err error)

	// OnResults receives the successful responses of every chunk once the
	// chunk has settled, before a chunk failure is returned.
	OnResults func(responses []*client.Response)
}

// Result holds the responses of a call and the continuations still to fetch.
type Result struct {
	Responses []*client.Response
	NextPage  []*client.Request
}

// Caller dispatches request batches through a Doer.
type Caller struct {
	doer   Doer
	logger zerolog.Logger
}

// New creates a parallel caller.
func New(doer Doer, logger zerolog.Logger) *Caller {
	return &Caller{
		doer:   doer,
		logger: logger.With().Str("component", "parallel-caller").Logger(),
	}
}

// MakeParallelCalls executes items under the window in opts. Chunks are
// admitted in input order; within a chunk requests run concurrently up to
// the degree of parallelism. The first failure in a chunk cancels the rest of
// that chunk and no later chunk is dispatched; the chunk's failures are
// returned as a *BatchError together with the responses gathered so far.
// When OnMaxRuntime stops dispatching the error wraps ratelimit.ErrHalted.
func (c *Caller) MakeParallelCalls(ctx context.Context, items []*client.Request, opts Options) (*Result, error) {
	res := &Result{}
	if len(items) == 0 {
		return res, nil
	}

	dop := opts.MaxDegreeOfParallelism
	window := ratelimit.Window{Permitted: opts.PermittedPerWindow, Duration: opts.Window}
	if window.Permitted <= 0 {
		window = ratelimit.Window{Permitted: len(items)}
	}

	start := time.Now()
	chunks := 0
	_, err := ratelimit.Throttle(ctx, items, window, opts.OnMaxRuntime,
		func(ctx context.Context, chunk []*client.Request) ([]time.Time, error) {
			chunks++
			responses, next, completed, err := c.runChunk(ctx, chunk, dop, opts)
			res.Responses = append(res.Responses, responses...)
			res.NextPage = append(res.NextPage, next...)
			if opts.OnResults != nil && len(responses) > 0 {
				opts.OnResults(responses)
			}
			return completed, err
		})

	c.logger.Debug().
		Int("requests", len(items)).
		Int("chunks", chunks).
		Int("responses", len(res.Responses)).
		Int("next_page", len(res.NextPage)).
		Dur("duration", time.Since(start)).
		Msg("Parallel calls finished")

	if err != nil {
		return res, err
	}
	return res, nil
}

// MakeParallelCallsWithPaging runs MakeParallelCalls in rounds, feeding every
// round's continuations into the next, until no continuation remains. The
// responses of all rounds are accumulated.
func (c *Caller) MakeParallelCallsWithPaging(ctx context.Context, items []*client.Request, opts Options) (*Result, error) {
	all := &Result{}
	rounds := 0
	defer func() { pagingRounds.Observe(float64(rounds)) }()

	for pending := items; len(pending) > 0; {
		rounds++
		res, err := c.MakeParallelCalls(ctx, pending, opts)
		all.Responses = append(all.Responses, res.Responses...)
		if err != nil {
			all.NextPage = res.NextPage
			return all, fmt.Errorf("paging round %d: %w", rounds, err)
		}

		c.logger.Debug().
			Int("round", rounds).
			Int("requests", len(pending)).
			Int("continuations", len(res.NextPage)).
			Msg("Paging round complete")
		pending = res.NextPage
	}

	return all, nil
}

func (c *Caller) runChunk(ctx context.Context, chunk []*client.Request, dop int, opts Options) ([]*client.Response, []*client.Request, []time.Time, error) {
	start := time.Now()
	defer func() { chunkDuration.Observe(time.Since(start).Seconds()) }()

	g, gctx := errgroup.WithContext(ctx)
	if dop > 0 {
		g.SetLimit(dop)
	}

	var (
		responses collector[*client.Response]
		next      collector[*client.Request]
		failures  collector[Failure]
		completed collector[time.Time]

		dispatchMu   sync.Mutex
		lastDispatch time.Time
	)

	for _, req := range chunk {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}

			dispatchMu.Lock()
			lastDispatch = time.Now()
			dispatchMu.Unlock()

			inflight.Inc()
			resp, err := c.doer.Do(gctx, req, opts.Stream)
			inflight.Dec()

			if err != nil {
				if failures.len() > 0 && ctx.Err() == nil && errors.Is(err, context.Canceled) {
					requestsTotal.WithLabelValues("cancelled").Inc()
					return nil
				}
				requestsTotal.WithLabelValues("failed").Inc()
				failures.add(Failure{Request: req, Err: err})
				if opts.OnException != nil {
					opts.OnException(req, err)
				}
				c.logger.Warn().
					Err(err).
					Str("request_id", req.ID).
					Int("page", req.PageIndex).
					Msg("Request failed, cancelling chunk")
				return err
			}

			requestsTotal.WithLabelValues("ok").Inc()
			completed.add(resp.CompletedAt)
			responses.add(resp)

			if opts.Paging != nil {
				if cont := opts.Paging(req, resp); cont != nil {
					cont.PageIndex = req.PageIndex + 1
					next.add(cont)
				}
			}
			if opts.PerItem != nil {
				opts.PerItem(req, resp)
			}
			return nil
		})
	}
	_ = g.Wait()

	// A request that completed before the last dispatch of its chunk is
	// stamped at that dispatch: the next window opens only once every item
	// of this one has been admitted.
	stamps := completed.snapshot()
	for i, ts := range stamps {
		if ts.Before(lastDispatch) {
			stamps[i] = lastDispatch
		}
	}

	var err error
	if failed := failures.snapshot(); len(failed) > 0 {
		err = &BatchError{Failures: failed}
	}
	return responses.snapshot(), next.snapshot(), stamps, err
}

// NextPageFromJSON builds a PagingFunc reading the next-page token from a
// gjson path of the response payload. A token that is an absolute URL
// replaces the request URL; any other value is sent as the page token.
func NextPageFromJSON(path string) PagingFunc {
	return func(req *client.Request, resp *client.Response) *client.Request {
		token := gjson.GetBytes(resp.Payload, path)
		if !token.Exists() || token.String() == "" {
			return nil
		}
		if u := token.String(); isAbsoluteURL(u) {
			return req.WithURL(u)
		}
		return req.Next(token.String())
	}
}

func isAbsoluteURL(s string) bool {
	return strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "http://")
}
