package relay

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
)

// readChunkSize is the upstream read granularity.
const readChunkSize = 32 * 1024

// endMarker is the zero-length sentinel that tells the drain loop the
// exchange is over.
var endMarker = []byte{}

// pump moves bytes from one upstream body to one client response.
//
// Producers append chunks to the queue and then try to claim the busy
// flag; the claimant drains toward the client. When the drain empties
// the queue it clears the flag and re-checks the queue before exiting,
// so a chunk pushed in that window is never stranded: either the drain
// re-claims the flag itself or the pusher finds it clear and claims it.
type pump struct {
	w       http.ResponseWriter
	flusher http.Flusher
	cancel  func()
	logger  *slog.Logger

	mu    sync.Mutex
	queue [][]byte

	busy       atomic.Bool
	subscribed atomic.Bool
	finished   atomic.Bool

	finishOnce sync.Once
	done       chan struct{}
	sent       atomic.Int64
}

func newPump(w http.ResponseWriter, cancel func(), logger *slog.Logger) *pump {
	p := &pump{
		w:      w,
		cancel: cancel,
		logger: logger,
		done:   make(chan struct{}),
	}
	if f, ok := w.(http.Flusher); ok {
		p.flusher = f
	}
	return p
}

// subscribe attaches the upstream body and starts reading it. A pump
// owns exactly one subscription; a second attempt is rejected and the
// offered body closed.
func (p *pump) subscribe(body io.ReadCloser) {
	if !p.subscribed.CompareAndSwap(false, true) {
		p.logger.Warn("duplicate stream subscription rejected")
		_ = body.Close()
		return
	}

	go func() {
		defer body.Close()

		buf := make([]byte, readChunkSize)
		for {
			n, err := body.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				p.push(chunk)
			}
			if err != nil {
				if !errors.Is(err, io.EOF) && !p.finished.Load() {
					p.logger.Debug("upstream read ended", slog.String("error", err.Error()))
				}
				p.push(endMarker)
				return
			}
		}
	}()
}

// push enqueues a chunk and starts a drain if none is running. Pushing
// to a finished pump is a no-op.
func (p *pump) push(chunk []byte) {
	if p.finished.Load() {
		return
	}

	p.mu.Lock()
	p.queue = append(p.queue, chunk)
	p.mu.Unlock()

	if p.busy.CompareAndSwap(false, true) {
		p.drain()
	}
}

// drain writes queued chunks to the client until the queue empties or
// the exchange ends. Runs on whichever goroutine claimed the busy flag.
func (p *pump) drain() {
	for {
		p.mu.Lock()
		if len(p.queue) == 0 {
			p.mu.Unlock()
			p.busy.Store(false)

			// A push may have landed between emptying the queue and
			// clearing the flag. Re-check; losing the re-claim means
			// that pusher owns the drain now.
			p.mu.Lock()
			empty := len(p.queue) == 0
			p.mu.Unlock()
			if empty || !p.busy.CompareAndSwap(false, true) {
				return
			}
			continue
		}
		chunk := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()

		if len(chunk) == 0 {
			p.finish(nil)
			return
		}

		if _, err := p.w.Write(chunk); err != nil {
			p.finish(err)
			return
		}
		p.sent.Add(int64(len(chunk)))
		if p.flusher != nil {
			p.flusher.Flush()
		}
	}
}

// finish ends the exchange: the upstream request is cancelled and the
// waiter released exactly once, whichever of sentinel, write error, or
// repeated calls gets here first.
func (p *pump) finish(err error) {
	p.finishOnce.Do(func() {
		p.finished.Store(true)
		if err != nil {
			p.logger.Debug("client write ended", slog.String("error", err.Error()))
		}
		p.cancel()
		close(p.done)
	})
}

// wait blocks until the exchange ends and returns the bytes written to
// the client.
func (p *pump) wait() int64 {
	<-p.done
	return p.sent.Load()
}
