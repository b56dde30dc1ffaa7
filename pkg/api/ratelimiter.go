package api

// Per-IP upload serialization built on channels instead of a mutex
// map: a single dispatcher goroutine owns the worker table, and each
// IP gets its own worker goroutine that hands out permits one at a
// time with a cooldown between uploads. Ingestion chews CPU and
// scratch disk, so one upload per client at a time is the fairness
// model; idle workers retire on their own.

import (
	"context"
	"time"
)

// idleTimeout retires a per-IP worker that has seen no requests.
const idleTimeout = 5 * time.Minute

// Permit is the right to run one upload. Release it when the upload
// finishes so the cooldown clock starts.
type Permit struct {
	release chan<- struct{}
}

// Release returns the permit. Safe to call exactly once; the handler
// does it in a defer.
func (p *Permit) Release() {
	if p == nil || p.release == nil {
		return
	}
	p.release <- struct{}{}
	p.release = nil
}

type acquireReq struct {
	ip    string
	ctx   context.Context
	reply chan acquireResp
}

type acquireResp struct {
	permit *Permit
	err    error
}

// UploadLimiter serializes uploads per client IP with a cooldown
// between consecutive uploads from the same address.
type UploadLimiter struct {
	cooldown time.Duration
	requests chan acquireReq
}

// NewUploadLimiter starts the dispatcher. cooldown is the mandatory
// pause between two uploads from one IP; zero disables the pause but
// still serializes.
func NewUploadLimiter(cooldown time.Duration) *UploadLimiter {
	l := &UploadLimiter{
		cooldown: cooldown,
		requests: make(chan acquireReq),
	}
	go l.dispatch()
	return l
}

// Acquire blocks until the caller may start an upload or the context
// is done. The returned permit must be released.
func (l *UploadLimiter) Acquire(ctx context.Context, ip string) (*Permit, error) {
	reply := make(chan acquireResp, 1)
	select {
	case l.requests <- acquireReq{ip: ip, ctx: ctx, reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case resp := <-reply:
		return resp.permit, resp.err
	case <-ctx.Done():
		// The worker may still answer; the buffered reply channel
		// keeps it from blocking, and an unclaimed permit is released
		// by the worker noticing the dead context.
		return nil, ctx.Err()
	}
}

// dispatch owns the worker table. Workers announce their own exit on
// done, so the table never references a goroutine that has left.
func (l *UploadLimiter) dispatch() {
	workers := make(map[string]chan acquireReq)
	done := make(chan string)
	for {
		select {
		case req := <-l.requests:
			w, ok := workers[req.ip]
			if !ok {
				w = make(chan acquireReq, 16)
				workers[req.ip] = w
				go l.runWorker(req.ip, w, done)
			}
			select {
			case w <- req:
			default:
				// Queue full: this client is hammering us.
				req.reply <- acquireResp{err: context.DeadlineExceeded}
			}
		case ip := <-done:
			delete(workers, ip)
		}
	}
}

// runWorker serializes one IP's uploads. Between permits it sleeps
// until the cooldown since the last release has passed.
func (l *UploadLimiter) runWorker(ip string, in <-chan acquireReq, done chan<- string) {
	var lastFinish time.Time
	idle := time.NewTimer(idleTimeout)
	defer idle.Stop()

	for {
		select {
		case req := <-in:
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}

			if wait := l.cooldown - time.Since(lastFinish); wait > 0 {
				select {
				case <-time.After(wait):
				case <-req.ctx.Done():
					req.reply <- acquireResp{err: req.ctx.Err()}
					idle.Reset(idleTimeout)
					continue
				}
			}

			release := make(chan struct{}, 1)
			req.reply <- acquireResp{permit: &Permit{release: release}}
			select {
			case <-release:
			case <-req.ctx.Done():
				// Caller abandoned the request after the permit was
				// issued; treat the upload as finished.
			}
			lastFinish = time.Now()
			idle.Reset(idleTimeout)

		case <-idle.C:
			done <- ip
			// Drain anything that raced in while we were retiring.
			for {
				select {
				case req := <-in:
					req.reply <- acquireResp{err: context.Canceled}
				default:
					return
				}
			}
		}
	}
}
