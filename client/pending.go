package client

import (
	"context"
	"time"

	"github.com/PwzXxm/nrpc-lite/protocol"
	"github.com/PwzXxm/nrpc-lite/rpccore"
	"github.com/PwzXxm/nrpc-lite/rpcerr"
	"github.com/PwzXxm/nrpc-lite/utils"
	"github.com/sasha-s/go-deadlock"
	"github.com/sirupsen/logrus"
)

type outcome struct {
	res *protocol.Response
	err error
}

// PendingCall representing one outstanding request
type PendingCall struct {
	ID       uint64
	Endpoint rpccore.Endpoint
	Deadline time.Time
	// buffered, written exactly once by whoever removes the call
	done chan outcome
}

// PendingTable correlates responses to callers by request id. A call
// leaves the table exactly once: resolved, failed or timed out.
type PendingTable struct {
	lock   deadlock.Mutex
	calls  map[uint64]*PendingCall
	logger *logrus.Entry
}

func NewPendingTable(logger *logrus.Entry) *PendingTable {
	return &PendingTable{
		calls:  make(map[uint64]*PendingCall),
		logger: utils.OrNop(logger),
	}
}

func (t *PendingTable) Add(id uint64, ep rpccore.Endpoint, deadline time.Time) (*PendingCall, error) {
	t.lock.Lock()
	defer t.lock.Unlock()
	if _, ok := t.calls[id]; ok {
		return nil, rpcerr.New(rpcerr.KindProtocol, "request id %v already pending", id)
	}
	pc := &PendingCall{ID: id, Endpoint: ep, Deadline: deadline, done: make(chan outcome, 1)}
	t.calls[id] = pc
	return pc, nil
}

func (t *PendingTable) remove(id uint64) (*PendingCall, bool) {
	t.lock.Lock()
	defer t.lock.Unlock()
	pc, ok := t.calls[id]
	if ok {
		delete(t.calls, id)
	}
	return pc, ok
}

// Resolve hands res to the call with the same id. It returns false for
// late or duplicate responses, which are dropped.
func (t *PendingTable) Resolve(res *protocol.Response) bool {
	pc, ok := t.remove(res.RequestID)
	if !ok {
		t.logger.Debugf("Dropping response %v (%v) with no pending call", res.RequestID, res.Code)
		return false
	}
	pc.done <- outcome{res: res}
	return true
}

func (t *PendingTable) Fail(id uint64, err error) bool {
	pc, ok := t.remove(id)
	if !ok {
		return false
	}
	pc.done <- outcome{err: err}
	return true
}

// FailEndpoint fails every call waiting on ep and returns how many
func (t *PendingTable) FailEndpoint(ep rpccore.Endpoint, err error) int {
	t.lock.Lock()
	var failed []*PendingCall
	for id, pc := range t.calls {
		if pc.Endpoint == ep {
			failed = append(failed, pc)
			delete(t.calls, id)
		}
	}
	t.lock.Unlock()
	for _, pc := range failed {
		pc.done <- outcome{err: err}
	}
	return len(failed)
}

func (t *PendingTable) Len() int {
	t.lock.Lock()
	defer t.lock.Unlock()
	return len(t.calls)
}

// Wait blocks until the call is resolved, its deadline passes or ctx is
// done. Whichever removes the call from the table wins.
func (t *PendingTable) Wait(ctx context.Context, pc *PendingCall) (*protocol.Response, error) {
	timer := time.NewTimer(time.Until(pc.Deadline))
	defer timer.Stop()
	var reason error
	select {
	case o := <-pc.done:
		return o.res, o.err
	case <-timer.C:
		reason = rpcerr.New(rpcerr.KindTimeout, "no response to %v from %v", pc.ID, pc.Endpoint)
	case <-ctx.Done():
		reason = rpcerr.Wrap(ctx.Err(), rpcerr.KindTimeout, "call %v abandoned", pc.ID)
	}
	if _, ok := t.remove(pc.ID); ok {
		return nil, reason
	}
	// resolved concurrently, the outcome is already buffered
	o := <-pc.done
	return o.res, o.err
}
