package emulator

import (
	"context"
	"time"

	"github.com/google/uuid"

	qerrors "github.com/guileen/crossquery/engine/errors"
	"github.com/guileen/crossquery/executor"
	"github.com/guileen/crossquery/logger"
	"github.com/guileen/crossquery/pipe"
	"github.com/guileen/crossquery/routing"
)

// ExecuteQuery runs one page of a partition query.
func (e *Emulator) ExecuteQuery(ctx context.Context, req *pipe.Request) (*pipe.Response, error) {
	resp, err := e.executeQuery(ctx, req)
	rec := RequestRecord{
		Collection:   req.Collection,
		RangeID:      req.PartitionKeyRangeID,
		MaxItemCount: req.MaxItemCount,
		Continuation: req.Continuation,
	}
	if err != nil {
		rec.Code = qerrors.Code(err)
	} else {
		rec.Items = len(resp.Items)
	}
	e.faultMu.Lock()
	e.requests = append(e.requests, rec)
	e.faultMu.Unlock()
	return resp, err
}

func (e *Emulator) executeQuery(ctx context.Context, req *pipe.Request) (*pipe.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, qerrors.Wrap(err, qerrors.ErrCodeRequestCanceled, "ExecuteQuery")
	}
	if err := e.nextFault(); err != nil {
		return nil, err
	}
	if e.limiter != nil && !e.limiter.Allow() {
		return nil, qerrors.NewThrottled("ExecuteQuery", "request rate too large")
	}
	if e.latency > 0 {
		timer := time.NewTimer(e.latency)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, qerrors.Wrap(ctx.Err(), qerrors.ErrCodeRequestCanceled, "ExecuteQuery")
		case <-timer.C:
		}
	}

	c, err := e.collection("ExecuteQuery", req.Collection)
	if err != nil {
		return nil, err
	}
	rng := req.Range
	if req.PartitionKeyRangeID != "" {
		live, err := c.lookup("ExecuteQuery", req.PartitionKeyRangeID)
		if err != nil {
			return nil, err
		}
		if rng == (routing.Range{}) {
			rng = live.Range()
		}
		if !live.Range().Covers(rng) {
			return nil, qerrors.NewPartitionGone("ExecuteQuery", req.PartitionKeyRangeID)
		}
	}
	q, err := e.query(req.Query)
	if err != nil {
		return nil, err
	}

	res, err := c.exec.Execute(ctx, &executor.Request{
		Query:        q,
		Params:       req.Parameters,
		Range:        rng,
		Continuation: req.Continuation,
		MaxItemCount: req.MaxItemCount,
		ScanBudget:   e.scanBudget,
	})
	if err != nil {
		return nil, err
	}

	charge := float64(res.Metrics.RetrievedDocumentCount)*RetrievedDocumentCharge +
		float64(res.Metrics.OutputDocumentCount)*OutputDocumentCharge
	activityID := req.ActivityID
	if activityID == "" {
		activityID = uuid.NewString()
	}
	resp := &pipe.Response{
		Items:         res.Items,
		Continuation:  res.Continuation,
		RequestCharge: charge,
		ActivityID:    activityID,
	}
	if req.PopulateMetrics {
		m := res.Metrics
		m.RequestCharge = charge
		resp.Metrics = &m
	}

	logger.DebugContext(ctx, "query page served",
		logger.Collection(req.Collection),
		logger.PartitionRange(req.PartitionKeyRangeID, rng.Min, rng.Max),
		logger.PageSize(req.MaxItemCount),
		logger.Int("items", len(res.Items)),
		logger.Charge(charge))
	return resp, nil
}

// InjectTransient makes the next n query requests fail with service_unavailable.
func (e *Emulator) InjectTransient(n int) {
	e.faultMu.Lock()
	defer e.faultMu.Unlock()
	e.transientFaults += n
}

// InjectSpuriousCancel makes the next n query requests report a
// cancellation the caller did not ask for.
func (e *Emulator) InjectSpuriousCancel(n int) {
	e.faultMu.Lock()
	defer e.faultMu.Unlock()
	e.cancelFaults += n
}

func (e *Emulator) nextFault() error {
	e.faultMu.Lock()
	defer e.faultMu.Unlock()
	switch {
	case e.transientFaults > 0:
		e.transientFaults--
		return qerrors.NewServiceUnavailable("ExecuteQuery", "partition temporarily unavailable")
	case e.cancelFaults > 0:
		e.cancelFaults--
		return qerrors.NewRequestCanceled("ExecuteQuery", "request canceled by the backend")
	}
	return nil
}

// Requests returns every query request served so far, in arrival order.
func (e *Emulator) Requests() []RequestRecord {
	e.faultMu.Lock()
	defer e.faultMu.Unlock()
	out := make([]RequestRecord, len(e.requests))
	copy(out, e.requests)
	return out
}

// ResetRequests clears the request log.
func (e *Emulator) ResetRequests() {
	e.faultMu.Lock()
	defer e.faultMu.Unlock()
	e.requests = nil
}

var (
	_ pipe.QueryClient = (*Emulator)(nil)
	_ routing.Provider = (*Emulator)(nil)
)
