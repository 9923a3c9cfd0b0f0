package executor

import (
	"context"
	"encoding/hex"
)

// stream returns matching documents in storage order, one page at a time.
func (e *Executor) stream(ctx context.Context, req *Request, tok token) (*Result, error) {
	from, to, err := window(req)
	if err != nil {
		return nil, err
	}
	res := &Result{}
	matched := tok.Count
	if to >= 0 && matched >= to {
		return res, nil
	}

	last := tok.key
	exhausted := true
	scanned := 0
	err = e.scan(ctx, req.Range, tok.key, func(doc document) bool {
		if req.ScanBudget > 0 && scanned >= req.ScanBudget {
			exhausted = false
			return false
		}
		scanned++
		last = doc.key
		res.Metrics.RetrievedDocumentCount++
		res.Metrics.RetrievedDocumentSize += int64(doc.size)
		if !e.matches(req, doc.body) {
			return true
		}

		idx := matched
		matched++
		if idx >= from {
			if v := project(req.Query, e.env(req, doc.body)); v.IsDefined() {
				res.Items = append(res.Items, v)
				res.Metrics.OutputDocumentCount++
				res.Metrics.OutputDocumentSize += int64(v.Size())
			}
		}
		if to >= 0 && matched >= to {
			return false
		}
		if req.MaxItemCount > 0 && len(res.Items) >= req.MaxItemCount {
			exhausted = false
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if !exhausted {
		res.Continuation = token{Key: hex.EncodeToString(last), Count: matched}.encode()
	}
	return res, nil
}
