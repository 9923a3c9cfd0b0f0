package emulator

import (
	"context"
	"strings"
	"time"

	"github.com/guileen/crossquery/codec"
	qerrors "github.com/guileen/crossquery/engine/errors"
	"github.com/guileen/crossquery/routing"
	"github.com/guileen/crossquery/storage"
	"github.com/guileen/crossquery/types"
)

// Upsert stores doc, keyed by its "id" and partition key, and returns it
// with the system properties _rid and _ts set. Replacing a document keeps
// its rid.
func (e *Emulator) Upsert(ctx context.Context, name string, doc types.Item) (types.Item, error) {
	c, err := e.collection("Upsert", name)
	if err != nil {
		return types.Item{}, err
	}
	if doc.Kind() != types.Object {
		return types.Item{}, qerrors.NewBadRequest("Upsert", "document must be a JSON object")
	}
	id, ok := doc.Get("id").AsString()
	if !ok || id == "" {
		return types.Item{}, qerrors.NewBadRequest("Upsert", "document id must be a non-empty string")
	}
	epk, err := c.effectiveKey("Upsert", doc.GetPath(c.pkPath...))
	if err != nil {
		return types.Item{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	idKey := codec.EncodeIDKey(epk, id)
	var rid string
	switch raw, err := c.kv.Get(ctx, idKey); {
	case err == nil:
		rid = string(raw)
	case storage.IsNotFound(err):
		if rid, err = e.rids.NextRID(ctx); err != nil {
			return types.Item{}, qerrors.Wrap(err, qerrors.ErrCodeInternal, "Upsert")
		}
	default:
		return types.Item{}, qerrors.Wrap(err, qerrors.ErrCodeInternal, "Upsert")
	}

	stored := doc.With("_rid", types.StringItem(rid)).With("_ts", types.NumberItem(float64(time.Now().Unix())))
	batch := c.kv.NewBatch()
	defer batch.Close()
	if err := batch.Set(codec.EncodeDocumentKey(epk, rid), []byte(stored.JSON())); err != nil {
		return types.Item{}, qerrors.Wrap(err, qerrors.ErrCodeInternal, "Upsert")
	}
	if err := batch.Set(idKey, []byte(rid)); err != nil {
		return types.Item{}, qerrors.Wrap(err, qerrors.ErrCodeInternal, "Upsert")
	}
	if err := c.kv.CommitBatch(ctx, batch); err != nil {
		return types.Item{}, qerrors.Wrap(err, qerrors.ErrCodeInternal, "Upsert")
	}
	return stored, nil
}

// Get reads the document with the given id and partition key.
func (e *Emulator) Get(ctx context.Context, name, id string, pk types.Item) (types.Item, error) {
	c, err := e.collection("Get", name)
	if err != nil {
		return types.Item{}, err
	}
	epk, err := c.effectiveKey("Get", pk)
	if err != nil {
		return types.Item{}, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	rid, err := c.rid(ctx, "Get", epk, id)
	if err != nil {
		return types.Item{}, err
	}
	raw, err := c.kv.Get(ctx, codec.EncodeDocumentKey(epk, rid))
	if err != nil {
		return types.Item{}, qerrors.Wrap(err, qerrors.ErrCodeInternal, "Get")
	}
	doc, err := types.Parse(raw)
	if err != nil {
		return types.Item{}, qerrors.Wrap(err, qerrors.ErrCodeInternal, "Get")
	}
	return doc, nil
}

// Delete removes the document with the given id and partition key.
func (e *Emulator) Delete(ctx context.Context, name, id string, pk types.Item) error {
	c, err := e.collection("Delete", name)
	if err != nil {
		return err
	}
	epk, err := c.effectiveKey("Delete", pk)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	rid, err := c.rid(ctx, "Delete", epk, id)
	if err != nil {
		return err
	}
	batch := c.kv.NewBatch()
	defer batch.Close()
	if err := batch.Delete(codec.EncodeDocumentKey(epk, rid)); err != nil {
		return qerrors.Wrap(err, qerrors.ErrCodeInternal, "Delete")
	}
	if err := batch.Delete(codec.EncodeIDKey(epk, id)); err != nil {
		return qerrors.Wrap(err, qerrors.ErrCodeInternal, "Delete")
	}
	if err := c.kv.CommitBatch(ctx, batch); err != nil {
		return qerrors.Wrap(err, qerrors.ErrCodeInternal, "Delete")
	}
	return nil
}

// Count returns the number of stored documents.
func (e *Emulator) Count(ctx context.Context, name string) (int, error) {
	c, err := e.collection("Count", name)
	if err != nil {
		return 0, err
	}
	lower, upper := codec.DocumentRangeBounds(routing.MinimumInclusiveEPK, routing.MaximumExclusiveEPK)
	iter := c.kv.NewIterator(&storage.IteratorOptions{LowerBound: lower, UpperBound: upper})
	defer iter.Close()
	n := 0
	for ok := iter.First(); ok && iter.Valid(); ok = iter.Next() {
		if err := ctx.Err(); err != nil {
			return 0, qerrors.Wrap(err, qerrors.ErrCodeRequestCanceled, "Count")
		}
		n++
	}
	if err := iter.Error(); err != nil {
		return 0, qerrors.Wrap(err, qerrors.ErrCodeInternal, "Count")
	}
	return n, nil
}

func (c *collection) effectiveKey(op string, pk types.Item) (string, error) {
	if !pk.IsDefined() {
		return "", qerrors.NewBadRequestf(op, "document has no value at partition key path /%s", strings.Join(c.pkPath, "/"))
	}
	return routing.EffectivePartitionKey(pk), nil
}

func (c *collection) rid(ctx context.Context, op, epk, id string) (string, error) {
	raw, err := c.kv.Get(ctx, codec.EncodeIDKey(epk, id))
	if storage.IsNotFound(err) {
		return "", qerrors.NewNotFoundf(op, "document %s not found", id)
	}
	if err != nil {
		return "", qerrors.Wrap(err, qerrors.ErrCodeInternal, op)
	}
	return string(raw), nil
}

// UpsertAll stores every document, stopping at the first failure.
func (e *Emulator) UpsertAll(ctx context.Context, name string, docs []types.Item) error {
	for _, doc := range docs {
		if _, err := e.Upsert(ctx, name, doc); err != nil {
			return err
		}
	}
	return nil
}
