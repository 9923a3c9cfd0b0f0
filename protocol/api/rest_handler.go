package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/guileen/crossquery/client"
	"github.com/guileen/crossquery/emulator"
	qerrors "github.com/guileen/crossquery/engine/errors"
	"github.com/guileen/crossquery/logger"
	"github.com/guileen/crossquery/metrics"
	"github.com/guileen/crossquery/types"
)

// Request and response headers.
const (
	HeaderMaxItemCount   = "x-ms-max-item-count"
	HeaderContinuation   = "x-ms-continuation"
	HeaderMaxParallelism = "x-ms-max-parallelism"
	HeaderCrossPartition = "x-ms-documentdb-query-enablecrosspartition"
	HeaderPartitionKey   = "x-ms-documentdb-partitionkey"
	HeaderRangeID        = "x-ms-documentdb-partitionkeyrangeid"
	HeaderPopulateStats  = "x-ms-documentdb-populatequerymetrics"
	HeaderRequestCharge  = "x-ms-request-charge"
	HeaderActivityID     = "x-ms-activity-id"
	HeaderQueryMetrics   = "x-ms-documentdb-query-metrics"
)

// RESTHandler serves collections of an emulated backend and queries over
// them.
type RESTHandler struct {
	backend *emulator.Emulator
	client  *client.Client

	defaultPath       string
	defaultPartitions int
}

func NewRESTHandler(backend *emulator.Emulator, c *client.Client) *RESTHandler {
	return &RESTHandler{backend: backend, client: c, defaultPartitions: 1}
}

// WithCollectionDefaults sets the partition key path and partition count used
// when a create request leaves them out.
func (h *RESTHandler) WithCollectionDefaults(pkPath string, partitions int) *RESTHandler {
	h.defaultPath = pkPath
	if partitions > 0 {
		h.defaultPartitions = partitions
	}
	return h
}

func (h *RESTHandler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.Health)
	r.Handle("/metrics", metrics.Handler())
	r.Route("/colls/{coll}", func(r chi.Router) {
		r.Put("/", h.CreateCollection)
		r.Get("/ranges", h.ListRanges)
		r.Post("/ranges/{id}/split", h.SplitRange)
		r.Post("/docs", h.UpsertDocument)
		r.Get("/docs/{id}", h.GetDocument)
		r.Delete("/docs/{id}", h.DeleteDocument)
		r.Post("/query", h.Query)
	})
}

type CreateCollectionRequest struct {
	PartitionKeyPath string `json:"partitionKeyPath"`
	Partitions       int    `json:"partitions"`
}

type QueryRequest struct {
	Query      string           `json:"query"`
	Parameters []QueryParameter `json:"parameters,omitempty"`
}

type QueryParameter struct {
	Name  string          `json:"name"`
	Value json.RawMessage `json:"value"`
}

type QueryResponse struct {
	Documents []types.Item `json:"Documents"`
	Count     int          `json:"_count"`
}

type RangeResponse struct {
	ID           string   `json:"id"`
	MinInclusive string   `json:"minInclusive"`
	MaxExclusive string   `json:"maxExclusive"`
	Parents      []string `json:"parents,omitempty"`
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *RESTHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *RESTHandler) CreateCollection(w http.ResponseWriter, r *http.Request) {
	var req CreateCollectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, qerrors.NewBadRequestf("api.CreateCollection", "invalid request body: %v", err))
		return
	}
	if req.PartitionKeyPath == "" {
		req.PartitionKeyPath = h.defaultPath
	}
	if req.Partitions == 0 {
		req.Partitions = h.defaultPartitions
	}
	if err := h.backend.CreateCollection(chi.URLParam(r, "coll"), req.PartitionKeyPath, req.Partitions); err != nil {
		writeError(w, err)
		return
	}
	h.ListRanges(w, r)
}

func (h *RESTHandler) ListRanges(w http.ResponseWriter, r *http.Request) {
	ranges, err := h.backend.PartitionKeyRanges(r.Context(), chi.URLParam(r, "coll"), true)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]RangeResponse, len(ranges))
	for i, pr := range ranges {
		out[i] = RangeResponse{ID: pr.ID, MinInclusive: pr.MinInclusive, MaxExclusive: pr.MaxExclusive, Parents: pr.Parents}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *RESTHandler) SplitRange(w http.ResponseWriter, r *http.Request) {
	children, err := h.backend.Split(r.Context(), chi.URLParam(r, "coll"), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]RangeResponse, len(children))
	for i, pr := range children {
		out[i] = RangeResponse{ID: pr.ID, MinInclusive: pr.MinInclusive, MaxExclusive: pr.MaxExclusive, Parents: pr.Parents}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *RESTHandler) UpsertDocument(w http.ResponseWriter, r *http.Request) {
	var doc types.Item
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeError(w, qerrors.NewBadRequestf("api.Upsert", "invalid document: %v", err))
		return
	}
	stored, err := h.backend.Upsert(r.Context(), chi.URLParam(r, "coll"), doc)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, stored)
}

func (h *RESTHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	pk, err := partitionKeyParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	doc, err := h.backend.Get(r.Context(), chi.URLParam(r, "coll"), chi.URLParam(r, "id"), pk)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *RESTHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	pk, err := partitionKeyParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.backend.Delete(r.Context(), chi.URLParam(r, "coll"), chi.URLParam(r, "id"), pk); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Query returns one page. The caller passes x-ms-continuation back to get
// the next one.
func (h *RESTHandler) Query(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, qerrors.NewBadRequestf("api.Query", "invalid request body: %v", err))
		return
	}
	spec := client.QuerySpec{Query: req.Query}
	for _, p := range req.Parameters {
		v, err := types.Parse(p.Value)
		if err != nil {
			writeError(w, qerrors.NewBadRequestf("api.Query", "invalid value of parameter %s: %v", p.Name, err))
			return
		}
		spec.Parameters = append(spec.Parameters, client.Parameter{Name: p.Name, Value: v})
	}
	fo, err := feedOptions(r, h.client.DefaultFeedOptions())
	if err != nil {
		writeError(w, err)
		return
	}

	it := h.client.Query(chi.URLParam(r, "coll"), spec, fo)
	defer it.Close()
	resp, err := it.ExecuteNext(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	docs := resp.Items
	charge := resp.RequestCharge
	token, tokenErr := resp.ContinuationToken()
	if tokenErr != nil {
		// No token can be issued, so the rest is returned in this response.
		for it.HasMoreResults() {
			more, err := it.ExecuteNext(r.Context())
			if err != nil {
				writeError(w, err)
				return
			}
			docs = append(docs, more.Items...)
			charge += more.RequestCharge
		}
		token = ""
	}

	w.Header().Set(HeaderRequestCharge, strconv.FormatFloat(charge, 'f', -1, 64))
	w.Header().Set(HeaderActivityID, resp.ActivityID)
	if token != "" {
		w.Header().Set(HeaderContinuation, token)
	}
	if m := it.CumulativeMetrics(); fo.PopulateQueryMetrics && len(m) > 0 {
		w.Header().Set(HeaderQueryMetrics, m.Total().String())
	}
	if docs == nil {
		docs = []types.Item{}
	}
	writeJSON(w, http.StatusOK, QueryResponse{Documents: docs, Count: len(docs)})
}

func feedOptions(r *http.Request, fo *client.FeedOptions) (*client.FeedOptions, error) {
	var err error
	if fo.MaxItemCount, err = intHeader(r, HeaderMaxItemCount, fo.MaxItemCount); err != nil {
		return nil, err
	}
	if fo.MaxDegreeOfParallelism, err = intHeader(r, HeaderMaxParallelism, fo.MaxDegreeOfParallelism); err != nil {
		return nil, err
	}
	fo.EnableCrossPartitionQuery = strings.EqualFold(r.Header.Get(HeaderCrossPartition), "true")
	if v := r.Header.Get(HeaderPopulateStats); v != "" {
		fo.PopulateQueryMetrics = strings.EqualFold(v, "true")
	}
	if v := r.Header.Get(HeaderPartitionKey); v != "" {
		pk, err := parsePartitionKey(v)
		if err != nil {
			return nil, err
		}
		fo.PartitionKey = &pk
	}
	fo.PartitionKeyRangeID = r.Header.Get(HeaderRangeID)
	fo.RequestContinuation = r.Header.Get(HeaderContinuation)
	fo.ActivityID = r.Header.Get(HeaderActivityID)
	return fo, nil
}

// parsePartitionKey accepts a JSON value, or the one-element JSON array
// form of the header.
func parsePartitionKey(s string) (types.Item, error) {
	v, err := types.Parse([]byte(s))
	if err != nil {
		return types.Item{}, qerrors.NewBadRequestf("api.partitionKey", "invalid partition key %q", s)
	}
	if v.Kind() == types.Array {
		if v.Len() != 1 {
			return types.Item{}, qerrors.NewBadRequestf("api.partitionKey", "partition key %s must have one component", s)
		}
		v = v.Index(0)
	}
	return v, nil
}

func partitionKeyParam(r *http.Request) (types.Item, error) {
	s := r.URL.Query().Get("pk")
	if s == "" {
		return types.Item{}, qerrors.NewBadRequest("api.partitionKey", "the pk query parameter is required")
	}
	if v, err := parsePartitionKey(s); err == nil {
		return v, nil
	}
	return types.StringItem(s), nil
}

func intHeader(r *http.Request, name string, def int) (int, error) {
	v := r.Header.Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, qerrors.NewBadRequestf("api.header", "invalid %s header %q", name, v)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Warn("failed to write response", logger.ErrorField(err))
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := qerrors.Code(err)
	var ee *qerrors.EngineError
	msg := err.Error()
	if errors.As(err, &ee) && ee.Message != "" {
		msg = ee.Message
	}
	if s := qerrors.StatusCode(err); s >= http.StatusInternalServerError {
		logger.Error("request failed", logger.ErrorField(err))
	}
	writeJSON(w, qerrors.StatusCode(err), ErrorResponse{Code: code, Message: msg})
}
