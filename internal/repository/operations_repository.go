package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/collections-gateway/internal/models"
	appErrors "github.com/noah-isme/collections-gateway/pkg/errors"
	"github.com/noah-isme/collections-gateway/pkg/jsonapi"
	"github.com/noah-isme/collections-gateway/pkg/middleware/requestid"
)

// UpstreamObserver records back-end call metrics.
type UpstreamObserver interface {
	ObserveUpstreamRequest(service, method string, status int, duration time.Duration)
}

// OperationsConfig configures the JSON:API client.
type OperationsConfig struct {
	BaseURL string
	Timeout time.Duration
	// Compact sends the Crnk-Compact header.
	Compact bool
	// ServiceURLs overrides BaseURL for individual services, keyed by service name.
	ServiceURLs map[string]string
}

// OperationOptions tune one DoOperations call.
type OperationOptions struct {
	// ReturnNullForMissing turns 404 and 410 responses into null data instead of errors.
	ReturnNullForMissing bool
	// OverridePatch creates every resource with POST, even when it carries an id.
	OverridePatch bool
}

// ListParams describe a collection query.
type ListParams struct {
	Filter  string
	Include []string
	Fields  map[string]string
	Limit   int
	Offset  int
	Sort    string
}

// OperationsRepository talks to the JSON:API back-ends and their json-patch operations
// endpoint.
type OperationsRepository struct {
	baseURL  string
	services map[string]string
	client   *http.Client
	compact  bool
	newID    func() string
	observer UpstreamObserver
	logger   *zap.Logger
}

// OperationsOption customises the repository.
type OperationsOption func(*OperationsRepository)

// WithHTTPClient swaps the HTTP client.
func WithHTTPClient(client *http.Client) OperationsOption {
	return func(r *OperationsRepository) {
		if client != nil {
			r.client = client
		}
	}
}

// WithIDGenerator overrides how temporary ids of new resources are generated.
func WithIDGenerator(fn func() string) OperationsOption {
	return func(r *OperationsRepository) {
		if fn != nil {
			r.newID = fn
		}
	}
}

// WithUpstreamObserver attaches a metrics observer.
func WithUpstreamObserver(observer UpstreamObserver) OperationsOption {
	return func(r *OperationsRepository) {
		r.observer = observer
	}
}

// NewOperationsRepository constructs the client.
func NewOperationsRepository(cfg OperationsConfig, logger *zap.Logger, opts ...OperationsOption) *OperationsRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	r := &OperationsRepository{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		services: cfg.ServiceURLs,
		client:   &http.Client{Timeout: timeout},
		compact:  cfg.Compact,
		newID:    uuid.NewString,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type authorizationKey struct{}

// WithAuthorization stores the caller's Authorization header for forwarding upstream.
func WithAuthorization(ctx context.Context, header string) context.Context {
	return context.WithValue(ctx, authorizationKey{}, header)
}

// AuthorizationFrom returns the Authorization header stored by WithAuthorization.
func AuthorizationFrom(ctx context.Context) string {
	v, _ := ctx.Value(authorizationKey{}).(string)
	return v
}

// DoOperations runs write or read operations against service. A single operation is sent
// as a plain REST call; several are sent in one PATCH to the operations endpoint. Any
// non-2xx entry turns the whole call into an error carrying form and field messages.
func (r *OperationsRepository) DoOperations(ctx context.Context, service string, ops []jsonapi.Operation, opts OperationOptions) ([]jsonapi.OperationResponse, error) {
	if len(ops) == 0 {
		r.logger.Debug("empty operations request skipped", zap.String("service", service))
		return []jsonapi.OperationResponse{}, nil
	}

	var (
		responses []jsonapi.OperationResponse
		err       error
	)
	if len(ops) == 1 {
		responses, err = r.single(ctx, service, ops[0])
	} else {
		responses, err = r.batch(ctx, service, ops)
	}
	if err != nil {
		return nil, err
	}

	checked := responses
	if opts.ReturnNullForMissing {
		checked = make([]jsonapi.OperationResponse, 0, len(responses))
		for i, res := range responses {
			if res.Status == http.StatusNotFound || res.Status == http.StatusGone {
				responses[i] = jsonapi.OperationResponse{Data: json.RawMessage("null"), Status: http.StatusNotFound}
				continue
			}
			checked = append(checked, res)
		}
	}

	if err := operationsError(checked); err != nil {
		r.logger.Warn("upstream operations failed",
			zap.String("service", service),
			zap.Int("operations", len(ops)),
			zap.String("request_id", requestid.FromContext(ctx)),
			zap.Error(err),
		)
		return nil, err
	}
	return responses, nil
}

func (r *OperationsRepository) single(ctx context.Context, service string, op jsonapi.Operation) ([]jsonapi.OperationResponse, error) {
	method := strings.ToUpper(op.Op)
	var body interface{}
	switch method {
	case http.MethodGet, http.MethodDelete:
	case http.MethodPost, http.MethodPatch:
		body = map[string]interface{}{"data": op.Value}
	default:
		return nil, appErrors.Clone(appErrors.ErrInternal, "unsupported single operation: "+op.Op)
	}

	status, raw, err := r.send(ctx, service, method, op.Path, body, jsonapi.MediaType)
	if err != nil {
		return nil, err
	}
	res := jsonapi.OperationResponse{Status: status}
	if len(bytes.TrimSpace(raw)) > 0 {
		var doc jsonapi.Document
		if err := json.Unmarshal(raw, &doc); err != nil {
			if status < http.StatusMultipleChoices {
				return nil, appErrors.Wrap(err, appErrors.ErrUpstream.Code, appErrors.ErrUpstream.Status, "invalid upstream response")
			}
			// Non JSON error pages only contribute their status.
			return []jsonapi.OperationResponse{res}, nil
		}
		res.Data = doc.Data
		res.Included = doc.Included
		res.Errors = doc.Errors
	}
	return []jsonapi.OperationResponse{res}, nil
}

func (r *OperationsRepository) batch(ctx context.Context, service string, ops []jsonapi.Operation) ([]jsonapi.OperationResponse, error) {
	status, raw, err := r.send(ctx, service, http.MethodPatch, "operations", ops, jsonapi.PatchMediaType)
	if err != nil {
		return nil, err
	}
	var responses []jsonapi.OperationResponse
	if err := json.Unmarshal(raw, &responses); err != nil {
		var doc jsonapi.Document
		if status >= 300 && json.Unmarshal(raw, &doc) == nil {
			return nil, operationsError([]jsonapi.OperationResponse{{Status: status, Errors: doc.Errors}})
		}
		return nil, appErrors.Wrap(err, appErrors.ErrUpstream.Code, appErrors.ErrUpstream.Status, "invalid upstream operations response")
	}
	if len(responses) != len(ops) {
		return nil, appErrors.Clone(appErrors.ErrUpstream, fmt.Sprintf("expected %d operation responses, got %d", len(ops), len(responses)))
	}
	return responses, nil
}

func (r *OperationsRepository) send(ctx context.Context, service, method, path string, body interface{}, mediaType string) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode upstream request")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.url(service, path), reader)
	if err != nil {
		return 0, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to build upstream request")
	}
	req.Header.Set("Accept", mediaType)
	req.Header.Set("Content-Type", mediaType)
	if r.compact {
		req.Header.Set(jsonapi.CompactHeader, "true")
	}
	if id := requestid.FromContext(ctx); id != "" {
		req.Header.Set(requestid.Header, id)
	}
	if auth := AuthorizationFrom(ctx); auth != "" {
		req.Header.Set("Authorization", auth)
	}

	start := time.Now()
	resp, err := r.client.Do(req)
	status := http.StatusServiceUnavailable
	if resp != nil {
		status = resp.StatusCode
	}
	if r.observer != nil {
		r.observer.ObserveUpstreamRequest(service, method, status, time.Since(start))
	}
	if err != nil {
		return 0, nil, appErrors.Wrap(err, appErrors.ErrUpstream.Code, appErrors.ErrUpstream.Status, "upstream request failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, appErrors.Wrap(err, appErrors.ErrUpstream.Code, appErrors.ErrUpstream.Status, "failed to read upstream response")
	}
	return resp.StatusCode, raw, nil
}

func (r *OperationsRepository) url(service, path string) string {
	if base, ok := r.services[service]; ok && base != "" {
		return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
	}
	return r.baseURL + "/" + strings.Trim(service, "/") + "/" + strings.TrimLeft(path, "/")
}

// Save creates, updates or deletes resources in one call. Creates and updates are sent
// first in argument order, followed by deletes. The returned values line up with that
// order; deletes yield nil entries.
func (r *OperationsRepository) Save(ctx context.Context, service string, args []jsonapi.SaveArg, opts OperationOptions) ([]models.Values, error) {
	saveOps := make([]jsonapi.Operation, 0, len(args))
	deleteOps := make([]jsonapi.Operation, 0)
	for _, arg := range args {
		if arg.Delete != nil {
			deleteOps = append(deleteOps, jsonapi.Operation{Op: http.MethodDelete, Path: arg.Delete.Type + "/" + arg.Delete.ID})
			continue
		}
		resource := make(map[string]interface{}, len(arg.Resource)+1)
		for k, v := range arg.Resource {
			resource[k] = v
		}
		if arg.Type != "" {
			resource["type"] = arg.Type
		}
		obj, err := jsonapi.Serialize(resource, arg.Relationships)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid save argument")
		}
		op := jsonapi.Operation{Op: http.MethodPatch, Path: obj.Type + "/" + obj.ID, Value: obj}
		if obj.ID == "" || opts.OverridePatch {
			op.Op = http.MethodPost
			op.Path = obj.Type
		}
		if obj.ID == "" {
			obj.ID = r.newID()
		}
		saveOps = append(saveOps, op)
	}

	responses, err := r.DoOperations(ctx, service, append(saveOps, deleteOps...), opts)
	if err != nil {
		return nil, err
	}
	out := make([]models.Values, len(responses))
	for i, res := range responses {
		if res.IsNullData() {
			continue
		}
		flat, err := jsonapi.Deserialize(res.Data, res.Included)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrUpstream.Code, appErrors.ErrUpstream.Status, "invalid upstream resource")
		}
		out[i] = models.Values(flat)
	}
	return out, nil
}

// BulkGet resolves many type/id paths in one request. Repeated paths are fetched once and
// results keep the order of paths. With ReturnNullForMissing, deleted targets are nil.
func (r *OperationsRepository) BulkGet(ctx context.Context, service string, paths []string, returnNullForMissing bool) ([]models.Values, error) {
	if len(paths) == 0 {
		return []models.Values{}, nil
	}
	unique := make([]string, 0, len(paths))
	index := make(map[string]int, len(paths))
	for _, p := range paths {
		if _, seen := index[p]; seen {
			continue
		}
		index[p] = len(unique)
		unique = append(unique, p)
	}
	ops := make([]jsonapi.Operation, len(unique))
	for i, p := range unique {
		ops[i] = jsonapi.Operation{Op: http.MethodGet, Path: p}
	}

	responses, err := r.DoOperations(ctx, service, ops, OperationOptions{ReturnNullForMissing: returnNullForMissing})
	if err != nil {
		return nil, err
	}
	resolved := make([]models.Values, len(unique))
	for i, res := range responses {
		if res.IsNullData() {
			continue
		}
		flat, err := jsonapi.Deserialize(res.Data, res.Included)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrUpstream.Code, appErrors.ErrUpstream.Status, "invalid upstream resource")
		}
		resolved[i] = models.Values(flat)
	}
	out := make([]models.Values, len(paths))
	for i, p := range paths {
		out[i] = resolved[index[p]]
	}
	return out, nil
}

// Get fetches one resource with optional includes.
func (r *OperationsRepository) Get(ctx context.Context, service, typ, id string, include []string) (models.Values, error) {
	path := typ + "/" + url.PathEscape(id)
	if len(include) > 0 {
		path += "?include=" + url.QueryEscape(strings.Join(include, ","))
	}
	status, raw, err := r.send(ctx, service, http.MethodGet, path, nil, jsonapi.MediaType)
	if err != nil {
		return nil, err
	}
	var doc jsonapi.Document
	if err := json.Unmarshal(raw, &doc); err != nil && status < 300 {
		return nil, appErrors.Wrap(err, appErrors.ErrUpstream.Code, appErrors.ErrUpstream.Status, "invalid upstream response")
	}
	if err := operationsError([]jsonapi.OperationResponse{{Status: status, Errors: doc.Errors}}); err != nil {
		return nil, err
	}
	flat, err := jsonapi.Deserialize(doc.Data, doc.Included)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUpstream.Code, appErrors.ErrUpstream.Status, "invalid upstream resource")
	}
	if flat == nil {
		return nil, appErrors.ErrNotFound
	}
	return models.Values(flat), nil
}

// List runs a filtered collection query.
func (r *OperationsRepository) List(ctx context.Context, service, typ string, params ListParams) ([]models.Values, error) {
	query := url.Values{}
	if params.Filter != "" {
		query.Set("filter[rsql]", params.Filter)
	}
	if len(params.Include) > 0 {
		query.Set("include", strings.Join(params.Include, ","))
	}
	for resource, fields := range params.Fields {
		query.Set("fields["+resource+"]", fields)
	}
	if params.Limit > 0 {
		query.Set("page[limit]", strconv.Itoa(params.Limit))
	}
	if params.Offset > 0 {
		query.Set("page[offset]", strconv.Itoa(params.Offset))
	}
	if params.Sort != "" {
		query.Set("sort", params.Sort)
	}
	path := typ
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}

	status, raw, err := r.send(ctx, service, http.MethodGet, path, nil, jsonapi.MediaType)
	if err != nil {
		return nil, err
	}
	var doc jsonapi.Document
	if err := json.Unmarshal(raw, &doc); err != nil && status < 300 {
		return nil, appErrors.Wrap(err, appErrors.ErrUpstream.Code, appErrors.ErrUpstream.Status, "invalid upstream response")
	}
	if err := operationsError([]jsonapi.OperationResponse{{Status: status, Errors: doc.Errors}}); err != nil {
		return nil, err
	}
	list, err := jsonapi.DeserializeList(doc.Data, doc.Included)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUpstream.Code, appErrors.ErrUpstream.Status, "invalid upstream resource list")
	}
	out := make([]models.Values, len(list))
	for i, item := range list {
		out[i] = models.Values(item)
	}
	return out, nil
}

// operationsError converts failed operation responses into a typed error: field errors and
// client failures become a validation style error with the upstream status, server
// failures an upstream error.
func operationsError(responses []jsonapi.OperationResponse) error {
	summary := jsonapi.Summarize(responses)
	worst := 0
	for _, res := range responses {
		if !res.Succeeded() && res.Status > worst {
			worst = res.Status
		}
	}
	if worst == 0 {
		return nil
	}

	var base *appErrors.Error
	switch {
	case worst >= http.StatusInternalServerError:
		base = appErrors.ErrUpstream
	case worst == http.StatusNotFound || worst == http.StatusGone:
		base = appErrors.ErrNotFound
	case worst == http.StatusForbidden:
		base = appErrors.ErrForbidden
	case worst == http.StatusUnauthorized:
		base = appErrors.ErrUnauthorized
	case worst == http.StatusConflict:
		base = appErrors.ErrConflict
	default:
		base = appErrors.New(appErrors.ErrValidation.Code, worst, appErrors.ErrValidation.Message)
	}
	out := appErrors.Clone(base, summary.Message)
	if len(summary.Fields) > 0 {
		out = appErrors.WithFields(out, summary.Fields)
	}
	return out
}
