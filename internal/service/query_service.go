package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/collections-gateway/internal/models"
	"github.com/noah-isme/collections-gateway/internal/schema"
)

type resourceReader interface {
	Get(ctx context.Context, service, typ, id string, include []string) (models.Values, error)
	BulkGet(ctx context.Context, service string, paths []string, returnNullForMissing bool) ([]models.Values, error)
}

var (
	materialSampleIncludes = []string{
		"collection", "collectingEvent", "acquisitionEvent", "attachment", "preparationType",
		"materialSampleType", "preparedBy", "storageUnit", "organism", "materialSampleChildren",
		"parentMaterialSample", "projects", "preparationAttachment",
	}
	personIncludes          = []string{"organizations", "identifiers"}
	collectingEventIncludes = []string{"collectors", "attachment", "collectionMethod", "protocol"}
)

// QueryService loads resources in the shape the forms edit them, resolving joins across
// back-ends.
type QueryService struct {
	reader   resourceReader
	cache    *CacheService
	cacheTTL time.Duration
	logger   *zap.Logger
}

// NewQueryService constructs the query service. A nil cache disables bulk-get caching.
func NewQueryService(reader resourceReader, cache *CacheService, cacheTTL time.Duration, logger *zap.Logger) *QueryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueryService{reader: reader, cache: cache, cacheTTL: cacheTTL, logger: logger}
}

// Person loads a person with its organizations and identifiers.
func (s *QueryService) Person(ctx context.Context, id string) (models.Values, error) {
	return s.reader.Get(ctx, schema.AgentAPI, schema.TypePerson, id, personIncludes)
}

// CollectingEvent loads a collecting event for the nested sub-form.
func (s *QueryService) CollectingEvent(ctx context.Context, id string) (models.Values, error) {
	return s.reader.Get(ctx, schema.CollectionAPI, schema.TypeCollectingEvent, id, collectingEventIncludes)
}

// AcquisitionEvent loads an acquisition event for the nested sub-form.
func (s *QueryService) AcquisitionEvent(ctx context.Context, id string) (models.Values, error) {
	return s.reader.Get(ctx, schema.CollectionAPI, schema.TypeAcquisitionEvent, id, nil)
}

// MaterialSample loads a sample with its includes and joins attachment metadata, the
// preparedBy and determiner persons and the child samples. Joined targets that no longer
// exist are dropped. A failing join is logged and leaves the plain references in place.
func (s *QueryService) MaterialSample(ctx context.Context, id string) (models.Values, error) {
	sample, err := s.reader.Get(ctx, schema.CollectionAPI, schema.TypeMaterialSample, id, materialSampleIncludes)
	if err != nil {
		return nil, err
	}

	var (
		attachments []interface{}
		preparedBy  []interface{}
		children    []interface{}
		determiners map[string]models.Values
	)
	g, gctx := errgroup.WithContext(ctx)
	if ids := referenceIDs(sample["attachment"]); len(ids) > 0 {
		g.Go(func() error {
			attachments = s.joinList(gctx, schema.ObjectStoreAPI, "metadata/", "", ids)
			return nil
		})
	}
	if ids := referenceIDs(sample["preparedBy"]); len(ids) > 0 {
		g.Go(func() error {
			preparedBy = s.joinList(gctx, schema.AgentAPI, "person/", "", ids)
			return nil
		})
	}
	if ids := referenceIDs(sample["materialSampleChildren"]); len(ids) > 0 {
		g.Go(func() error {
			children = s.joinList(gctx, schema.CollectionAPI, "material-sample/", "?include=materialSampleType", ids)
			return nil
		})
	}
	if ids := determinerIDs(sample["determination"]); len(ids) > 0 {
		g.Go(func() error {
			determiners = s.joinIndex(gctx, schema.AgentAPI, "person/", ids)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if attachments != nil {
		sample["attachment"] = attachments
	}
	if preparedBy != nil {
		sample["preparedBy"] = preparedBy
	}
	if children != nil {
		sample["materialSampleChildren"] = children
	}
	if determiners != nil {
		expandDeterminers(sample["determination"], determiners)
	}
	if managed, ok := models.AsObject(sample["managedAttributes"]); ok {
		sample["managedAttributeValues"] = ToManagedAttributeValues(managed)
		delete(sample, "managedAttributes")
	}
	return sample, nil
}

// joinList resolves ids into resources, dropping missing ones. It returns nil when the
// join failed so callers keep the references.
func (s *QueryService) joinList(ctx context.Context, service, prefix, suffix string, ids []string) []interface{} {
	paths := make([]string, len(ids))
	for i, id := range ids {
		paths[i] = prefix + id + suffix
	}
	resolved, err := s.BulkGet(ctx, service, paths)
	if err != nil {
		s.logger.Warn("join failed", zap.String("service", service), zap.String("path", prefix), zap.Error(err))
		return nil
	}
	out := make([]interface{}, 0, len(resolved))
	for _, item := range resolved {
		if item != nil {
			out = append(out, map[string]interface{}(item))
		}
	}
	return out
}

func (s *QueryService) joinIndex(ctx context.Context, service, prefix string, ids []string) map[string]models.Values {
	paths := make([]string, len(ids))
	for i, id := range ids {
		paths[i] = prefix + id
	}
	resolved, err := s.BulkGet(ctx, service, paths)
	if err != nil {
		s.logger.Warn("join failed", zap.String("service", service), zap.String("path", prefix), zap.Error(err))
		return nil
	}
	out := make(map[string]models.Values, len(resolved))
	for i, item := range resolved {
		if item != nil {
			out[ids[i]] = item
		}
	}
	return out
}

// BulkGet resolves type/id paths, serving repeated look-ups from the cache. Missing
// targets come back as nil entries and are not cached.
func (s *QueryService) BulkGet(ctx context.Context, service string, paths []string) ([]models.Values, error) {
	out := make([]models.Values, len(paths))
	keys := make([]string, len(paths))
	for i, p := range paths {
		keys[i] = bulkCacheKey(service, p)
	}

	cached := s.cache.GetMany(ctx, keys)
	var missing []string
	missingIndex := map[string][]int{}
	for i, key := range keys {
		if raw, ok := cached[key]; ok {
			var v models.Values
			if err := json.Unmarshal(raw, &v); err == nil && v != nil {
				out[i] = v
				continue
			}
		}
		if _, queued := missingIndex[paths[i]]; !queued {
			missing = append(missing, paths[i])
		}
		missingIndex[paths[i]] = append(missingIndex[paths[i]], i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	fetched, err := s.reader.BulkGet(ctx, service, missing, true)
	if err != nil {
		return nil, err
	}
	for j, p := range missing {
		item := fetched[j]
		for _, i := range missingIndex[p] {
			out[i] = item
		}
		if item != nil {
			_ = s.cache.Set(ctx, bulkCacheKey(service, p), item, s.cacheTTL)
		}
	}
	return out, nil
}

func bulkCacheKey(service, path string) string {
	return "bulk:" + service + ":" + strings.TrimLeft(path, "/")
}

// ToManagedAttributeValues wraps stored managed attributes into the form shape
// {key: {assignedValue}}.
func ToManagedAttributeValues(managed map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(managed))
	for key, value := range managed {
		out[key] = map[string]interface{}{"assignedValue": value}
	}
	return out
}

func referenceIDs(value interface{}) []string {
	list, _ := models.AsList(value)
	ids := make([]string, 0, len(list))
	for _, item := range list {
		if obj, ok := models.AsObject(item); ok {
			if id := models.StringField(obj, "id"); id != "" {
				ids = append(ids, id)
			}
		}
	}
	return ids
}

func determinerIDs(value interface{}) []string {
	list, _ := models.AsList(value)
	seen := map[string]bool{}
	var ids []string
	for _, item := range list {
		obj, ok := models.AsObject(item)
		if !ok {
			continue
		}
		determiners, _ := models.AsList(obj["determiner"])
		for _, d := range determiners {
			id, ok := d.(string)
			if !ok || id == "" || seen[id] {
				continue
			}
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}

func expandDeterminers(value interface{}, persons map[string]models.Values) {
	list, _ := models.AsList(value)
	for _, item := range list {
		obj, ok := models.AsObject(item)
		if !ok {
			continue
		}
		determiners, ok := models.AsList(obj["determiner"])
		if !ok {
			continue
		}
		expanded := make([]interface{}, 0, len(determiners))
		for _, d := range determiners {
			id, _ := d.(string)
			if person, found := persons[id]; found {
				expanded = append(expanded, map[string]interface{}(person))
			}
		}
		obj["determiner"] = expanded
	}
}
