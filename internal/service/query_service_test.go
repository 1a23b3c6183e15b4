package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/collections-gateway/internal/models"
)

type readerStub struct {
	mu        sync.Mutex
	resources map[string]models.Values
	gets      []string
	bulk      map[string][]string
	bulkErr   map[string]error
}

func newReaderStub() *readerStub {
	return &readerStub{resources: map[string]models.Values{}, bulk: map[string][]string{}, bulkErr: map[string]error{}}
}

func (r *readerStub) Get(ctx context.Context, service, typ, id string, include []string) (models.Values, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gets = append(r.gets, typ+"/"+id+"?include="+strings.Join(include, ","))
	v, ok := r.resources[typ+"/"+id]
	if !ok {
		return nil, errors.New("not found")
	}
	return v.Clone(), nil
}

func (r *readerStub) BulkGet(ctx context.Context, service string, paths []string, returnNull bool) ([]models.Values, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.bulkErr[service]; err != nil {
		return nil, err
	}
	r.bulk[service] = append(r.bulk[service], paths...)
	out := make([]models.Values, len(paths))
	for i, p := range paths {
		key := strings.SplitN(p, "?", 2)[0]
		if v, ok := r.resources[key]; ok {
			out[i] = v.Clone()
		}
	}
	return out, nil
}

func TestQueryMaterialSampleJoins(t *testing.T) {
	reader := newReaderStub()
	reader.resources["material-sample/ms-1"] = models.Values{
		"id":                "ms-1",
		"type":              "material-sample",
		"attachment":        []interface{}{map[string]interface{}{"id": "meta-1", "type": "metadata"}, map[string]interface{}{"id": "meta-gone", "type": "metadata"}},
		"preparedBy":        []interface{}{map[string]interface{}{"id": "p-1", "type": "person"}},
		"managedAttributes": map[string]interface{}{"color": "red"},
		"determination": []interface{}{
			map[string]interface{}{"verbatimScientificName": "x", "determiner": []interface{}{"p-1", "p-2"}},
		},
	}
	reader.resources["metadata/meta-1"] = models.Values{"id": "meta-1", "type": "metadata", "originalFilename": "a.jpg"}
	reader.resources["person/p-1"] = models.Values{"id": "p-1", "type": "person", "displayName": "Ann"}
	reader.resources["person/p-2"] = models.Values{"id": "p-2", "type": "person", "displayName": "Bob"}

	svc := NewQueryService(reader, nil, 0, zap.NewNop())
	sample, err := svc.MaterialSample(context.Background(), "ms-1")
	require.NoError(t, err)

	attachments, _ := models.AsList(sample["attachment"])
	require.Len(t, attachments, 1)
	first, _ := models.AsObject(attachments[0])
	assert.Equal(t, "a.jpg", first["originalFilename"])

	preparedBy, _ := models.AsList(sample["preparedBy"])
	require.Len(t, preparedBy, 1)

	want := map[string]interface{}{"color": map[string]interface{}{"assignedValue": "red"}}
	if d := cmp.Diff(want, sample["managedAttributeValues"]); d != "" {
		t.Fatalf("managed attribute values (-want +got):\n%s", d)
	}
	assert.NotContains(t, sample, "managedAttributes")

	determinations, _ := models.AsList(sample["determination"])
	det, _ := models.AsObject(determinations[0])
	determiners, _ := models.AsList(det["determiner"])
	require.Len(t, determiners, 2)
	bob, _ := models.AsObject(determiners[1])
	assert.Equal(t, "Bob", bob["displayName"])
	assert.Contains(t, reader.gets[0], "include=collection,collectingEvent")
}

func TestQueryMaterialSampleKeepsReferencesWhenJoinFails(t *testing.T) {
	reader := newReaderStub()
	reader.resources["material-sample/ms-1"] = models.Values{
		"id":         "ms-1",
		"type":       "material-sample",
		"attachment": []interface{}{map[string]interface{}{"id": "meta-1", "type": "metadata"}},
	}
	reader.bulkErr["objectstore-api"] = errors.New("objectstore down")

	svc := NewQueryService(reader, nil, 0, zap.NewNop())
	sample, err := svc.MaterialSample(context.Background(), "ms-1")
	require.NoError(t, err)
	assert.Equal(t, []interface{}{map[string]interface{}{"id": "meta-1", "type": "metadata"}}, sample["attachment"])
}

func TestQueryBulkGetUsesCache(t *testing.T) {
	reader := newReaderStub()
	reader.resources["person/p-1"] = models.Values{"id": "p-1", "type": "person"}
	repo := newMemoryCacheRepo()
	cache := NewCacheService(repo, nil, 0, nil, true)
	svc := NewQueryService(reader, cache, time.Minute, zap.NewNop())

	out, err := svc.BulkGet(context.Background(), "agent-api", []string{"person/p-1", "person/missing", "person/p-1"})
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "p-1", out[0].ID())
	assert.Nil(t, out[1])
	assert.Equal(t, "p-1", out[2].ID())
	assert.Equal(t, []string{"person/p-1", "person/missing"}, reader.bulk["agent-api"])
	assert.Contains(t, repo.data, "bulk:agent-api:person/p-1")
	assert.NotContains(t, repo.data, "bulk:agent-api:person/missing")

	out, err = svc.BulkGet(context.Background(), "agent-api", []string{"person/p-1"})
	require.NoError(t, err)
	assert.Equal(t, "p-1", out[0].ID())
	assert.Len(t, reader.bulk["agent-api"], 2)
}

func TestQueryPersonIncludes(t *testing.T) {
	reader := newReaderStub()
	reader.resources["person/p-1"] = models.Values{"id": "p-1", "type": "person"}
	svc := NewQueryService(reader, nil, 0, nil)

	_, err := svc.Person(context.Background(), "p-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"person/p-1?include=organizations,identifiers"}, reader.gets)
}
