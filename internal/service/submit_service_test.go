package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/collections-gateway/internal/models"
	"github.com/noah-isme/collections-gateway/internal/repository"
	"github.com/noah-isme/collections-gateway/internal/schema"
	appErrors "github.com/noah-isme/collections-gateway/pkg/errors"
	"github.com/noah-isme/collections-gateway/pkg/jsonapi"
)

type saveCall struct {
	service string
	args    []jsonapi.SaveArg
}

// saverStub records save calls and replays queued results in order. Without a queued
// result it echoes the arguments back, assigning ids to creates.
type saverStub struct {
	calls   []saveCall
	results [][]models.Values
	err     error
	onSave  func()
}

func (s *saverStub) Save(ctx context.Context, service string, args []jsonapi.SaveArg, opts repository.OperationOptions) ([]models.Values, error) {
	s.calls = append(s.calls, saveCall{service: service, args: args})
	if s.onSave != nil {
		s.onSave()
	}
	if s.err != nil {
		return nil, s.err
	}
	if len(s.results) > 0 {
		out := s.results[0]
		s.results = s.results[1:]
		return out, nil
	}
	out := make([]models.Values, len(args))
	for i, arg := range args {
		if arg.Delete != nil {
			continue
		}
		v := models.Values{"type": arg.Type}
		for k, val := range arg.Resource {
			v[k] = val
		}
		if !v.Persisted() {
			v["id"] = "generated-" + arg.Type
		}
		out[i] = v
	}
	return out, nil
}

func newSubmitServiceForTest() (*SubmitService, *saverStub) {
	saver := &saverStub{}
	return NewSubmitService(saver, nil, zap.NewNop()), saver
}

func TestSubmitCreatesNewResourceWithFullPayload(t *testing.T) {
	svc, saver := newSubmitServiceForTest()
	saver.results = [][]models.Values{{{"id": "new-id", "type": "person", "displayName": "John"}}}

	res, err := svc.Submit(context.Background(), SubmitConfig{Schema: schema.Person}, models.Values{"displayName": "John"})
	require.NoError(t, err)
	require.Len(t, saver.calls, 1)
	assert.Equal(t, schema.AgentAPI, saver.calls[0].service)
	require.Len(t, saver.calls[0].args, 1)

	arg := saver.calls[0].args[0]
	assert.Equal(t, "person", arg.Type)
	if diff := cmp.Diff(map[string]interface{}{"displayName": "John", "type": "person"}, arg.Resource); diff != "" {
		t.Fatalf("unexpected resource (-want +got):\n%s", diff)
	}
	assert.True(t, res.Saved)
	assert.Equal(t, "new-id", res.Resource.ID())
}

func TestSubmitSendsOnlyChangedFieldsOnUpdate(t *testing.T) {
	svc, saver := newSubmitServiceForTest()
	original := models.Values{"id": "id-1", "type": "person", "displayName": "John", "email": "john@example.com"}

	_, err := svc.Submit(context.Background(), SubmitConfig{Schema: schema.Person, Original: original},
		models.Values{"displayName": "John", "email": "new@example.com"})
	require.NoError(t, err)
	require.Len(t, saver.calls, 1)

	want := map[string]interface{}{"id": "id-1", "type": "person", "email": "new@example.com"}
	if diff := cmp.Diff(want, saver.calls[0].args[0].Resource); diff != "" {
		t.Fatalf("unexpected patch payload (-want +got):\n%s", diff)
	}
}

func TestSubmitSkipsSaveWhenNothingChanged(t *testing.T) {
	svc, saver := newSubmitServiceForTest()
	original := models.Values{"id": "id-1", "type": "person", "displayName": "John"}

	var got models.Values
	res, err := svc.Submit(context.Background(), SubmitConfig{
		Schema:   schema.Person,
		Original: original,
		OnSuccess: func(ctx context.Context, saved models.Values) error {
			got = saved
			return nil
		},
	}, models.Values{"id": "id-1", "displayName": "John", "unknownDisplayField": "ignored"})
	require.NoError(t, err)
	assert.Empty(t, saver.calls)
	assert.False(t, res.Saved)
	assert.Equal(t, original, got)
}

func TestSubmitAppliesTransformsBeforeDiff(t *testing.T) {
	svc, saver := newSubmitServiceForTest()
	var seen models.Values
	transform := func(ctx context.Context, values models.Values) (models.Values, error) {
		seen = values.Clone()
		values["remarks"] = "transformed"
		return values, nil
	}

	_, err := svc.Submit(context.Background(), SubmitConfig{Schema: schema.Person, Transforms: []Transform{transform}},
		models.Values{"displayName": "John"})
	require.NoError(t, err)
	assert.Equal(t, models.Values{"displayName": "John"}, seen)
	assert.Equal(t, "transformed", saver.calls[0].args[0].Resource["remarks"])
}

func TestSubmitTransformErrorStopsSubmission(t *testing.T) {
	svc, saver := newSubmitServiceForTest()
	failing := func(ctx context.Context, values models.Values) (models.Values, error) {
		return nil, errors.New("lookup failed")
	}
	_, err := svc.Submit(context.Background(), SubmitConfig{Schema: schema.Person, Transforms: []Transform{failing}},
		models.Values{"displayName": "John"})
	require.EqualError(t, err, "lookup failed")
	assert.Empty(t, saver.calls)
}

func TestSubmitRunsHooksInOrder(t *testing.T) {
	svc, saver := newSubmitServiceForTest()
	var order []string
	saver.onSave = func() { order = append(order, "save") }

	_, err := svc.Submit(context.Background(), SubmitConfig{
		Schema: schema.Person,
		BeforeSave: func(ctx context.Context, op *SaveOperation) error {
			order = append(order, "beforeSave")
			return nil
		},
		OnSuccess: func(ctx context.Context, saved models.Values) error {
			order = append(order, "onSuccess")
			return nil
		},
		AfterSave: func(ctx context.Context, saved models.Values) error {
			order = append(order, "afterSave")
			return nil
		},
	}, models.Values{"displayName": "John"})
	require.NoError(t, err)
	assert.Equal(t, []string{"beforeSave", "save", "onSuccess", "afterSave"}, order)
}

func TestSubmitPropagatesSaveError(t *testing.T) {
	svc, saver := newSubmitServiceForTest()
	saver.err = appErrors.Clone(appErrors.ErrUpstream, "Save failed")
	called := false

	_, err := svc.Submit(context.Background(), SubmitConfig{
		Schema: schema.Person,
		OnSuccess: func(ctx context.Context, saved models.Values) error {
			called = true
			return nil
		},
	}, models.Values{"displayName": "John"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrUpstream))
	assert.False(t, called)
}

func TestSubmitRejectsInvalidValues(t *testing.T) {
	svc, saver := newSubmitServiceForTest()

	_, err := svc.Submit(context.Background(), SubmitConfig{Schema: schema.Person}, models.Values{
		"email":       "not-an-email",
		"identifiers": []interface{}{map[string]interface{}{"value": "123"}},
	})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	assert.Equal(t, "is required", appErr.Fields["displayName"])
	assert.Equal(t, "must be a valid email address", appErr.Fields["email"])
	assert.Equal(t, "is required", appErr.Fields["identifiers.0.namespace"])
	assert.Empty(t, saver.calls)
}

func TestSubmitProjectsOrganizationsIntoRelationships(t *testing.T) {
	svc, saver := newSubmitServiceForTest()

	_, err := svc.Submit(context.Background(), SubmitConfig{Schema: schema.Person}, models.Values{
		"displayName": "John",
		"organizations": []interface{}{
			map[string]interface{}{"id": "org-1", "type": "organization", "names": []interface{}{map[string]interface{}{"name": "CNC"}}},
		},
	})
	require.NoError(t, err)

	arg := saver.calls[0].args[0]
	_, inAttributes := arg.Resource["organizations"]
	assert.False(t, inAttributes)
	want := jsonapi.ToMany([]jsonapi.ResourceIdentifier{{ID: "org-1", Type: "organization"}})
	if diff := cmp.Diff(want, arg.Relationships["organizations"]); diff != "" {
		t.Fatalf("unexpected relationship (-want +got):\n%s", diff)
	}
}

func TestSubmitSavesNewNestedResourcesFirst(t *testing.T) {
	svc, saver := newSubmitServiceForTest()
	saver.results = [][]models.Values{
		{{"id": "new-identifier-id-99", "type": "identifier", "namespace": "ISNI", "value": "0000"}},
		{{"id": "person-1", "type": "person", "displayName": "John"}},
	}

	res, err := svc.Submit(context.Background(), SubmitConfig{Schema: schema.Person}, models.Values{
		"displayName": "John",
		"identifiers": []interface{}{map[string]interface{}{"namespace": "ISNI", "value": "0000"}},
	})
	require.NoError(t, err)
	require.Len(t, saver.calls, 2)

	nested := saver.calls[0]
	assert.Equal(t, schema.AgentAPI, nested.service)
	require.Len(t, nested.args, 1)
	assert.Equal(t, "identifier", nested.args[0].Type)
	if diff := cmp.Diff(map[string]interface{}{"namespace": "ISNI", "value": "0000", "type": "identifier"}, nested.args[0].Resource); diff != "" {
		t.Fatalf("unexpected nested resource (-want +got):\n%s", diff)
	}

	primary := saver.calls[1].args[0]
	want := jsonapi.ToMany([]jsonapi.ResourceIdentifier{{ID: "new-identifier-id-99", Type: "identifier"}})
	if diff := cmp.Diff(want, primary.Relationships["identifiers"]); diff != "" {
		t.Fatalf("unexpected identifiers relationship (-want +got):\n%s", diff)
	}
	assert.Equal(t, 1, res.NestedSaved)
}

func TestSubmitUpdatesModifiedAndDeletesRemovedNestedResources(t *testing.T) {
	svc, saver := newSubmitServiceForTest()
	original := models.Values{
		"id":          "person-1",
		"type":        "person",
		"displayName": "John",
		"identifiers": []interface{}{
			map[string]interface{}{"id": "identifier-1", "type": "identifier", "namespace": "barcode", "value": "123"},
			map[string]interface{}{"id": "identifier-to-delete", "type": "identifier", "namespace": "catalog", "value": "ABC"},
		},
	}

	res, err := svc.Submit(context.Background(), SubmitConfig{Schema: schema.Person, Original: original}, models.Values{
		"id":          "person-1",
		"displayName": "John",
		"identifiers": []interface{}{
			map[string]interface{}{"id": "identifier-1", "type": "identifier", "namespace": "barcode", "value": "999"},
		},
	})
	require.NoError(t, err)
	require.Len(t, saver.calls, 3)

	modified := saver.calls[0].args
	require.Len(t, modified, 1)
	assert.Equal(t, "identifier-1", modified[0].Resource["id"])
	assert.Equal(t, "999", modified[0].Resource["value"])

	primary := saver.calls[1].args[0]
	assert.Equal(t, "person", primary.Type)
	want := jsonapi.ToMany([]jsonapi.ResourceIdentifier{{ID: "identifier-1", Type: "identifier"}})
	if diff := cmp.Diff(want, primary.Relationships["identifiers"]); diff != "" {
		t.Fatalf("unexpected identifiers relationship (-want +got):\n%s", diff)
	}

	deletes := saver.calls[2]
	assert.Equal(t, schema.AgentAPI, deletes.service)
	if diff := cmp.Diff([]jsonapi.SaveArg{jsonapi.DeleteArg("identifier-to-delete", "identifier")}, deletes.args); diff != "" {
		t.Fatalf("unexpected delete args (-want +got):\n%s", diff)
	}
	assert.Equal(t, []jsonapi.ResourceIdentifier{{ID: "identifier-to-delete", Type: "identifier"}}, res.Deleted)
}

func TestSubmitSavesModifiedNestedItemWithoutTouchingOwner(t *testing.T) {
	svc, saver := newSubmitServiceForTest()
	original := models.Values{
		"id":          "person-1",
		"type":        "person",
		"displayName": "John",
		"identifiers": []interface{}{
			map[string]interface{}{"id": "identifier-1", "type": "identifier", "namespace": "barcode", "value": "123"},
		},
	}

	res, err := svc.Submit(context.Background(), SubmitConfig{Schema: schema.Person, Original: original}, models.Values{
		"id":          "person-1",
		"displayName": "John",
		"identifiers": []interface{}{
			map[string]interface{}{"id": "identifier-1", "namespace": "barcode", "value": "999"},
		},
	})
	require.NoError(t, err)
	require.Len(t, saver.calls, 1)
	assert.Equal(t, "identifier", saver.calls[0].args[0].Type)
	assert.True(t, res.Saved)
	assert.Equal(t, "person-1", res.Resource.ID())
}

func TestPrepareSaveOperationIsPure(t *testing.T) {
	original := models.Values{"id": "id-1", "type": "person", "displayName": "John"}
	submitted := models.Values{"id": "id-1", "displayName": "Jane"}

	op, err := PrepareSaveOperation(schema.Person, original, submitted)
	require.NoError(t, err)
	assert.False(t, op.Create)
	assert.True(t, op.Changed)
	assert.Equal(t, models.Values{"id": "id-1", "type": "person", "displayName": "Jane"}, op.Payload)
	assert.Equal(t, "person", op.Primary.Type)
	assert.Equal(t, models.Values{"id": "id-1", "displayName": "Jane"}, submitted)

	_, err = PrepareSaveOperation(nil, original, submitted)
	require.Error(t, err)
}

type submitObserverStub struct {
	outcomes []string
}

func (o *submitObserverStub) ObserveSubmit(resource, outcome string, _ time.Duration) {
	o.outcomes = append(o.outcomes, resource+":"+outcome)
}

func TestSubmitReportsOutcomes(t *testing.T) {
	saver := &saverStub{}
	observer := &submitObserverStub{}
	svc := NewSubmitService(saver, nil, zap.NewNop(), WithSubmitObserver(observer))

	_, err := svc.Submit(context.Background(), SubmitConfig{Schema: schema.Person}, models.Values{"displayName": "John"})
	require.NoError(t, err)
	_, err = svc.Submit(context.Background(), SubmitConfig{Schema: schema.Person}, models.Values{})
	require.Error(t, err)

	assert.Equal(t, []string{"person:saved", "person:VALIDATION_ERROR"}, observer.outcomes)
}
