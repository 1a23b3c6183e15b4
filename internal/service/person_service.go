package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/noah-isme/collections-gateway/internal/models"
	"github.com/noah-isme/collections-gateway/internal/schema"
)

type personLoader interface {
	Person(ctx context.Context, id string) (models.Values, error)
}

// PersonService loads and saves persons with their organizations and identifiers.
type PersonService struct {
	loader    personLoader
	submitter *SubmitService
	logger    *zap.Logger
}

// NewPersonService constructs the service.
func NewPersonService(loader personLoader, submitter *SubmitService, logger *zap.Logger) *PersonService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PersonService{loader: loader, submitter: submitter, logger: logger}
}

// Get loads a person for editing.
func (s *PersonService) Get(ctx context.Context, id string) (models.Values, error) {
	return s.loader.Person(ctx, id)
}

// Create saves a new person. Any submitted id is ignored.
func (s *PersonService) Create(ctx context.Context, submitted models.Values) (*SubmitResult, error) {
	values := submitted.Clone()
	if values == nil {
		values = models.Values{}
	}
	delete(values, "id")
	res, err := s.submitter.Submit(ctx, SubmitConfig{Schema: schema.Person}, values)
	if err != nil {
		return nil, err
	}
	s.logger.Info("person created", zap.String("person_id", res.Resource.ID()), zap.Int("identifiers", res.NestedSaved))
	return res, nil
}

// Update diffs the submission against the stored person and writes only the changes.
func (s *PersonService) Update(ctx context.Context, id string, submitted models.Values) (*SubmitResult, error) {
	original, err := s.loader.Person(ctx, id)
	if err != nil {
		return nil, err
	}
	values := submitted.Clone()
	if values == nil {
		values = models.Values{}
	}
	values["id"] = id
	return s.submitter.Submit(ctx, SubmitConfig{Schema: schema.Person, Original: original}, values)
}
