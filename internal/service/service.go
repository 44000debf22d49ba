// Package service implements the admission engine and catalog operations
// between HTTP handlers and the repository layer.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/Shivanand-hulikatti/course-enrollment/internal/logger"
	"github.com/Shivanand-hulikatti/course-enrollment/internal/model"
	"github.com/Shivanand-hulikatti/course-enrollment/internal/repository"
)

// Offering limits.
const (
	MaxTitleLength = 200
	MinCapacity    = 1
	MaxCapacity    = 1000
)

// MaxPrice is the highest price an offering may carry.
var MaxPrice = decimal.NewFromInt(10_000_000)

// CatalogStore is the subset of the store the catalog needs.
type CatalogStore interface {
	repository.MemberStore
	repository.OfferingStore
}

// OfferingResolver looks up offering display data for the admission engine.
type OfferingResolver interface {
	Resolve(ctx context.Context, offeringID int64) (*model.Offering, error)
}

// CatalogService orchestrates offering-related operations.
type CatalogService struct {
	store CatalogStore
	log   *logger.Logger
}

// NewCatalogService constructs a CatalogService with its dependencies.
func NewCatalogService(store CatalogStore, log *logger.Logger) *CatalogService {
	return &CatalogService{store: store, log: log.With("service", "CatalogService")}
}

// CreateOffering validates the request and opens a new offering owned by
// ownerID, who must be an instructor.
func (s *CatalogService) CreateOffering(ctx context.Context, ownerID int64, req model.CreateOfferingRequest) (*model.Offering, error) {
	owner, err := s.store.GetMember(ctx, ownerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, model.MemberNotFound(ownerID)
		}
		return nil, fmt.Errorf("load owner: %w", err)
	}
	if !owner.IsInstructor() {
		return nil, model.InstructorOnly(ownerID)
	}

	req.Title = strings.TrimSpace(req.Title)
	if err := validateOffering(req); err != nil {
		return nil, err
	}

	o := &model.Offering{
		Title:    req.Title,
		Capacity: req.Capacity,
		Price:    req.Price,
		OwnerID:  ownerID,
	}
	if err := s.store.CreateOffering(ctx, o); err != nil {
		return nil, fmt.Errorf("create offering: %w", err)
	}
	s.log.Info("offering created", "offering_id", o.ID, "owner_id", ownerID, "capacity", o.Capacity)
	return o, nil
}

func validateOffering(req model.CreateOfferingRequest) error {
	switch n := utf8.RuneCountInString(req.Title); {
	case n == 0:
		return model.InvalidOffering("title is required")
	case n > MaxTitleLength:
		return model.InvalidOffering("title cannot exceed %d characters", MaxTitleLength)
	}
	if req.Capacity < MinCapacity || req.Capacity > MaxCapacity {
		return model.InvalidOffering("capacity must be between %d and %d", MinCapacity, MaxCapacity)
	}
	if req.Price.IsNegative() {
		return model.InvalidOffering("price cannot be negative")
	}
	if req.Price.GreaterThan(MaxPrice) {
		return model.InvalidOffering("price cannot exceed %s", MaxPrice.String())
	}
	return nil
}

// GetOffering returns a single offering by ID.
func (s *CatalogService) GetOffering(ctx context.Context, offeringID int64) (*model.Offering, error) {
	o, err := s.store.GetOffering(ctx, offeringID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, model.OfferingNotFound(offeringID)
		}
		return nil, fmt.Errorf("get offering: %w", err)
	}
	return o, nil
}

// Resolve implements OfferingResolver.
func (s *CatalogService) Resolve(ctx context.Context, offeringID int64) (*model.Offering, error) {
	return s.GetOffering(ctx, offeringID)
}

// ListOfferings returns one page of offerings with their active counts.
func (s *CatalogService) ListOfferings(ctx context.Context, q model.OfferingQuery) (*model.OfferingPage, error) {
	page, err := s.store.ListOfferings(ctx, q.Normalize())
	if err != nil {
		return nil, fmt.Errorf("list offerings: %w", err)
	}
	return page, nil
}
