// Package storage defines the persistence interface for the analysis archive.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/asil/internal/models"
)

var (
	// ErrNotFound is returned when no analysis matches the lookup.
	ErrNotFound = errors.New("analysis not found")
	// ErrDuplicate is returned when an analysis with the same content hash exists.
	ErrDuplicate = errors.New("analysis already exists")
)

// Storage defines analysis persistence operations.
type Storage interface {
	CreateAnalysis(ctx context.Context, a *models.Analysis) error
	GetAnalysis(ctx context.Context, id string) (*models.Analysis, error)
	GetAnalysisByHash(ctx context.Context, hash string) (*models.Analysis, error)
	ListAnalyses(ctx context.Context, offset, limit int) ([]*models.Analysis, error)
	DeleteAnalysis(ctx context.Context, id string) error

	// Stats
	CountAnalyses(ctx context.Context) (int64, error)

	Close() error
}
