package remote

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"stitchsync/internal/common"
	"stitchsync/internal/models"
)

// DefaultCategory is applied when a remote document carries no
// category. Defaults are applied exactly once, here at the boundary,
// never deeper in business logic.
const DefaultCategory = "uncategorized"

var validate = validator.New(validator.WithRequiredStructEnabled())

// wireRecord is the loose JSON shape of a remote document. Timestamps
// travel as RFC 3339 strings; decodeRecord converts them to the single
// internal time.Time representation.
type wireRecord struct {
	ID        string        `json:"id" validate:"required"`
	Name      string        `json:"name" validate:"required"`
	Category  string        `json:"category"`
	Tags      []string      `json:"tags"`
	Sections  []wireSection `json:"sections"`
	CreatedAt string        `json:"created_at" validate:"required"`
	UpdatedAt string        `json:"updated_at" validate:"required"`
}

type wireSection struct {
	Title string   `json:"title"`
	Steps []string `json:"steps"`
}

// decodeRecord maps an untyped wire record into the typed model,
// validating required fields and applying defaults. Failures wrap
// common.ErrMalformedRecord.
func decodeRecord(w wireRecord) (*models.Record, error) {
	if err := validate.Struct(w); err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrMalformedRecord, err)
	}

	createdAt, err := time.Parse(time.RFC3339, w.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: created_at: %w", common.ErrMalformedRecord, err)
	}
	updatedAt, err := time.Parse(time.RFC3339, w.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: updated_at: %w", common.ErrMalformedRecord, err)
	}

	rec := &models.Record{
		ID:        w.ID,
		Name:      w.Name,
		Category:  w.Category,
		Tags:      w.Tags,
		CreatedAt: createdAt.UTC(),
		UpdatedAt: updatedAt.UTC(),
	}
	if rec.Category == "" {
		rec.Category = DefaultCategory
	}
	if rec.Tags == nil {
		rec.Tags = []string{}
	}

	rec.Sections = make([]models.Section, len(w.Sections))
	for i, s := range w.Sections {
		steps := s.Steps
		if steps == nil {
			steps = []string{}
		}
		rec.Sections[i] = models.Section{Title: s.Title, Steps: steps}
	}

	return rec, nil
}
