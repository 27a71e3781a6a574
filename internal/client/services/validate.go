package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/memovault/internal/client/models"
	"github.com/dmitrijs2005/memovault/internal/common"
	"github.com/go-playground/validator/v10"
)

// MaxContentBytes bounds ContentText.
const MaxContentBytes = 8 << 20

// Fields are the caller-supplied parts of a record.
type Fields struct {
	Title       string           `validate:"required,max=512"`
	ContentText string           `validate:"maxbytes"`
	SourceURL   string           `validate:"omitempty,url"`
	MediaType   models.MediaType `validate:"mediatype"`
	Tags        []string         `validate:"max=64,dive,max=64"`
	Summary     string           `validate:"max=65536"`
	BlobKey     string           `validate:"omitempty,len=64,hexadecimal"`
}

func fieldsOf(r models.Record) Fields {
	return Fields{
		Title: r.Title, ContentText: r.ContentText, SourceURL: r.SourceURL, MediaType: r.MediaType,
		Tags: r.Tags, Summary: r.Summary, BlobKey: r.BlobKey,
	}
}

// Patch lists optional field updates. Nil pointers leave the field as is.
// A nil Tags slice leaves tags unchanged; an empty non-nil slice clears them.
type Patch struct {
	Title       *string
	ContentText *string
	SourceURL   *string
	MediaType   *models.MediaType
	Tags        []string
	Summary     *string
	BlobKey     *string
}

func (p Patch) apply(r *models.Record) {
	if p.Title != nil {
		r.Title = *p.Title
	}
	if p.ContentText != nil {
		r.ContentText = *p.ContentText
	}
	if p.SourceURL != nil {
		r.SourceURL = *p.SourceURL
	}
	if p.MediaType != nil {
		r.MediaType = *p.MediaType
	}
	if p.Tags != nil {
		r.Tags = p.Tags
	}
	if p.Summary != nil {
		r.Summary = *p.Summary
	}
	if p.BlobKey != nil {
		r.BlobKey = *p.BlobKey
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("mediatype", func(fl validator.FieldLevel) bool {
		return models.MediaType(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("maxbytes", func(fl validator.FieldLevel) bool {
		return len(fl.Field().String()) <= MaxContentBytes
	})
	return v
}

// validationError flattens validator output into a common.ErrValidation.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		parts := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			parts = append(parts, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
		}
		return fmt.Errorf("%w: %s", common.ErrValidation, strings.Join(parts, "; "))
	}
	return fmt.Errorf("%w: %v", common.ErrValidation, err)
}

// checkIncoming validates a full record received from sync or an archive.
func (s *recordService) checkIncoming(r models.Record) error {
	if r.ID == "" {
		return fmt.Errorf("%w: record id is empty", common.ErrValidation)
	}
	if r.Version < 1 {
		return fmt.Errorf("%w: record %s has version %d", common.ErrValidation, r.ID, r.Version)
	}
	if r.UpdatedAt < r.CreatedAt {
		return fmt.Errorf("%w: record %s updatedAt precedes createdAt", common.ErrValidation, r.ID)
	}
	if r.ContentHash != models.ContentHash(r.ContentText) {
		return fmt.Errorf("%w: record %s content hash mismatch", common.ErrValidation, r.ID)
	}
	if err := s.validate.Struct(fieldsOf(r)); err != nil {
		return validationError(err)
	}
	return nil
}
