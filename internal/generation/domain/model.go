package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

var (
	ErrInvalidPrompt     = errors.New("invalid_prompt")
	ErrInvalidImageCount = errors.New("invalid_image_count")
	ErrRateLimited       = errors.New("rate_limited")
	ErrBackendFailed     = errors.New("generation_backend_failed")
)

const maxImageCount = 4

// Generation is the persisted result of a served request. Rows exist only
// for requests the backend completed; credits are deducted afterwards.
type Generation struct {
	ID           snowflake.ID   `json:"id" gorm:"primaryKey"`
	UserID       snowflake.ID   `json:"user_id" gorm:"not null;index"`
	Prompt       string         `json:"prompt" gorm:"type:text;not null"`
	Model        string         `json:"model" gorm:"type:text;not null"`
	Resolution   string         `json:"resolution" gorm:"type:text"`
	AspectRatio  string         `json:"aspect_ratio" gorm:"type:text"`
	ImageCount   int            `json:"image_count" gorm:"not null"`
	OutputFormat string         `json:"output_format" gorm:"type:text"`
	ImageURLs    datatypes.JSON `json:"image_urls" gorm:"type:jsonb"`
	Text         string         `json:"text" gorm:"type:text"`
	CreditsCost  int64          `json:"credits_cost" gorm:"not null"`
	CreatedAt    time.Time      `json:"created_at" gorm:"not null"`
}

func (Generation) TableName() string { return "generations" }

type CreateRequest struct {
	Prompt string `json:"prompt"`
	// Images are optional input image URLs for image-conditioned generation.
	Images       []string `json:"images,omitempty"`
	Model        string   `json:"model"`
	Resolution   string   `json:"resolution"`
	AspectRatio  string   `json:"aspectRatio"`
	ImageCount   int      `json:"imageCount"`
	OutputFormat string   `json:"outputFormat"`
}

// Validate normalizes the request in place.
func (r *CreateRequest) Validate() error {
	if r.Prompt == "" {
		return ErrInvalidPrompt
	}
	if r.ImageCount < 1 {
		r.ImageCount = 1
	}
	if r.ImageCount > maxImageCount {
		return ErrInvalidImageCount
	}
	return nil
}

type CreateResponse struct {
	ImageURL  string   `json:"imageUrl,omitempty"`
	ImageURLs []string `json:"imageUrls,omitempty"`
	Text      string   `json:"text,omitempty"`
}

type BackendRequest struct {
	Prompt       string
	Images       []string
	Model        string
	Resolution   string
	AspectRatio  string
	ImageCount   int
	OutputFormat string
}

type BackendResult struct {
	ImageURLs []string
	Text      string
}

// BackendClient calls the external image-generation service.
type BackendClient interface {
	Generate(ctx context.Context, req BackendRequest) (*BackendResult, error)
}

type Service interface {
	Create(ctx context.Context, userID snowflake.ID, req CreateRequest) (*CreateResponse, error)
}
