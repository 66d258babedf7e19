package review

import (
	"strings"
	"unicode/utf8"

	"github.com/zbnerd/TutorFlow/internal/domain"
	"github.com/zbnerd/TutorFlow/pkg/apperr"
)

const (
	maxContentLen     = 2000
	maxImages         = 3
	maxReplyLen       = 1000
	maxDescriptionLen = 500
)

// CreateReviewRequest represents the request to review a booking
type CreateReviewRequest struct {
	BookingID         int64    `json:"booking_id"`
	OverallRating     int      `json:"overall_rating"`
	KindnessRating    *int     `json:"kindness_rating,omitempty"`
	PreparationRating *int     `json:"preparation_rating,omitempty"`
	ImprovementRating *int     `json:"improvement_rating,omitempty"`
	PunctualityRating *int     `json:"punctuality_rating,omitempty"`
	Content           string   `json:"content"`
	ImageURLs         []string `json:"image_urls"`
	IsAnonymous       bool     `json:"is_anonymous"`
}

func (r *CreateReviewRequest) Validate() error {
	if r.BookingID <= 0 {
		return apperr.ErrValidation.WithMessage("booking_id is required")
	}
	if !validRating(r.OverallRating) {
		return apperr.ErrValidation.WithMessage("overall_rating must be between 1 and 5")
	}
	if err := validateOptional(r.KindnessRating, r.PreparationRating, r.ImprovementRating, r.PunctualityRating); err != nil {
		return err
	}
	r.Content = strings.TrimSpace(r.Content)
	return validateBody(r.Content, r.ImageURLs)
}

// UpdateReviewRequest changes the given fields of a review
type UpdateReviewRequest struct {
	OverallRating     *int      `json:"overall_rating,omitempty"`
	KindnessRating    *int      `json:"kindness_rating,omitempty"`
	PreparationRating *int      `json:"preparation_rating,omitempty"`
	ImprovementRating *int      `json:"improvement_rating,omitempty"`
	PunctualityRating *int      `json:"punctuality_rating,omitempty"`
	Content           *string   `json:"content,omitempty"`
	ImageURLs         *[]string `json:"image_urls,omitempty"`
	IsAnonymous       *bool     `json:"is_anonymous,omitempty"`
}

func (r *UpdateReviewRequest) Validate() error {
	if err := validateOptional(r.OverallRating, r.KindnessRating, r.PreparationRating, r.ImprovementRating, r.PunctualityRating); err != nil {
		return err
	}
	var content string
	if r.Content != nil {
		content = strings.TrimSpace(*r.Content)
		r.Content = &content
	}
	var images []string
	if r.ImageURLs != nil {
		images = *r.ImageURLs
	}
	return validateBody(content, images)
}

func (r *UpdateReviewRequest) apply(rv *domain.Review) {
	if r.OverallRating != nil {
		rv.OverallRating = *r.OverallRating
	}
	if r.KindnessRating != nil {
		rv.KindnessRating = r.KindnessRating
	}
	if r.PreparationRating != nil {
		rv.PreparationRating = r.PreparationRating
	}
	if r.ImprovementRating != nil {
		rv.ImprovementRating = r.ImprovementRating
	}
	if r.PunctualityRating != nil {
		rv.PunctualityRating = r.PunctualityRating
	}
	if r.Content != nil {
		rv.Content = *r.Content
	}
	if r.ImageURLs != nil {
		rv.ImageURLs = append([]string{}, (*r.ImageURLs)...)
	}
	if r.IsAnonymous != nil {
		rv.IsAnonymous = *r.IsAnonymous
	}
}

// ReplyRequest is the tutor's public reply
type ReplyRequest struct {
	Reply string `json:"reply"`
}

func (r *ReplyRequest) Validate() error {
	r.Reply = strings.TrimSpace(r.Reply)
	if r.Reply == "" || utf8.RuneCountInString(r.Reply) > maxReplyLen {
		return apperr.ErrValidation.WithMessage("reply must be 1-%d characters", maxReplyLen)
	}
	return nil
}

// ModerateRequest sets the visibility of a review
type ModerateRequest struct {
	Status domain.ReviewStatus `json:"status"`
}

func (r *ModerateRequest) Validate() error {
	if !r.Status.Valid() {
		return apperr.ErrValidation.WithMessage("status must be ACTIVE, HIDDEN or DELETED")
	}
	return nil
}

// ReportRequest flags a review for moderation
type ReportRequest struct {
	Reason      domain.ReportReason `json:"reason"`
	Description *string             `json:"description,omitempty"`
}

func (r *ReportRequest) Validate() error {
	if !r.Reason.Valid() {
		return apperr.ErrValidation.WithMessage("reason must be SPAM, ABUSE, FALSE_INFO or OTHER")
	}
	if r.Description != nil && utf8.RuneCountInString(*r.Description) > maxDescriptionLen {
		return apperr.ErrValidation.WithMessage("description must be at most %d characters", maxDescriptionLen)
	}
	return nil
}

// ResolveReportRequest is an administrator's decision on a report
type ResolveReportRequest struct {
	Status domain.ReportStatus `json:"status"`
}

func (r *ResolveReportRequest) Validate() error {
	if r.Status != domain.ReportStatusApproved && r.Status != domain.ReportStatusRejected {
		return apperr.ErrValidation.WithMessage("status must be APPROVED or REJECTED")
	}
	return nil
}

// Eligibility answers whether the requester may review a booking
type Eligibility struct {
	BookingID int64  `json:"booking_id"`
	CanReview bool   `json:"can_review"`
	Reason    string `json:"reason,omitempty"`
}

func validRating(v int) bool {
	return v >= 1 && v <= 5
}

func validateOptional(ratings ...*int) error {
	for _, r := range ratings {
		if r != nil && !validRating(*r) {
			return apperr.ErrValidation.WithMessage("ratings must be between 1 and 5")
		}
	}
	return nil
}

func validateBody(content string, images []string) error {
	if utf8.RuneCountInString(content) > maxContentLen {
		return apperr.ErrValidation.WithMessage("content must be at most %d characters", maxContentLen)
	}
	if len(images) > maxImages {
		return apperr.ErrValidation.WithMessage("at most %d images are allowed", maxImages)
	}
	for _, u := range images {
		if !strings.HasPrefix(u, "https://") {
			return apperr.ErrValidation.WithMessage("image urls must use https")
		}
	}
	return nil
}
