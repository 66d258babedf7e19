package domain

import "time"

type ReviewStatus string

const (
	ReviewStatusActive  ReviewStatus = "ACTIVE"
	ReviewStatusHidden  ReviewStatus = "HIDDEN"
	ReviewStatusDeleted ReviewStatus = "DELETED"
)

func (s ReviewStatus) Valid() bool {
	return s == ReviewStatusActive || s == ReviewStatusHidden || s == ReviewStatusDeleted
}

// Review is a student's review of a booking; at most one per booking
type Review struct {
	ID                int64        `json:"id"`
	BookingID         int64        `json:"booking_id"`
	TutorID           int64        `json:"tutor_id"`
	StudentID         int64        `json:"student_id"`
	OverallRating     int          `json:"overall_rating"`
	KindnessRating    *int         `json:"kindness_rating,omitempty"`
	PreparationRating *int         `json:"preparation_rating,omitempty"`
	ImprovementRating *int         `json:"improvement_rating,omitempty"`
	PunctualityRating *int         `json:"punctuality_rating,omitempty"`
	Content           string       `json:"content"`
	ImageURLs         []string     `json:"image_urls"`
	IsAnonymous       bool         `json:"is_anonymous"`
	Status            ReviewStatus `json:"status"`
	TutorReply        *string      `json:"tutor_reply,omitempty"`
	TutorRepliedAt    *time.Time   `json:"tutor_replied_at,omitempty"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

func (r *Review) Clone() *Review {
	cp := *r
	cp.KindnessRating = cloneInt(r.KindnessRating)
	cp.PreparationRating = cloneInt(r.PreparationRating)
	cp.ImprovementRating = cloneInt(r.ImprovementRating)
	cp.PunctualityRating = cloneInt(r.PunctualityRating)
	cp.ImageURLs = append([]string(nil), r.ImageURLs...)
	cp.TutorReply = cloneString(r.TutorReply)
	cp.TutorRepliedAt = cloneTime(r.TutorRepliedAt)
	return &cp
}

type ReportReason string

const (
	ReportReasonSpam      ReportReason = "SPAM"
	ReportReasonAbuse     ReportReason = "ABUSE"
	ReportReasonFalseInfo ReportReason = "FALSE_INFO"
	ReportReasonOther     ReportReason = "OTHER"
)

func (r ReportReason) Valid() bool {
	switch r {
	case ReportReasonSpam, ReportReasonAbuse, ReportReasonFalseInfo, ReportReasonOther:
		return true
	}
	return false
}

type ReportStatus string

const (
	ReportStatusPending  ReportStatus = "PENDING"
	ReportStatusApproved ReportStatus = "APPROVED"
	ReportStatusRejected ReportStatus = "REJECTED"
)

// ReviewReport is a user's moderation report against a review
type ReviewReport struct {
	ID          int64        `json:"id"`
	ReviewID    int64        `json:"review_id"`
	ReporterID  int64        `json:"reporter_id"`
	Reason      ReportReason `json:"reason"`
	Description *string      `json:"description,omitempty"`
	Status      ReportStatus `json:"status"`
	ResolvedBy  *int64       `json:"resolved_by,omitempty"`
	ResolvedAt  *time.Time   `json:"resolved_at,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

func (r *ReviewReport) Clone() *ReviewReport {
	cp := *r
	cp.Description = cloneString(r.Description)
	cp.ResolvedAt = cloneTime(r.ResolvedAt)
	if r.ResolvedBy != nil {
		id := *r.ResolvedBy
		cp.ResolvedBy = &id
	}
	return &cp
}

// ReviewStats aggregates a tutor's ACTIVE reviews
type ReviewStats struct {
	TutorID   int64
	Count     int
	RatingSum int
	Replied   int
}

type BadgeTier string

const (
	BadgeBest    BadgeTier = "BEST"
	BadgePopular BadgeTier = "POPULAR"
	BadgeNone    BadgeTier = "NONE"
)

// TutorRating is the derived rating summary of a tutor
type TutorRating struct {
	TutorID     int64     `json:"tutor_id"`
	ReviewCount int       `json:"review_count"`
	RatingSum   int       `json:"rating_sum"`
	Average     float64   `json:"average"`
	Tier        BadgeTier `json:"tier"`
	Responsive  bool      `json:"responsive"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
