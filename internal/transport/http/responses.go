package httptransport

import (
	"time"

	"chatgate/internal/moderation/models"
)

// ChatResponse is returned when a message was forwarded.
type ChatResponse struct {
	Response string `json:"response"`
	UserID   string `json:"user_id"`
}

// IdentityStatusResponse is the admin view of an identity record.
type IdentityStatusResponse struct {
	UserID         string     `json:"user_id"`
	ViolationCount int        `json:"violation_count"`
	IsBlocked      bool       `json:"is_blocked"`
	BlockedUntil   *time.Time `json:"blocked_until"`
	LastViolation  *time.Time `json:"last_violation"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

type IdentityListResponse struct {
	Identities []string `json:"identities"`
	Count      int      `json:"count"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Storage string `json:"storage"`
}

func fromRecord(r *models.IdentityRecord) *IdentityStatusResponse {
	return &IdentityStatusResponse{
		UserID:         r.Identity,
		ViolationCount: r.ViolationCount,
		IsBlocked:      r.IsBlocked,
		BlockedUntil:   r.BlockedUntil,
		LastViolation:  r.LastViolation,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}
