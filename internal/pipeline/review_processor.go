package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/reviewkit/reviewkit/internal/store"
	"github.com/reviewkit/reviewkit/pkg/connector/core"
	"github.com/reviewkit/reviewkit/pkg/connector/shared"
	"github.com/reviewkit/reviewkit/pkg/errors"
)

// Review write outcomes, also used as metric labels.
const (
	outcomeCreated   = "created"
	outcomeUpdated   = "updated"
	outcomeSkipped   = "skipped"
	outcomeDuplicate = "duplicate"
)

// processReview applies the idempotent write rules for one normalized
// review. A returned FetchError is row-scoped; the caller keeps going.
//
// Lookup order: the connector-scoped external ID first, then a
// tenant-wide content-hash probe that excludes this connector. A hash
// match on another connector marks the row a cross-connector duplicate
// and skips the insert.
func (o *Orchestrator) processReview(ctx context.Context, tenantID, connectorID string, nr *core.NormalizedReview) (string, *core.FetchError) {
	if nr.ExternalID == "" {
		fe := core.NewFetchError(errors.ErrorTypeValidation, "review has no external id")
		return "", &fe
	}

	existing, err := o.store.GetByExternalID(ctx, connectorID, nr.ExternalID)
	if err != nil {
		return "", rowError(nr.ExternalID, "lookup failed", err)
	}

	if existing != nil {
		return o.updateExisting(ctx, existing, nr)
	}

	contentHash := shared.ContentHash(nr.Content)

	duplicate, err := o.store.FindByContentHash(ctx, tenantID, contentHash, connectorID)
	if err != nil {
		return "", rowError(nr.ExternalID, "duplicate probe failed", err)
	}
	if duplicate != nil {
		return outcomeDuplicate, nil
	}

	review := &store.Review{
		TenantID:         tenantID,
		ConnectorID:      connectorID,
		ExternalReviewID: nr.ExternalID,
		Content:          nr.Content,
		ContentHash:      contentHash,
		Rating:           nr.Rating,
		Title:            nr.Title,
		AuthorName:       nr.AuthorName,
		AuthorID:         nr.AuthorID,
		ReviewDate:       nr.ReviewDate,
		ResponseText:     nr.ResponseText,
		ResponseDate:     nr.ResponseDate,
		LikesCount:       nr.LikesCount,
		RepliesCount:     nr.RepliesCount,
		HelpfulCount:     nr.HelpfulCount,
		DetectedLanguage: nr.DetectedLanguage,
		RawData:          nr.RawData,
	}
	if err := o.store.InsertReview(ctx, review); err != nil {
		return "", rowError(nr.ExternalID, "insert failed", err)
	}
	return outcomeCreated, nil
}

// updateExisting rewrites a stored review only when something the source
// can legitimately change has changed: the content, the owner response,
// or the rating. Anything else leaves the row untouched so re-imports of
// the same file are no-ops.
func (o *Orchestrator) updateExisting(ctx context.Context, existing *store.Review, nr *core.NormalizedReview) (string, *core.FetchError) {
	if !reviewChanged(existing, nr) {
		return outcomeSkipped, nil
	}

	existing.Content = nr.Content
	existing.ContentHash = shared.ContentHash(nr.Content)
	existing.Rating = nr.Rating
	existing.Title = nr.Title
	existing.ResponseText = nr.ResponseText
	existing.ResponseDate = nr.ResponseDate
	existing.LikesCount = nr.LikesCount
	existing.RepliesCount = nr.RepliesCount
	existing.HelpfulCount = nr.HelpfulCount
	existing.RawData = nr.RawData
	existing.UpdatedAt = time.Now().UTC()

	if err := o.store.UpdateReview(ctx, existing); err != nil {
		return "", rowError(nr.ExternalID, "update failed", err)
	}
	return outcomeUpdated, nil
}

func reviewChanged(existing *store.Review, nr *core.NormalizedReview) bool {
	if existing.Content != nr.Content {
		return true
	}
	if existing.ResponseText != nr.ResponseText {
		return true
	}
	return !ratingEqual(existing.Rating, nr.Rating)
}

func ratingEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func rowError(externalID, msg string, err error) *core.FetchError {
	fe := core.NewFetchError(errors.TypeOf(err), fmt.Sprintf("%s: %v", msg, err))
	fe.Retryable = errors.IsRetryable(err)
	fe = fe.WithContext("external_id", externalID)
	return &fe
}
