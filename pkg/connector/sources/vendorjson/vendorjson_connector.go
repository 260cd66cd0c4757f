// Package vendorjson implements the connector for vendor JSON review
// exports. Two historically-coexisting schema shapes are auto-detected
// structurally; see schema.go.
package vendorjson

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	gojson "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/reviewkit/reviewkit/pkg/config"
	"github.com/reviewkit/reviewkit/pkg/connector/base"
	"github.com/reviewkit/reviewkit/pkg/connector/core"
	"github.com/reviewkit/reviewkit/pkg/connector/shared"
	"github.com/reviewkit/reviewkit/pkg/errors"
)

// SourceType identifies this connector in the registry.
const SourceType = "vendor_json"

// datetimeUTCLayout matches the flat schema's review_datetime_utc field,
// used as the fallback when the epoch timestamp is absent.
const datetimeUTCLayout = "01/02/2006 15:04:05"

// Connector parses vendor JSON exports.
type Connector struct {
	*base.Connector
}

// New creates a vendor JSON connector instance.
func New(connectorID string, cfg *config.ConnectorConfig) (core.Connector, error) {
	c := &Connector{
		Connector: base.New(SourceType, "Vendor JSON Export",
			"Vendor JSON exports in flat or nested schema, auto-detected", false, true),
	}
	c.Configure(connectorID, cfg)
	return c, nil
}

// FetchReviews refuses live fetch: vendor exports are offline files.
func (c *Connector) FetchReviews(_ context.Context, _ core.FetchOptions) (*core.FetchResult, error) {
	return c.UploadOnlyFetchResult(), nil
}

// ParseUpload detects the export schema and normalizes every review.
// Failures are isolated per place and per review: one corrupt record
// produces one error entry and siblings keep processing.
func (c *Connector) ParseUpload(ctx context.Context, data []byte, filename string) (*core.FetchResult, error) {
	result := &core.FetchResult{}

	places, shape, err := detectSchema(data)
	if err != nil {
		result.AddError(core.FetchErrorFromErr(err).WithContext("filename", filename))
		return result, nil
	}

	var found, withText, ratingsOnly int

	for pi, place := range places {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeUnknown, "upload parsing canceled")
		}

		found += len(place.ReviewsData)

		for ri, raw := range place.ReviewsData {
			var fr flatReview
			if err := gojson.Unmarshal(raw, &fr); err != nil {
				result.AddError(core.NewFetchError(errors.ErrorTypeParse,
					"review record failed to decode").
					WithContext("place_index", pi).
					WithContext("review_index", ri))
				continue
			}

			review, hadText, rerr := transformReview(fr, place)
			if rerr != nil {
				result.AddError(core.FetchErrorFromErr(rerr).
					WithContext("place_index", pi).
					WithContext("review_index", ri).
					WithContext("review_id", fr.ReviewID))
				continue
			}

			if hadText {
				withText++
			} else {
				ratingsOnly++
			}
			result.Reviews = append(result.Reviews, *review)
		}
	}

	result.SetMetadata("filename", filename)
	result.SetMetadata("schema", string(shape))
	result.SetMetadata("places", len(places))
	result.SetMetadata("records_found", found)
	result.SetMetadata("records_parsed", len(result.Reviews))
	result.SetMetadata("records_with_text", withText)
	result.SetMetadata("records_ratings_only", ratingsOnly)

	c.Logger().Info("vendor export parsed",
		zap.String("filename", filename),
		zap.String("schema", string(shape)),
		zap.Int("found", found),
		zap.Int("parsed", len(result.Reviews)),
		zap.Int("errors", len(result.Errors)))

	return result, nil
}

// transformReview is the single place flat-schema fields map onto a
// NormalizedReview. hadText reports whether the review carried free text
// as opposed to synthesized placeholder content.
func transformReview(fr flatReview, place flatPlace) (*core.NormalizedReview, bool, error) {
	if fr.ReviewID == "" {
		return nil, false, errors.New(errors.ErrorTypeValidation, "review record is missing review_id")
	}

	reviewDate, err := reviewTime(fr)
	if err != nil {
		return nil, false, err
	}

	subRatings := numericSubRatings(fr.ReviewQuestions)

	content := strings.TrimSpace(fr.ReviewText)
	hadText := content != ""
	if !hadText {
		if len(subRatings) == 0 {
			return nil, false, errors.New(errors.ErrorTypeValidation,
				"review has neither text nor numeric sub-ratings")
		}
		content = placeholderContent(subRatings)
	}

	review := &core.NormalizedReview{
		ExternalID:       fr.ReviewID,
		Content:          content,
		AuthorName:       fr.AuthorTitle,
		AuthorID:         fr.AuthorID,
		ReviewDate:       reviewDate,
		ResponseText:     fr.OwnerAnswer,
		DetectedLanguage: shared.DetectLanguage(content),
		RawData:          rawData(fr, place),
	}

	if fr.ReviewRating != nil {
		rating := int(*fr.ReviewRating + 0.5)
		if rating >= 1 && rating <= 5 {
			review.Rating = &rating
		}
	}

	if fr.OwnerAnswerTimestamp != nil && *fr.OwnerAnswerTimestamp > 0 {
		t := time.Unix(*fr.OwnerAnswerTimestamp, 0).UTC()
		review.ResponseDate = &t
	}

	if fr.ReviewLikes != nil && *fr.ReviewLikes > 0 {
		review.LikesCount = *fr.ReviewLikes
	}

	return review, hadText, nil
}

// reviewTime converts the epoch-seconds timestamp, falling back to the
// formatted UTC datetime string older flat exports carry.
func reviewTime(fr flatReview) (time.Time, error) {
	if fr.ReviewTimestamp > 0 {
		return time.Unix(fr.ReviewTimestamp, 0).UTC(), nil
	}
	if fr.ReviewDatetimeUTC != "" {
		if t, err := time.Parse(datetimeUTCLayout, fr.ReviewDatetimeUTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errors.New(errors.ErrorTypeValidation, "review record has no usable timestamp")
}

// numericSubRatings extracts per-aspect 1-5 scores from the review
// questions map; non-numeric answers (price bands, wait times) are skipped.
func numericSubRatings(questions map[string]interface{}) map[string]int {
	if len(questions) == 0 {
		return nil
	}

	out := make(map[string]int)
	for aspect, v := range questions {
		switch val := v.(type) {
		case string:
			if n, err := strconv.Atoi(strings.TrimSpace(val)); err == nil && n >= 1 && n <= 5 {
				out[aspect] = n
			}
		case float64:
			n := int(val)
			if float64(n) == val && n >= 1 && n <= 5 {
				out[aspect] = n
			}
		}
	}

	if len(out) == 0 {
		return nil
	}
	return out
}

// placeholderContent renders ratings-only reviews with a fixed template so
// content is never empty. Aspects are sorted for determinism.
func placeholderContent(subRatings map[string]int) string {
	aspects := make([]string, 0, len(subRatings))
	for a := range subRatings {
		aspects = append(aspects, a)
	}
	sort.Strings(aspects)

	parts := make([]string, 0, len(aspects))
	for _, a := range aspects {
		parts = append(parts, a+" "+strconv.Itoa(subRatings[a])+"/5")
	}

	return "Rated " + strings.Join(parts, ", ") + "."
}

// rawData retains the source payload, including structured sub-ratings,
// for downstream use without promoting them to top-level fields.
func rawData(fr flatReview, place flatPlace) map[string]interface{} {
	raw := map[string]interface{}{
		"review_id":  fr.ReviewID,
		"place_id":   place.PlaceID,
		"place_name": place.Name,
	}
	if fr.GoogleID != "" {
		raw["google_id"] = fr.GoogleID
	}
	if len(fr.ReviewQuestions) > 0 {
		raw["review_questions"] = fr.ReviewQuestions
	}
	if fr.ReviewRating != nil {
		raw["review_rating"] = *fr.ReviewRating
	}
	if fr.ReviewTimestamp > 0 {
		raw["review_timestamp"] = fr.ReviewTimestamp
	}
	return raw
}
