package vendorjson

import (
	gojson "github.com/goccy/go-json"

	"github.com/reviewkit/reviewkit/pkg/errors"
)

// The vendor shipped two export schemas over its lifetime and files of both
// shapes still circulate. Detection is purely structural, in strict
// priority order: decode-as-flat, then decode-as-nested, then fail. A file
// matching neither is an explicit unrecognized-format error, never a
// best-effort guess.

// schemaShape identifies which export schema a document matched.
type schemaShape string

const (
	shapeFlat   schemaShape = "flat"
	shapeNested schemaShape = "nested"
)

// flatPlace is the older export: place attributes live directly alongside
// the review list. Reviews stay raw so one corrupt review record fails
// alone.
type flatPlace struct {
	Name        string              `json:"name"`
	PlaceID     string              `json:"place_id"`
	GoogleID    string              `json:"google_id"`
	FullAddress string              `json:"full_address"`
	Rating      *float64            `json:"rating"`
	ReviewCount int                 `json:"reviews"`
	ReviewsData []gojson.RawMessage `json:"reviews_data"`
}

// flatReview is the flat schema's review record.
type flatReview struct {
	ReviewID             string                 `json:"review_id"`
	ReviewText           string                 `json:"review_text"`
	ReviewRating         *float64               `json:"review_rating"`
	ReviewTimestamp      int64                  `json:"review_timestamp"`
	ReviewDatetimeUTC    string                 `json:"review_datetime_utc"`
	ReviewQuestions      map[string]interface{} `json:"review_questions"`
	OwnerAnswer          string                 `json:"owner_answer"`
	OwnerAnswerTimestamp *int64                 `json:"owner_answer_timestamp"`
	ReviewLikes          *int                   `json:"review_likes"`
	AuthorTitle          string                 `json:"author_title"`
	AuthorID             string                 `json:"author_id"`
	GoogleID             string                 `json:"google_id"`
}

// nestedDocument is the newer export: place and review lists are separated
// into sub-objects with different field names for the same concepts.
type nestedDocument struct {
	Places []nestedPlace `json:"places"`
}

type nestedPlace struct {
	PlaceInfo nestedPlaceInfo     `json:"place_info"`
	ReviewSet []gojson.RawMessage `json:"review_set"`
}

type nestedPlaceInfo struct {
	Title    string   `json:"title"`
	LocID    string   `json:"loc_id"`
	Address  string   `json:"address"`
	AvgStars *float64 `json:"avg_stars"`
}

// nestedReview is the nested schema's review record.
type nestedReview struct {
	ID           string                 `json:"id"`
	Snippet      string                 `json:"snippet"`
	Stars        *float64               `json:"stars"`
	PostedAt     int64                  `json:"posted_at"`
	AspectScores map[string]interface{} `json:"aspect_scores"`
	Reply        string                 `json:"reply"`
	ReplyAt      *int64                 `json:"reply_at"`
	Upvotes      *int                   `json:"upvotes"`
	Reviewer     string                 `json:"reviewer"`
	ReviewerID   string                 `json:"reviewer_id"`
}

// detectSchema classifies a document and returns the place list in flat
// form. Flat wins when its distinguishing key reviews_data is present at
// the top level (single place) or on the first array element (multi-place
// export). Nested requires the places key with review_set sub-objects.
func detectSchema(data []byte) ([]flatPlace, schemaShape, error) {
	// Probe 1: flat single-place object
	var topObject map[string]gojson.RawMessage
	if err := gojson.Unmarshal(data, &topObject); err == nil {
		if _, ok := topObject["reviews_data"]; ok {
			var place flatPlace
			if err := gojson.Unmarshal(data, &place); err != nil {
				return nil, shapeFlat, errors.Wrap(err, errors.ErrorTypeParse, "flat document failed to decode")
			}
			return []flatPlace{place}, shapeFlat, nil
		}

		// Probe 2: nested document
		if _, ok := topObject["places"]; ok {
			var doc nestedDocument
			if err := gojson.Unmarshal(data, &doc); err != nil {
				return nil, shapeNested, errors.Wrap(err, errors.ErrorTypeParse, "nested document failed to decode")
			}
			if nestedHasReviewSet(data) {
				return rewriteNested(doc), shapeNested, nil
			}
		}

		return nil, "", unrecognizedFormat()
	}

	// Probe 1b: flat multi-place array
	var topArray []gojson.RawMessage
	if err := gojson.Unmarshal(data, &topArray); err == nil && len(topArray) > 0 {
		var probe map[string]gojson.RawMessage
		if err := gojson.Unmarshal(topArray[0], &probe); err == nil {
			if _, ok := probe["reviews_data"]; ok {
				places := make([]flatPlace, 0, len(topArray))
				for _, raw := range topArray {
					var place flatPlace
					if err := gojson.Unmarshal(raw, &place); err != nil {
						return nil, shapeFlat, errors.Wrap(err, errors.ErrorTypeParse, "flat place failed to decode")
					}
					places = append(places, place)
				}
				return places, shapeFlat, nil
			}
		}
	}

	return nil, "", unrecognizedFormat()
}

// nestedHasReviewSet confirms the nested distinguishing key beyond the
// places list itself: at least one place must carry review_set.
func nestedHasReviewSet(data []byte) bool {
	var doc struct {
		Places []map[string]gojson.RawMessage `json:"places"`
	}
	if err := gojson.Unmarshal(data, &doc); err != nil {
		return false
	}
	for _, p := range doc.Places {
		if _, ok := p["review_set"]; ok {
			return true
		}
	}
	return false
}

// rewriteNested maps the nested shape onto flat field names. The rewrite
// is a pure, allocation-only transform so exactly one transformReview
// carries all field-mapping logic.
func rewriteNested(doc nestedDocument) []flatPlace {
	places := make([]flatPlace, 0, len(doc.Places))
	for _, np := range doc.Places {
		fp := flatPlace{
			Name:        np.PlaceInfo.Title,
			PlaceID:     np.PlaceInfo.LocID,
			GoogleID:    np.PlaceInfo.LocID,
			FullAddress: np.PlaceInfo.Address,
			Rating:      np.PlaceInfo.AvgStars,
			ReviewCount: len(np.ReviewSet),
			ReviewsData: make([]gojson.RawMessage, 0, len(np.ReviewSet)),
		}

		for _, raw := range np.ReviewSet {
			var nr nestedReview
			if err := gojson.Unmarshal(raw, &nr); err != nil {
				// Keep the raw record so transformReview reports it as a
				// per-review failure instead of dropping it silently.
				fp.ReviewsData = append(fp.ReviewsData, raw)
				continue
			}
			fr := flatReview{
				ReviewID:             nr.ID,
				ReviewText:           nr.Snippet,
				ReviewRating:         nr.Stars,
				ReviewTimestamp:      nr.PostedAt,
				ReviewQuestions:      nr.AspectScores,
				OwnerAnswer:          nr.Reply,
				OwnerAnswerTimestamp: nr.ReplyAt,
				ReviewLikes:          nr.Upvotes,
				AuthorTitle:          nr.Reviewer,
				AuthorID:             nr.ReviewerID,
				GoogleID:             np.PlaceInfo.LocID,
			}
			if rewritten, err := gojson.Marshal(fr); err == nil {
				fp.ReviewsData = append(fp.ReviewsData, rewritten)
			} else {
				fp.ReviewsData = append(fp.ReviewsData, raw)
			}
		}

		places = append(places, fp)
	}
	return places
}

func unrecognizedFormat() error {
	return errors.New(errors.ErrorTypeValidation,
		"unrecognized vendor export format: document matches neither the flat nor the nested schema")
}
