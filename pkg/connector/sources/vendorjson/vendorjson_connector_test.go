package vendorjson

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewkit/reviewkit/pkg/connector/core"
	"github.com/reviewkit/reviewkit/pkg/errors"
)

func newTestConnector(t *testing.T) *Connector {
	t.Helper()
	c, err := New("conn-1", nil)
	require.NoError(t, err)
	return c.(*Connector)
}

const flatExport = `{
	"name": "Cafe Aurora",
	"place_id": "p-100",
	"google_id": "g-100",
	"rating": 4.4,
	"reviews": 3,
	"reviews_data": [
		{
			"review_id": "r-1",
			"review_text": "Best espresso in town",
			"review_rating": 5,
			"review_timestamp": 1700000000,
			"author_title": "Ana",
			"author_id": "a-1",
			"owner_answer": "Thank you!",
			"owner_answer_timestamp": 1700086400,
			"review_likes": 3
		},
		{
			"review_id": "r-2",
			"review_rating": 4,
			"review_timestamp": 1700000100,
			"review_questions": {"Service": "5", "Food": 4, "Price": "moderate"}
		},
		{
			"review_id": "r-3",
			"review_rating": 2,
			"review_timestamp": 1700000200
		}
	]
}`

// TestParseUpload_FlatSchema covers the older export shape end to end
func TestParseUpload_FlatSchema(t *testing.T) {
	c := newTestConnector(t)

	result, err := c.ParseUpload(context.Background(), []byte(flatExport), "export.json")
	require.NoError(t, err)

	require.Len(t, result.Reviews, 2)
	require.Len(t, result.Errors, 1)

	t.Run("text review", func(t *testing.T) {
		r := result.Reviews[0]
		assert.Equal(t, "r-1", r.ExternalID)
		assert.Equal(t, "Best espresso in town", r.Content)
		assert.Equal(t, "Ana", r.AuthorName)
		assert.Equal(t, time.Unix(1700000000, 0).UTC(), r.ReviewDate)
		assert.Equal(t, "Thank you!", r.ResponseText)
		require.NotNil(t, r.ResponseDate)
		assert.Equal(t, time.Unix(1700086400, 0).UTC(), *r.ResponseDate)
		assert.Equal(t, 3, r.LikesCount)
		require.NotNil(t, r.Rating)
		assert.Equal(t, 5, *r.Rating)
		assert.Equal(t, "p-100", r.RawData["place_id"])
	})

	t.Run("ratings-only review gets placeholder content", func(t *testing.T) {
		r := result.Reviews[1]
		assert.Equal(t, "r-2", r.ExternalID)
		// Non-numeric answers are excluded; aspects sort alphabetically
		assert.Equal(t, "Rated Food 4/5, Service 5/5.", r.Content)
		assert.Contains(t, r.RawData, "review_questions")
	})

	t.Run("no text and no sub-ratings is an error", func(t *testing.T) {
		e := result.Errors[0]
		assert.Equal(t, errors.ErrorTypeValidation, e.Type)
		assert.Contains(t, e.Message, "neither text nor numeric sub-ratings")
		assert.Equal(t, "r-3", e.Context["review_id"])
	})

	t.Run("metadata", func(t *testing.T) {
		assert.Equal(t, "flat", result.Metadata["schema"])
		assert.Equal(t, 1, result.Metadata["places"])
		assert.Equal(t, 3, result.Metadata["records_found"])
		assert.Equal(t, 2, result.Metadata["records_parsed"])
		assert.Equal(t, 1, result.Metadata["records_with_text"])
		assert.Equal(t, 1, result.Metadata["records_ratings_only"])
	})
}

const nestedExport = `{
	"places": [
		{
			"place_info": {"title": "Trattoria Nino", "loc_id": "loc-7", "avg_stars": 4.1},
			"review_set": [
				{
					"id": "n-1",
					"snippet": "Handmade pasta, generous portions",
					"stars": 4,
					"posted_at": 1710000000,
					"reviewer": "Marco",
					"reviewer_id": "m-9",
					"reply": "Grazie mille",
					"reply_at": 1710086400,
					"upvotes": 7
				}
			]
		}
	]
}`

// TestParseUpload_NestedSchema covers the newer export shape
func TestParseUpload_NestedSchema(t *testing.T) {
	c := newTestConnector(t)

	result, err := c.ParseUpload(context.Background(), []byte(nestedExport), "nested.json")
	require.NoError(t, err)

	require.Len(t, result.Reviews, 1)
	assert.Empty(t, result.Errors)
	assert.Equal(t, "nested", result.Metadata["schema"])

	r := result.Reviews[0]
	assert.Equal(t, "n-1", r.ExternalID)
	assert.Equal(t, "Handmade pasta, generous portions", r.Content)
	assert.Equal(t, "Marco", r.AuthorName)
	assert.Equal(t, "m-9", r.AuthorID)
	assert.Equal(t, time.Unix(1710000000, 0).UTC(), r.ReviewDate)
	assert.Equal(t, "Grazie mille", r.ResponseText)
	assert.Equal(t, 7, r.LikesCount)
	require.NotNil(t, r.Rating)
	assert.Equal(t, 4, *r.Rating)
	assert.Equal(t, "loc-7", r.RawData["place_id"])
}

// TestParseUpload_MultiPlaceArray covers flat exports holding several places
func TestParseUpload_MultiPlaceArray(t *testing.T) {
	c := newTestConnector(t)

	data := []byte(`[
		{"name": "A", "place_id": "p-1", "reviews_data": [
			{"review_id": "a-1", "review_text": "Good", "review_timestamp": 1700000000}
		]},
		{"name": "B", "place_id": "p-2", "reviews_data": [
			{"review_id": "b-1", "review_text": "Bad", "review_timestamp": 1700000001}
		]}
	]`)

	result, err := c.ParseUpload(context.Background(), data, "multi.json")
	require.NoError(t, err)
	require.Len(t, result.Reviews, 2)
	assert.Equal(t, 2, result.Metadata["places"])
	assert.Equal(t, "p-1", result.Reviews[0].RawData["place_id"])
	assert.Equal(t, "p-2", result.Reviews[1].RawData["place_id"])
}

// TestParseUpload_UnrecognizedFormat verifies detection never guesses
func TestParseUpload_UnrecognizedFormat(t *testing.T) {
	c := newTestConnector(t)

	for name, data := range map[string]string{
		"arbitrary object":         `{"foo": "bar"}`,
		"arbitrary array":          `[1, 2, 3]`,
		"places but no review_set": `{"places": [{"place_info": {"title": "X"}}]}`,
		"not json":                 `review_id,review_text`,
	} {
		t.Run(name, func(t *testing.T) {
			result, err := c.ParseUpload(context.Background(), []byte(data), "odd.json")
			require.NoError(t, err)
			assert.Empty(t, result.Reviews)
			require.Len(t, result.Errors, 1)
			assert.Equal(t, errors.ErrorTypeValidation, result.Errors[0].Type)
		})
	}
}

func TestTransformReview_Timestamps(t *testing.T) {
	t.Run("datetime_utc fallback", func(t *testing.T) {
		fr := flatReview{
			ReviewID:          "r-9",
			ReviewText:        "ok",
			ReviewDatetimeUTC: "03/15/2024 10:30:00",
		}
		r, hadText, err := transformReview(fr, flatPlace{})
		require.NoError(t, err)
		assert.True(t, hadText)
		assert.Equal(t, time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC), r.ReviewDate)
	})

	t.Run("no usable timestamp", func(t *testing.T) {
		fr := flatReview{ReviewID: "r-10", ReviewText: "ok"}
		_, _, err := transformReview(fr, flatPlace{})
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
	})

	t.Run("missing review_id", func(t *testing.T) {
		fr := flatReview{ReviewText: "ok", ReviewTimestamp: 1700000000}
		_, _, err := transformReview(fr, flatPlace{})
		require.Error(t, err)
	})
}

func TestTransformReview_RatingRounding(t *testing.T) {
	mk := func(v float64) flatReview {
		return flatReview{ReviewID: "r", ReviewText: "t", ReviewTimestamp: 1, ReviewRating: &v}
	}

	for _, tc := range []struct {
		in   float64
		want int
	}{
		{4.5, 5},
		{4.4, 4},
		{1.0, 1},
		{5.0, 5},
	} {
		r, _, err := transformReview(mk(tc.in), flatPlace{})
		require.NoError(t, err)
		require.NotNil(t, r.Rating)
		assert.Equal(t, tc.want, *r.Rating)
	}

	t.Run("out of range dropped", func(t *testing.T) {
		r, _, err := transformReview(mk(0.2), flatPlace{})
		require.NoError(t, err)
		assert.Nil(t, r.Rating)
	})
}

func TestFetchReviews_UploadOnly(t *testing.T) {
	c := newTestConnector(t)

	result, err := c.FetchReviews(context.Background(), core.FetchOptions{})
	require.NoError(t, err)
	assert.Empty(t, result.Reviews)
	require.Len(t, result.Errors, 1)
}
