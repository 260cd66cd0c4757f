// Package manualexport implements the connector for offline platform
// exports with no fixed schema. Parsing is a two-pass heuristic: the first
// pass scans record keys and scores them against known alias sets to pick
// a field mapping, the second extracts reviews with that mapping.
package manualexport

import (
	"context"
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
const SourceType = "manual_export"

// sampleLimit bounds how many records the first pass inspects.
const sampleLimit = 50

// fieldAliases score candidate keys per normalized field. Order matters:
// earlier aliases outrank later ones when both appear in a file.
var fieldAliases = map[string][]string{
	"content":  {"review_text", "text", "review", "content", "comment", "body", "snippet", "description", "message"},
	"rating":   {"rating", "stars", "score", "star_rating", "review_rating"},
	"date":     {"date", "review_date", "created_at", "timestamp", "posted_at", "time", "created", "published_at"},
	"author":   {"author", "author_name", "reviewer", "name", "user", "username", "user_name"},
	"id":       {"id", "review_id", "external_id", "uid", "_id"},
	"title":    {"title", "summary", "headline"},
	"response": {"response", "reply", "owner_answer", "owner_response"},
}

// Connector parses loosely-shaped offline export files.
type Connector struct {
	*base.Connector
}

// New creates a manual export connector instance.
func New(connectorID string, cfg *config.ConnectorConfig) (core.Connector, error) {
	c := &Connector{
		Connector: base.New(SourceType, "Manual Platform Export",
			"Offline platform exports parsed with heuristic field detection", false, true),
	}
	c.Configure(connectorID, cfg)
	return c, nil
}

// FetchReviews refuses live fetch: this source is upload-only.
func (c *Connector) FetchReviews(_ context.Context, _ core.FetchOptions) (*core.FetchResult, error) {
	return c.UploadOnlyFetchResult(), nil
}

// ParseUpload runs the two-pass heuristic parse.
func (c *Connector) ParseUpload(ctx context.Context, data []byte, filename string) (*core.FetchResult, error) {
	result := &core.FetchResult{}

	records, err := extractRecords(data)
	if err != nil {
		result.AddError(core.FetchErrorFromErr(err).WithContext("filename", filename))
		return result, nil
	}

	// Pass 1: choose the field mapping from sampled record keys.
	mapping := detectMapping(records)
	if _, ok := mapping["content"]; !ok {
		result.AddError(core.NewFetchError(errors.ErrorTypeValidation,
			"no content field could be detected in the export").
			WithContext("filename", filename))
		return result, nil
	}

	// Pass 2: extract with the chosen mapping.
	for i, record := range records {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeUnknown, "upload parsing canceled")
		}

		review, rerr := c.extractReview(record, mapping, i+1)
		if rerr != nil {
			result.AddError(*rerr)
			continue
		}
		result.Reviews = append(result.Reviews, *review)
	}

	result.SetMetadata("filename", filename)
	result.SetMetadata("records_found", len(records))
	result.SetMetadata("records_parsed", len(result.Reviews))
	result.SetMetadata("field_mapping", mapping)

	c.Logger().Info("manual export parsed",
		zap.String("filename", filename),
		zap.Int("found", len(records)),
		zap.Int("parsed", len(result.Reviews)),
		zap.Int("errors", len(result.Errors)))

	return result, nil
}

// extractRecords accepts a top-level JSON array, or an object wrapping a
// single review array under any key (the largest array wins).
func extractRecords(data []byte) ([]map[string]interface{}, error) {
	var arr []map[string]interface{}
	if err := gojson.Unmarshal(data, &arr); err == nil {
		if len(arr) == 0 {
			return nil, errors.New(errors.ErrorTypeValidation, "export contains no records")
		}
		return arr, nil
	}

	var wrapper map[string]gojson.RawMessage
	if err := gojson.Unmarshal(data, &wrapper); err != nil {
		return nil, errors.New(errors.ErrorTypeValidation, "export is neither a JSON array nor an object")
	}

	var best []map[string]interface{}
	for _, raw := range wrapper {
		var candidate []map[string]interface{}
		if err := gojson.Unmarshal(raw, &candidate); err == nil && len(candidate) > len(best) {
			best = candidate
		}
	}

	if len(best) == 0 {
		return nil, errors.New(errors.ErrorTypeValidation, "export object contains no review array")
	}
	return best, nil
}

// detectMapping scores keys from sampled records against the alias sets
// and picks the best-scoring key per field.
func detectMapping(records []map[string]interface{}) map[string]string {
	sample := records
	if len(sample) > sampleLimit {
		sample = sample[:sampleLimit]
	}

	// presence counts per key across the sample
	presence := make(map[string]int)
	for _, r := range sample {
		for k := range r {
			presence[strings.ToLower(k)]++
		}
	}

	mapping := make(map[string]string)
	for field, aliases := range fieldAliases {
		bestScore := 0
		for rank, alias := range aliases {
			count := presence[alias]
			if count == 0 {
				continue
			}
			// Earlier aliases outrank later ones; presence breaks ties.
			score := (len(aliases)-rank)*len(sample) + count
			if score > bestScore {
				bestScore = score
				mapping[field] = alias
			}
		}
	}

	return mapping
}

// extractReview pulls one review out of a record, returning exactly one
// review or one record-scoped error.
func (c *Connector) extractReview(record map[string]interface{}, mapping map[string]string, index int) (*core.NormalizedReview, *core.FetchError) {
	content := strings.TrimSpace(stringField(record, mapping["content"]))
	if content == "" {
		e := core.NewFetchError(errors.ErrorTypeValidation,
			"record "+strconv.Itoa(index)+": content is empty").WithContext("record", index)
		return nil, &e
	}

	reviewDate, ok := timeField(record, mapping["date"])
	if !ok {
		e := core.NewFetchError(errors.ErrorTypeParse,
			"record "+strconv.Itoa(index)+": no parseable date").WithContext("record", index)
		return nil, &e
	}

	author := strings.TrimSpace(stringField(record, mapping["author"]))

	externalID := strings.TrimSpace(stringField(record, mapping["id"]))
	if externalID == "" {
		externalID = shared.SynthesizeExternalID(content, reviewDate, author, index)
	}

	review := &core.NormalizedReview{
		ExternalID:       externalID,
		Content:          content,
		Title:            strings.TrimSpace(stringField(record, mapping["title"])),
		AuthorName:       author,
		ReviewDate:       reviewDate,
		ResponseText:     strings.TrimSpace(stringField(record, mapping["response"])),
		DetectedLanguage: shared.DetectLanguage(content),
		RawData:          record,
	}

	if rating, ok := intField(record, mapping["rating"]); ok && rating >= 1 && rating <= 5 {
		review.Rating = &rating
	}

	return review, nil
}

// stringField renders a record value as a string; numbers are formatted.
func stringField(record map[string]interface{}, key string) string {
	if key == "" {
		return ""
	}
	v, ok := lookupInsensitive(record, key)
	if !ok {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return ""
	}
}

// intField extracts an integer value from a string or number.
func intField(record map[string]interface{}, key string) (int, bool) {
	if key == "" {
		return 0, false
	}
	v, ok := lookupInsensitive(record, key)
	if !ok {
		return 0, false
	}
	switch val := v.(type) {
	case float64:
		return int(val + 0.5), true
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return n, true
		}
	}
	return 0, false
}

// timeField parses dates from RFC3339, common layouts, and epoch seconds
// or milliseconds, numeric or stringly-typed.
func timeField(record map[string]interface{}, key string) (time.Time, bool) {
	if key == "" {
		return time.Time{}, false
	}
	v, ok := lookupInsensitive(record, key)
	if !ok {
		return time.Time{}, false
	}

	switch val := v.(type) {
	case float64:
		return epochToTime(int64(val)), true
	case string:
		val = strings.TrimSpace(val)
		if val == "" {
			return time.Time{}, false
		}
		for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02", "02/01/2006", "01/02/2006"} {
			if t, err := time.Parse(layout, val); err == nil {
				return t, true
			}
		}
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			return epochToTime(n), true
		}
	}
	return time.Time{}, false
}

// epochToTime treats values past the year ~2286 in seconds as milliseconds.
func epochToTime(n int64) time.Time {
	if n > 1e12 {
		return time.UnixMilli(n).UTC()
	}
	return time.Unix(n, 0).UTC()
}

// lookupInsensitive finds a record value by case-insensitive key.
func lookupInsensitive(record map[string]interface{}, key string) (interface{}, bool) {
	if v, ok := record[key]; ok {
		return v, true
	}
	for k, v := range record {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}
