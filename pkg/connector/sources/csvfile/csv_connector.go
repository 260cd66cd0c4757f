// Package csvfile implements the CSV upload connector. Files arrive with
// arbitrary column layouts; resolution maps normalized fields onto columns
// through an optional explicit mapping with sensible alias defaults.
package csvfile

import (
	"context"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/reviewkit/reviewkit/pkg/config"
	"github.com/reviewkit/reviewkit/pkg/connector/base"
	"github.com/reviewkit/reviewkit/pkg/connector/core"
	"github.com/reviewkit/reviewkit/pkg/connector/shared"
	"github.com/reviewkit/reviewkit/pkg/errors"
)

// SourceType identifies this connector in the registry.
const SourceType = "csv"

// Normalized field keys used in column mappings.
const (
	fieldExternalID   = "externalId"
	fieldContent      = "content"
	fieldReviewDate   = "reviewDate"
	fieldRating       = "rating"
	fieldTitle        = "title"
	fieldAuthor       = "author"
	fieldResponse     = "response"
	fieldResponseDate = "responseDate"
	fieldLikes        = "likes"
)

// defaultAliases resolve columns when no explicit mapping is configured.
// Matching is case-insensitive against the header row.
var defaultAliases = map[string][]string{
	fieldExternalID:   {"id", "review_id", "external_id", "reviewid"},
	fieldContent:      {"content", "review", "review_text", "text", "comment", "body"},
	fieldReviewDate:   {"date", "review_date", "reviewdate", "created_at", "created", "reviewed_at"},
	fieldRating:       {"rating", "stars", "score", "review_rating"},
	fieldTitle:        {"title", "summary", "headline"},
	fieldAuthor:       {"author", "author_name", "name", "reviewer", "customer"},
	fieldResponse:     {"response", "reply", "owner_response", "owner_answer"},
	fieldResponseDate: {"response_date", "reply_date", "owner_answer_date"},
	fieldLikes:        {"likes", "likes_count", "helpful", "thumbs_up"},
}

// Connector parses manually uploaded CSV review files.
type Connector struct {
	*base.Connector
}

// New creates a CSV connector instance.
func New(connectorID string, cfg *config.ConnectorConfig) (core.Connector, error) {
	c := &Connector{
		Connector: base.New(SourceType, "CSV Upload",
			"Manual CSV review uploads with flexible column mapping", false, true),
	}
	c.Configure(connectorID, cfg)
	return c, nil
}

// FetchReviews refuses live fetch: this source is upload-only.
func (c *Connector) FetchReviews(_ context.Context, _ core.FetchOptions) (*core.FetchResult, error) {
	return c.UploadOnlyFetchResult(), nil
}

// ValidateConfig checks the column mapping keys and the date format hint.
func (c *Connector) ValidateConfig(cfg *config.ConnectorConfig) *core.ValidationResult {
	result := &core.ValidationResult{Valid: true}
	if cfg == nil {
		return result
	}

	for key := range cfg.ColumnMapping {
		if _, known := defaultAliases[key]; !known {
			result.Valid = false
			result.Errors = append(result.Errors, "unknown column mapping key "+strconv.Quote(key))
		}
	}

	if cfg.DateFormat != "" && cfg.DateFormat != FormatDayFirst && cfg.DateFormat != FormatMonthFirst {
		result.Valid = false
		result.Errors = append(result.Errors,
			"date_format must be "+FormatDayFirst+" or "+FormatMonthFirst)
	}

	return result
}

// ParseUpload tokenizes and normalizes an uploaded CSV file. Row failures
// are row-scoped and never stop processing of subsequent rows.
func (c *Connector) ParseUpload(ctx context.Context, data []byte, filename string) (*core.FetchResult, error) {
	result := &core.FetchResult{}

	rows := parseRows(data)
	if len(rows) < 2 {
		result.AddError(core.NewFetchError(errors.ErrorTypeValidation,
			"file contains no data rows").WithContext("filename", filename))
		return result, nil
	}

	header := rows[0]
	cols, fileErr := resolveColumns(header, c.Config())
	if fileErr != nil {
		// Missing required mappings abort before any row processing.
		result.AddError(*fileErr)
		return result, nil
	}

	dateHint := ""
	if cfg := c.Config(); cfg != nil {
		dateHint = cfg.DateFormat
	}

	for i, row := range rows[1:] {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeUnknown, "upload parsing canceled")
		}

		rowNum := i + 1 // 1-indexed data rows
		review, rowErr := c.parseRow(row, header, cols, dateHint, rowNum)
		if rowErr != nil {
			result.AddError(*rowErr)
			continue
		}
		result.Reviews = append(result.Reviews, *review)
	}

	result.SetMetadata("filename", filename)
	result.SetMetadata("rows_total", len(rows)-1)
	result.SetMetadata("reviews_parsed", len(result.Reviews))

	c.Logger().Info("csv upload parsed",
		zap.String("filename", filename),
		zap.Int("rows", len(rows)-1),
		zap.Int("parsed", len(result.Reviews)),
		zap.Int("errors", len(result.Errors)))

	return result, nil
}

// parseRow normalizes one data row, returning exactly one review or one
// row-scoped error.
func (c *Connector) parseRow(row, header []string, cols map[string]int, dateHint string, rowNum int) (*core.NormalizedReview, *core.FetchError) {
	content := strings.TrimSpace(cell(row, cols, fieldContent))
	if content == "" {
		e := core.NewFetchError(errors.ErrorTypeValidation,
			"row "+strconv.Itoa(rowNum)+": content is empty").WithContext("row", rowNum)
		return nil, &e
	}

	rawDate := strings.TrimSpace(cell(row, cols, fieldReviewDate))
	reviewDate, err := parseDate(rawDate, dateHint)
	if err != nil {
		e := core.NewFetchError(errors.TypeOf(err),
			"row "+strconv.Itoa(rowNum)+": "+err.Error()).
			WithContext("row", rowNum).
			WithContext("value", rawDate)
		return nil, &e
	}

	author := strings.TrimSpace(cell(row, cols, fieldAuthor))

	externalID := strings.TrimSpace(cell(row, cols, fieldExternalID))
	if externalID == "" {
		externalID = shared.SynthesizeExternalID(content, reviewDate, author, rowNum)
	}

	review := &core.NormalizedReview{
		ExternalID:       externalID,
		Content:          content,
		Title:            strings.TrimSpace(cell(row, cols, fieldTitle)),
		AuthorName:       author,
		ReviewDate:       reviewDate,
		ResponseText:     strings.TrimSpace(cell(row, cols, fieldResponse)),
		DetectedLanguage: shared.DetectLanguage(content),
		RawData:          rowRawData(row, header),
	}

	if raw := strings.TrimSpace(cell(row, cols, fieldRating)); raw != "" {
		if rating, err := strconv.Atoi(raw); err == nil && rating >= 1 && rating <= 5 {
			review.Rating = &rating
		}
	}

	if raw := strings.TrimSpace(cell(row, cols, fieldResponseDate)); raw != "" {
		if t, err := parseDate(raw, dateHint); err == nil {
			review.ResponseDate = &t
		}
	}

	if raw := strings.TrimSpace(cell(row, cols, fieldLikes)); raw != "" {
		if likes, err := strconv.Atoi(raw); err == nil && likes >= 0 {
			review.LikesCount = likes
		}
	}

	return review, nil
}

// resolveColumns maps normalized field names to column indexes. Explicit
// mapping values match header names case-insensitively; a value that
// matches no header is interpreted as a zero-based column index. The
// required content and reviewDate fields missing is a file-level error.
func resolveColumns(header []string, cfg *config.ConnectorConfig) (map[string]int, *core.FetchError) {
	lower := make([]string, len(header))
	for i, h := range header {
		lower[i] = strings.ToLower(strings.TrimSpace(h))
	}

	find := func(name string) int {
		name = strings.ToLower(strings.TrimSpace(name))
		for i, h := range lower {
			if h == name {
				return i
			}
		}
		return -1
	}

	cols := make(map[string]int)
	var mapping map[string]string
	if cfg != nil {
		mapping = cfg.ColumnMapping
	}

	for field := range defaultAliases {
		if mapped, ok := mapping[field]; ok {
			if idx := find(mapped); idx >= 0 {
				cols[field] = idx
				continue
			}
			// No name match: interpret the mapping value as an index
			if idx, err := strconv.Atoi(strings.TrimSpace(mapped)); err == nil && idx >= 0 && idx < len(header) {
				cols[field] = idx
			}
			continue
		}

		for _, alias := range defaultAliases[field] {
			if idx := find(alias); idx >= 0 {
				cols[field] = idx
				break
			}
		}
	}

	var missing []string
	for _, required := range []string{fieldContent, fieldReviewDate} {
		if _, ok := cols[required]; !ok {
			missing = append(missing, required)
		}
	}
	if len(missing) > 0 {
		e := core.NewFetchError(errors.ErrorTypeValidation,
			"required column(s) not found: "+strings.Join(missing, ", ")).
			WithContext("header", strings.Join(header, ","))
		return nil, &e
	}

	return cols, nil
}

// cell returns a mapped cell value, or "" when unmapped or out of range.
func cell(row []string, cols map[string]int, field string) string {
	idx, ok := cols[field]
	if !ok || idx >= len(row) {
		return ""
	}
	return row[idx]
}

// rowRawData retains the source row keyed by header for audit.
func rowRawData(row, header []string) map[string]interface{} {
	raw := make(map[string]interface{}, len(row))
	for i, v := range row {
		key := "field_" + strconv.Itoa(i)
		if i < len(header) && strings.TrimSpace(header[i]) != "" {
			key = header[i]
		}
		raw[key] = v
	}
	return raw
}
