package classify

import (
	"strings"

	"content-analysis-pipeline/internal/models"
)

// Category maps a declared content type to an analysis category. Matching is
// substring based so vendor-specific subtypes (application/pdf,
// application/vnd...wordprocessingml...) land in the right bucket. Unknown
// types map to unsupported, never an error.
func Category(contentType string) string {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "text"), strings.Contains(ct, "pdf"), strings.Contains(ct, "word"):
		return models.CategoryText
	case strings.Contains(ct, "image"):
		return models.CategoryImage
	default:
		return models.CategoryUnsupported
	}
}
