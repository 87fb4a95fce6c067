package sqlstore

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var (
	invalidTableChars = regexp.MustCompile(`[^a-z0-9_]+`)
	repeatedUnderline = regexp.MustCompile(`_{2,}`)
)

// SanitizeTableName derives a unique table name from a file stem:
// lowercased, non [a-z0-9_] runs replaced by a single underscore, and an
// 8 hex character suffix appended.
func SanitizeTableName(stem string) string {
	cleaned := invalidTableChars.ReplaceAllString(strings.ToLower(stem), "_")
	cleaned = repeatedUnderline.ReplaceAllString(cleaned, "_")
	cleaned = strings.Trim(cleaned, "_")
	if cleaned == "" {
		cleaned = "upload"
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return cleaned + "_" + suffix
}
