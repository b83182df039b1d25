// Package attachment derives display names and content types for files
// that are about to be attached to an outbound email.
package attachment

import (
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// PrefixSeparator joins the uniqueness prefix added on disk to the file name
// the client supplied.
const PrefixSeparator = "__"

const defaultContentType = "application/octet-stream"

var contentTypes = map[string]string{
	".txt":  "text/plain",
	".csv":  "text/csv",
	".html": "text/html",
	".htm":  "text/html",
	".json": "application/json",
	".xml":  "application/xml",
	".pdf":  "application/pdf",
	".zip":  "application/zip",
	".gz":   "application/gzip",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xls":  "application/vnd.ms-excel",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".ppt":  "application/vnd.ms-powerpoint",
	".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
	".svg":  "image/svg+xml",
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".mp4":  "video/mp4",
	".webm": "video/webm",
	".mov":  "video/quicktime",
}

// Resolve returns the name a recipient should see for the file at path and
// its content type. It never fails: unknown extensions fall back to
// application/octet-stream.
func Resolve(path string) (displayName, contentType string) {
	displayName = DisplayName(path)
	return displayName, ContentType(displayName)
}

// DisplayName strips the directory and any uniqueness prefix from path.
func DisplayName(path string) string {
	name := filepath.Base(path)
	if i := strings.LastIndex(name, PrefixSeparator); i >= 0 {
		name = name[i+len(PrefixSeparator):]
	}
	return name
}

func ContentType(name string) string {
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return ct
	}
	return defaultContentType
}

// UniqueName prefixes name so that files with the same client-side name do
// not collide on disk. DisplayName(UniqueName(n)) == n for any n without a
// path separator.
func UniqueName(name string) string {
	return uuid.NewString() + PrefixSeparator + name
}
