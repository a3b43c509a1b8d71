package domain

import (
	"regexp"
	"time"
)

// Metadata describes one rendition as reported by kimg.
// The zero value is the cleared state.
type Metadata struct {
	Size   int64  `json:"size"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Format string `json:"format"`
}

func (m Metadata) IsZero() bool { return m == Metadata{} }

// UploadResult is what kimg returns for POST /image.
type UploadResult struct {
	Hash string `json:"md5"`
	URL  string `json:"url"`
	Metadata
}

// Rendition is a rendered image and the bytes it was decoded from.
type Rendition struct {
	ContentType string
	Format      string
	Width       int
	Height      int
	Body        []byte
}

var hashPattern = regexp.MustCompile(`^[0-9a-zA-Z]{32}$`)

// ValidHash mirrors kimg's own md5 route constraint.
func ValidHash(h string) bool {
	return hashPattern.MatchString(h)
}

type NotificationLevel string

const (
	LevelInfo    NotificationLevel = "info"
	LevelWarning NotificationLevel = "warning"
	LevelError   NotificationLevel = "error"
)

type NotificationKind string

const (
	KindUploadFailure   NotificationKind = "upload_failure"
	KindOriginLoad      NotificationKind = "origin_load_failure"
	KindDerivedLoad     NotificationKind = "derived_load_failure"
	KindMetadataFetch   NotificationKind = "metadata_fetch_failure"
	KindDeletionFailure NotificationKind = "deletion_failure"
	KindDeleted         NotificationKind = "deleted"
	KindUploaded        NotificationKind = "uploaded"
)

// Notification is a transient user-visible message raised by a session.
type Notification struct {
	ID         string            `json:"id"`
	SessionID  string            `json:"session_id,omitempty"`
	Level      NotificationLevel `json:"level"`
	Kind       NotificationKind  `json:"kind"`
	Message    string            `json:"message"`
	Hash       string            `json:"hash,omitempty"`
	Generation uint64            `json:"generation"`
	CreatedAt  time.Time         `json:"created_at"`
}

type APIError struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		RequestID string `json:"request_id,omitempty"`
	} `json:"error"`
}
