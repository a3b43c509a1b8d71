package domain

import "errors"

var (
	ErrUploadFailed         = errors.New("upload_failed")
	ErrOriginLoad           = errors.New("origin_load_failed")
	ErrDerivedLoad          = errors.New("derived_load_failed")
	ErrMetadataFetch        = errors.New("metadata_fetch_failed")
	ErrDeleteFailed         = errors.New("delete_failed")
	ErrInvalidHash          = errors.New("invalid_hash")
	ErrNoImage              = errors.New("no_image")
	ErrConfirmationRequired = errors.New("confirmation_required")
	ErrUnknownPanel         = errors.New("unknown_panel")
	ErrInvalidValue         = errors.New("invalid_value")
	ErrSessionClosed        = errors.New("session_closed")
)

// Code returns the API error code for a domain error, or "" when err is not
// one of ours.
func Code(err error) string {
	for _, e := range []error{
		ErrUploadFailed, ErrOriginLoad, ErrDerivedLoad, ErrMetadataFetch,
		ErrDeleteFailed, ErrInvalidHash, ErrNoImage, ErrConfirmationRequired,
		ErrUnknownPanel, ErrInvalidValue, ErrSessionClosed,
	} {
		if errors.Is(err, e) {
			return e.Error()
		}
	}
	return ""
}
