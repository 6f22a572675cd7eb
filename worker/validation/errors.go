package validation

import "errors"

var (
	ErrInvalidFileType   = errors.New("invalid file type")
	ErrFileTooLarge      = errors.New("file size exceeds 50MB limit")
	ErrEmptyFile         = errors.New("file is empty")
	ErrExtensionMismatch = errors.New("file extension does not match content")
)
