package domain

import (
	"errors"
	"strings"
)

const MaxFileNameLen = 128

var (
	ErrFileNameEmpty   = errors.New("file name empty")
	ErrFileNameTooLong = errors.New("file name too long")
	ErrFileNameInvalid = errors.New("file name must not contain path separators")
)

// ValidateFileName keeps recording names inside the records directory.
func ValidateFileName(name string) error {
	if len(name) == 0 {
		return ErrFileNameEmpty
	}
	if len(name) > MaxFileNameLen {
		return ErrFileNameTooLong
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return ErrFileNameInvalid
	}
	return nil
}

// RecordingURI builds the media URI of a recorded asset, e.g.
// RecordingURI("file:///tmp/records", "talk", ".webm") == "file:///tmp/records/talk.webm".
func RecordingURI(base, fileName, ext string) string {
	return strings.TrimRight(base, "/") + "/" + fileName + ext
}
