package hdiutil

import (
	"errors"
	"fmt"
)

// Errors reported by image operations. Test with errors.Is.
var (
	ErrInvalidImage  = errors.New("invalid image")
	ErrCreation      = errors.New("the image was not created properly")
	ErrAttach        = errors.New("the disk did not mount properly")
	ErrMountPoint    = errors.New("the mount point could not be found")
	ErrDetach        = errors.New("disk did not unmount successfully")
	ErrOwnership     = errors.New("ownership could not be enabled")
	ErrClean         = errors.New("contents of the disk could not be removed")
	ErrRename        = errors.New("volume could not be renamed")
	ErrBless         = errors.New("volume could not be blessed")
	ErrInvalidFormat = errors.New("invalid format specified")
	ErrConvert       = errors.New("the image was not successfully converted")
	ErrScan          = errors.New("image could not be scanned properly")
	ErrNotMounted    = errors.New("image is not mounted")
	ErrMounted       = errors.New("image is mounted")
)

// ImageError describes a failed operation on one image.
type ImageError struct {
	Kind    error
	Image   string
	Message string
	Err     error
}

func (e *ImageError) Error() string {
	msg := e.Kind.Error()
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Image == "" {
		return msg
	}
	return fmt.Sprintf("image %s: %s", e.Image, msg)
}

func (e *ImageError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, image, message string, err error) error {
	return &ImageError{Kind: kind, Image: image, Message: message, Err: err}
}
