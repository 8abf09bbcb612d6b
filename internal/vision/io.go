package vision

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"gocv.io/x/gocv"
)

var (
	imageExtensions = []string{".bmp", ".jpeg", ".jpg", ".png", ".tif", ".tiff", ".webp"}
	videoExtensions = []string{".avi", ".m4v", ".mkv", ".mov", ".mp4", ".webm"}
)

// IsImage reports whether path has an image extension
func IsImage(path string) bool {
	return slices.Contains(imageExtensions, strings.ToLower(filepath.Ext(path)))
}

// IsVideo reports whether path has a video extension
func IsVideo(path string) bool {
	return slices.Contains(videoExtensions, strings.ToLower(filepath.Ext(path)))
}

// FilterImagePaths returns the paths with an image extension, preserving order
func FilterImagePaths(paths []string) []string {
	var images []string
	for _, p := range paths {
		if IsImage(p) {
			images = append(images, p)
		}
	}
	return images
}

// Store reads and writes frames on the local filesystem
type Store struct{}

// ReadFrame decodes an image file into a BGR frame
func (Store) ReadFrame(path string) (Frame, error) {
	mat := gocv.IMRead(path, gocv.IMReadColor)
	defer mat.Close()
	if mat.Empty() {
		return Frame{}, fmt.Errorf("failed to load image %s: %w", path, ErrEmptyFrame)
	}
	return FrameFromMat(mat)
}

// WriteFrame encodes the frame to path, format chosen by extension
func (Store) WriteFrame(path string, frame Frame) error {
	mat, err := frame.ToMat()
	if err != nil {
		return err
	}
	defer mat.Close()

	if !gocv.IMWrite(path, mat) {
		return fmt.Errorf("failed to write image %s", path)
	}
	return nil
}
