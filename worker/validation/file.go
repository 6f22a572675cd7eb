package validation

import (
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"imgbatch/worker/item"
)

const MaxFileSize = 50 * 1024 * 1024

type FileType string

const (
	FileTypePNG  FileType = "png"
	FileTypeJPEG FileType = "jpeg"
	FileTypeGIF  FileType = "gif"
	FileTypeWEBP FileType = "webp"
	FileTypeBMP  FileType = "bmp"
	FileTypeTIFF FileType = "tiff"
)

var mediaTypes = map[string]FileType{
	"image/png":  FileTypePNG,
	"image/jpeg": FileTypeJPEG,
	"image/gif":  FileTypeGIF,
	"image/webp": FileTypeWEBP,
	"image/bmp":  FileTypeBMP,
	"image/tiff": FileTypeTIFF,
}

var extensions = map[string]FileType{
	"png":  FileTypePNG,
	"jpg":  FileTypeJPEG,
	"jpeg": FileTypeJPEG,
	"gif":  FileTypeGIF,
	"webp": FileTypeWEBP,
	"bmp":  FileTypeBMP,
	"tif":  FileTypeTIFF,
	"tiff": FileTypeTIFF,
}

// DetectFileType sniffs the content and returns its image type with the
// detected media type.
func DetectFileType(data []byte) (FileType, string, error) {
	mt := mimetype.Detect(data)
	for m := mt; m != nil; m = m.Parent() {
		if ft, ok := mediaTypes[m.String()]; ok {
			return ft, m.String(), nil
		}
	}
	return "", mt.String(), ErrInvalidFileType
}

func IsAllowedImageType(fileType FileType) bool {
	_, ok := extensions[string(fileType)]
	return ok
}

// Rejection is a file refused before admission.
type Rejection struct {
	Name string
	Err  error
}

func (r Rejection) Error() string {
	return fmt.Sprintf("%s: %v", r.Name, r.Err)
}

func (r Rejection) Unwrap() error { return r.Err }

// Validate checks one file and turns it into a Source.
func Validate(name string, data []byte) (item.Source, error) {
	if len(data) == 0 {
		return item.Source{}, ErrEmptyFile
	}
	if len(data) > MaxFileSize {
		return item.Source{}, ErrFileTooLarge
	}

	ft, mediaType, err := DetectFileType(data)
	if err != nil {
		return item.Source{}, fmt.Errorf("%w: %s", err, mediaType)
	}
	if ext := extensionOf(name); ext != "" {
		if declared, ok := extensions[ext]; ok && declared != ft {
			return item.Source{}, fmt.Errorf("%w: .%s holds %s", ErrExtensionMismatch, ext, ft)
		}
	}
	return item.NewSource(name, mediaType, data), nil
}

// File is a named blob offered for admission.
type File struct {
	Name string
	Data []byte
}

// Filter validates every file, keeping order among the accepted ones.
func Filter(files []File) ([]item.Source, []Rejection) {
	accepted := make([]item.Source, 0, len(files))
	var rejected []Rejection
	for _, f := range files {
		src, err := Validate(f.Name, f.Data)
		if err != nil {
			rejected = append(rejected, Rejection{Name: f.Name, Err: err})
			continue
		}
		accepted = append(accepted, src)
	}
	return accepted, rejected
}

func extensionOf(name string) string {
	i := strings.LastIndex(name, ".")
	if i <= 0 || i == len(name)-1 {
		return ""
	}
	return strings.ToLower(name[i+1:])
}
