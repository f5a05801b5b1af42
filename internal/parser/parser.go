package parser

import (
	"bytes"
	"fmt"
	"image"
	"io"
	"path/filepath"
	"strings"
)

// FileKind is the closed set of document types the decoder understands.
type FileKind int

const (
	KindUnknown FileKind = iota
	KindPDF
	KindDOCX
	KindXLSX
	KindImage
)

func (k FileKind) String() string {
	switch k {
	case KindPDF:
		return "pdf"
	case KindDOCX:
		return "docx"
	case KindXLSX:
		return "xlsx"
	case KindImage:
		return "image"
	}
	return "unknown"
}

// SupportedExtensions lists file extensions accepted for upload.
var SupportedExtensions = map[string]bool{
	".pdf":  true,
	".docx": true,
	".xlsx": true,
	".png":  true,
	".jpg":  true,
	".jpeg": true,
}

var imageMIMETypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/jpg":  true,
}

// DetectKind resolves the file kind once from the declared content type and
// filename. Image dispatch goes by MIME type; documents go by extension.
func DetectKind(filename, contentType string) FileKind {
	mt := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	if imageMIMETypes[mt] {
		return KindImage
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return KindPDF
	case ".docx":
		return KindDOCX
	case ".xlsx":
		return KindXLSX
	case ".png", ".jpg", ".jpeg":
		// Browsers sometimes send application/octet-stream for images.
		if mt == "" || mt == "application/octet-stream" {
			return KindImage
		}
	}
	return KindUnknown
}

// IsSupportedExtension checks if a file extension is supported.
func IsSupportedExtension(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return SupportedExtensions[ext]
}

// Upload is one user-supplied file. Body is rewound before every decode, so
// the same Upload may be decoded more than once.
type Upload struct {
	Name        string
	ContentType string
	Body        io.ReadSeeker
}

// ResultKind tags the variant held by a Result.
type ResultKind int

const (
	ResultEmpty ResultKind = iota
	ResultText
	ResultImage
	ResultError
)

func (k ResultKind) String() string {
	switch k {
	case ResultText:
		return "text"
	case ResultImage:
		return "image"
	case ResultError:
		return "error"
	}
	return "empty"
}

// Result is the outcome of decoding one file. Exactly one of Text or Image
// is meaningful, selected by Kind.
type Result struct {
	Kind  ResultKind
	Text  string
	Image image.Image
}

// TextResult wraps extracted text.
func TextResult(s string) Result { return Result{Kind: ResultText, Text: s} }

// ImageResult wraps a decoded raster.
func ImageResult(img image.Image) Result { return Result{Kind: ResultImage, Image: img} }

// ErrorResult records a decode failure as data.
func ErrorResult(err error) Result {
	return Result{Kind: ResultError, Text: "Error: " + err.Error()}
}

// Decoder converts uploads into text or images.
type Decoder struct {
	// MaxImageEdge bounds decoded images; wider images are shrunk to fit a
	// MaxImageEdge x MaxImageEdge box.
	MaxImageEdge int
	// FallbackPdftotext shells out to pdftotext when the Go PDF reader fails.
	FallbackPdftotext bool
}

// NewDecoder returns a decoder with the default 1500px image bound.
func NewDecoder() *Decoder {
	return &Decoder{MaxImageEdge: 1500}
}

// Decode extracts the content of a single upload. It never returns an error
// or panics: failures come back as a ResultError so callers can keep going.
func (d *Decoder) Decode(u Upload) (res Result) {
	if u.Body == nil {
		return Result{}
	}
	defer func() {
		if r := recover(); r != nil {
			res = ErrorResult(fmt.Errorf("decode %s: %v", u.Name, r))
		}
	}()

	if _, err := u.Body.Seek(0, io.SeekStart); err != nil {
		return ErrorResult(fmt.Errorf("rewind: %w", err))
	}

	var err error
	switch DetectKind(u.Name, u.ContentType) {
	case KindImage:
		var img image.Image
		img, err = d.decodeImage(u.Body)
		if err == nil {
			return ImageResult(img)
		}
	case KindPDF:
		var text string
		text, err = d.decodePDF(u.Body, u.Name)
		if err == nil {
			return TextResult(text)
		}
	case KindDOCX:
		var text string
		text, err = decodeDOCX(u.Body)
		if err == nil {
			return TextResult(text)
		}
	case KindXLSX:
		var text string
		text, err = decodeXLSX(u.Body)
		if err == nil {
			return TextResult(text)
		}
	case KindUnknown:
		return Result{}
	}
	return ErrorResult(err)
}

// readerAt adapts the upload body for libraries that want io.ReaderAt+size.
func readerAt(r io.Reader) (io.ReaderAt, int64, error) {
	if ra, ok := r.(interface {
		io.ReaderAt
		io.Seeker
	}); ok {
		size, err := ra.Seek(0, io.SeekEnd)
		if err != nil {
			return nil, 0, err
		}
		if _, err := ra.Seek(0, io.SeekStart); err != nil {
			return nil, 0, err
		}
		return ra, size, nil
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, 0, err
	}
	return bytes.NewReader(data), int64(len(data)), nil
}
