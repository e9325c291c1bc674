// Package media accepts chat attachments: it validates type and size,
// stores the object and, for images, a thumbnail.
package media

import (
	"errors"
	"fmt"
	"mime"
	"strings"

	"clinic-chat/internal/chat"
	"clinic-chat/internal/constants"

	"github.com/gabriel-vasile/mimetype"
)

var (
	// ErrUnsupportedType 不允許的檔案類型
	ErrUnsupportedType = errors.New("unsupported file type")
	// ErrTooLarge 檔案超過大小限制
	ErrTooLarge = errors.New("file too large")
	// ErrEmpty 空檔案
	ErrEmpty = errors.New("empty file")
	// ErrTypeMismatch 宣告的類型與檔案內容不符
	ErrTypeMismatch = fmt.Errorf("%w: content does not match declared type", ErrUnsupportedType)
)

// containerTypes 內容判斷只能辨識到容器格式時，仍接受對應的文件類型
var containerTypes = map[string]string{
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": "application/zip",
	"application/msword": "application/x-ole-storage",
}

var imageTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

var documentTypes = map[string]string{
	"application/pdf":    ".pdf",
	"text/plain":         ".txt",
	"application/msword": ".doc",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": ".docx",
}

// Limits 上傳大小限制
type Limits struct {
	MaxImageBytes    int64
	MaxDocumentBytes int64
}

func (l Limits) withDefaults() Limits {
	if l.MaxImageBytes <= 0 {
		l.MaxImageBytes = constants.DefaultMaxImageBytes
	}
	if l.MaxDocumentBytes <= 0 {
		l.MaxDocumentBytes = constants.DefaultMaxDocumentBytes
	}
	return l
}

// DetectMIME 決定附件類型
// 沒有標頭時以內容判斷；標頭為允許的類型時，內容必須屬於同一類型
func DetectMIME(header string, data []byte) (string, error) {
	sniffed := mimetype.Detect(data)
	declared, _, err := mime.ParseMediaType(header)
	declared = strings.ToLower(declared)
	if err != nil || declared == "" || declared == "application/octet-stream" {
		mt, _, _ := mime.ParseMediaType(sniffed.String())
		return strings.ToLower(mt), nil
	}
	if len(data) == 0 || extensionFor(declared) == "" {
		return declared, nil
	}
	if matches(sniffed, declared) {
		return declared, nil
	}
	return "", fmt.Errorf("%w: declared %s, detected %s", ErrTypeMismatch, declared, sniffed.String())
}

// matches 比對內容判斷結果及其上層類型，例如 text/html 屬於 text/plain
func matches(sniffed *mimetype.MIME, declared string) bool {
	container := containerTypes[declared]
	for m := sniffed; m != nil; m = m.Parent() {
		if m.Is(declared) || (container != "" && m.Is(container)) {
			return true
		}
	}
	return false
}

// Classify 依類型與大小決定附件種類
func Classify(mimeType string, size int64, limits Limits) (chat.Kind, error) {
	limits = limits.withDefaults()
	if size <= 0 {
		return "", ErrEmpty
	}
	if _, ok := imageTypes[mimeType]; ok {
		if size > limits.MaxImageBytes {
			return "", fmt.Errorf("%w: images are limited to %d MB", ErrTooLarge, limits.MaxImageBytes>>20)
		}
		return chat.KindImage, nil
	}
	if _, ok := documentTypes[mimeType]; ok {
		if size > limits.MaxDocumentBytes {
			return "", fmt.Errorf("%w: documents are limited to %d MB", ErrTooLarge, limits.MaxDocumentBytes>>20)
		}
		return chat.KindFile, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedType, mimeType)
}

func extensionFor(mimeType string) string {
	if ext, ok := imageTypes[mimeType]; ok {
		return ext
	}
	return documentTypes[mimeType]
}
