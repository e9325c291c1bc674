package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"clinic-chat/internal/chat"
	"clinic-chat/internal/constants"
	"clinic-chat/internal/platform/logger"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
)

// File 上傳結果，可直接作為訊息附件
type File struct {
	Type         chat.Kind `json:"type"`
	URL          string    `json:"url"`
	MimeType     string    `json:"mimeType"`
	Size         int64     `json:"size"`
	Filename     string    `json:"filename"`
	ThumbnailURL string    `json:"thumbnailUrl,omitempty"`
}

// Attachment 轉為訊息附件
func (f *File) Attachment() *chat.Attachment {
	return &chat.Attachment{
		URL:          f.URL,
		ThumbnailURL: f.ThumbnailURL,
		MimeType:     f.MimeType,
		Size:         f.Size,
		Filename:     f.Filename,
	}
}

// Auditor 上傳審計
type Auditor interface {
	LogFileUploaded(ctx context.Context, principalID string, kind chat.Kind, mimeType string, size int64)
}

// Service 附件上傳
type Service struct {
	storage    Storage
	limits     Limits
	thumbWidth int
	auditor    Auditor
	now        func() time.Time
}

// NewService 創建上傳服務；auditor 可為 nil
func NewService(storage Storage, limits Limits, thumbWidth int, auditor Auditor) *Service {
	if thumbWidth <= 0 {
		thumbWidth = constants.DefaultThumbnailWidth
	}
	return &Service{
		storage:    storage,
		limits:     limits.withDefaults(),
		thumbWidth: thumbWidth,
		auditor:    auditor,
		now:        time.Now,
	}
}

// MaxBytes 任何附件的最大大小
func (s *Service) MaxBytes() int64 {
	if s.limits.MaxImageBytes > s.limits.MaxDocumentBytes {
		return s.limits.MaxImageBytes
	}
	return s.limits.MaxDocumentBytes
}

// Upload 驗證並儲存附件；r 最多讀取 MaxBytes()+1 位元組
func (s *Service) Upload(ctx context.Context, p chat.Principal, filename, headerType string, r io.Reader) (*File, error) {
	data, err := io.ReadAll(io.LimitReader(r, s.MaxBytes()+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}

	mimeType, err := DetectMIME(headerType, data)
	if err != nil {
		return nil, err
	}
	kind, err := Classify(mimeType, int64(len(data)), s.limits)
	if err != nil {
		return nil, err
	}

	name := sanitizeFilename(filename)
	key := fmt.Sprintf("chat/%s/%s/%s%s", p.ID, s.now().UTC().Format("2006/01/02"), uuid.New().String(), extensionFor(mimeType))

	url, err := s.storage.Put(ctx, key, mimeType, data)
	if err != nil {
		return nil, fmt.Errorf("store attachment: %w", err)
	}
	out := &File{
		Type:     kind,
		URL:      url,
		MimeType: mimeType,
		Size:     int64(len(data)),
		Filename: name,
	}

	if kind == chat.KindImage {
		out.ThumbnailURL = s.storeThumbnail(ctx, key, data)
	}

	if s.auditor != nil {
		s.auditor.LogFileUploaded(ctx, p.ID, kind, mimeType, out.Size)
	}
	return out, nil
}

// storeThumbnail 縮圖失敗不影響上傳
func (s *Service) storeThumbnail(ctx context.Context, key string, data []byte) string {
	thumb, err := Thumbnail(data, s.thumbWidth)
	if err != nil {
		logger.Debug(ctx, "無法產生縮圖", logger.WithError(err))
		return ""
	}
	url, err := s.storage.Put(ctx, strings.TrimSuffix(key, path.Ext(key))+"_thumb.jpg", "image/jpeg", thumb)
	if err != nil {
		logger.Warning(ctx, "縮圖儲存失敗", logger.WithError(err))
		return ""
	}
	return url
}

// Thumbnail 產生指定寬度的 JPEG 縮圖，不放大較小的圖片
func Thumbnail(data []byte, width int) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	if img.Bounds().Dx() > width {
		img = imaging.Resize(img, width, 0, imaging.Lanczos)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(80)); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

func sanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, name)
	if name == "." || name == "/" || name == "" {
		return "attachment"
	}
	if len([]rune(name)) > 200 {
		name = string([]rune(name)[:200])
	}
	return name
}
