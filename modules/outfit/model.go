package outfit

import (
	"context"
	"time"
)

// Category - 코디 카테고리 (요청 순서 고정)
type Category string

const (
	CategoryCasual   Category = "Casual"
	CategoryBusiness Category = "Business"
	CategoryNightOut Category = "Night Out"
)

// Categories is the fixed request order; batches are always sorted by it.
var Categories = []Category{CategoryCasual, CategoryBusiness, CategoryNightOut}

// GeneratedMimeType is assumed for every generated image sent back for editing.
const GeneratedMimeType = "image/png"

// SourceImage - 사용자가 올린 원본 의류 이미지
type SourceImage struct {
	Data     string `json:"data"`     // base64
	MimeType string `json:"mimeType"` // image/png, image/jpeg, image/webp
	FileName string `json:"fileName,omitempty"`
}

// Size returns the decoded byte length of the payload.
func (s SourceImage) Size() int {
	n := len(s.Data)
	if n == 0 {
		return 0
	}
	padding := 0
	for i := n - 1; i >= 0 && s.Data[i] == '='; i-- {
		padding++
	}
	return n/4*3 - padding
}

// Outfit - 생성된 코디 한 장. ImageBase64 와 Busy 만 변경된다.
type Outfit struct {
	ID          string   `json:"id"`
	Category    Category `json:"type"`
	ImageBase64 string   `json:"imageBase64"`
	Busy        bool     `json:"isEditing"`
}

// Batch - 한 번의 생성 요청 결과 (0~3개, 카테고리당 최대 1개)
type Batch []Outfit

// ImageService is the external image model. Generation and edits share the
// same call shape.
type ImageService interface {
	GenerateFromImage(ctx context.Context, imageData []byte, mimeType, instruction string) ([]byte, error)
}

// Event types pushed to the presentation layer.
const (
	EventSourceSelected   = "source_selected"
	EventGenerating       = "outfits_generating"
	EventGenerated        = "outfits_generated"
	EventGenerationFailed = "outfits_failed"
	EventEditStarted      = "outfit_edit_started"
	EventOutfitUpdated    = "outfit_updated"
	EventEditFailed       = "outfit_edit_failed"
)

// Event - 세션 구독자에게 보내는 상태 변경 알림
type Event struct {
	Type         string    `json:"type"`
	SessionID    string    `json:"sessionId"`
	Outfit       *Outfit   `json:"outfit,omitempty"`
	Outfits      Batch     `json:"outfits,omitempty"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Notifier receives session events. The realtime hub implements it.
type Notifier interface {
	Publish(sessionID string, event Event)
}

type noopNotifier struct{}

func (noopNotifier) Publish(string, Event) {}
