package outfit

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"outfit-stylist-server/modules/common/utils"
)

// Editor applies free-text edits to a single generated outfit. The busy flag in
// the Store is the per-outfit lock.
type Editor struct {
	images   ImageService
	store    Store
	notifier Notifier
	log      zerolog.Logger
}

func NewEditor(images ImageService, store Store, notifier Notifier, log zerolog.Logger) *Editor {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &Editor{images: images, store: store, notifier: notifier, log: log}
}

// busy 해제 재시도 (100ms 부터 2배씩)
const (
	releaseRetries    = 5
	releaseRetryDelay = 100 * time.Millisecond
)

// EditResult - Applied 가 false 면 전제조건 불충족으로 아무 것도 하지 않았음
type EditResult struct {
	Outfit  Outfit `json:"outfit"`
	Applied bool   `json:"applied"`
}

// Edit replaces the outfit's image with the model's edit of it. An empty
// instruction or a busy outfit is a silent no-op that returns the stored
// outfit. On failure the previous image is kept and an *EditError is returned.
func (e *Editor) Edit(ctx context.Context, sessionID, outfitID, instruction string) (EditResult, error) {
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		current, err := e.store.Outfit(ctx, sessionID, outfitID)
		if err != nil {
			return EditResult{}, err
		}
		return EditResult{Outfit: current}, nil
	}

	current, acquired, err := e.store.AcquireOutfit(ctx, sessionID, outfitID)
	if err != nil {
		return EditResult{}, err
	}
	if !acquired {
		e.log.Debug().
			Str("session", sessionID).
			Str("outfit", outfitID).
			Msg("⏭️  [Edit] Outfit is busy, ignoring edit")
		return EditResult{Outfit: current}, nil
	}

	// 어떤 경로로 빠져나가도 busy 해제. 성공 시에만 이미지 교체
	settled := false
	callCtx := context.WithoutCancel(ctx)
	defer func() {
		if !settled {
			e.release(callCtx, sessionID, outfitID, nil)
		}
	}()

	e.notifier.Publish(sessionID, Event{
		Type:      EventEditStarted,
		SessionID: sessionID,
		Outfit:    &current,
		Timestamp: time.Now(),
	})

	e.log.Info().
		Str("session", sessionID).
		Str("outfit", outfitID).
		Str("category", string(current.Category)).
		Str("instruction", utils.TruncateString(instruction, 80)).
		Msg("✏️  [Edit] Editing outfit")

	started := time.Now()
	imageData, err := e.callModel(callCtx, current, instruction)
	if err != nil {
		e.log.Warn().
			Err(err).
			Str("outfit", outfitID).
			Str("category", string(current.Category)).
			Dur("elapsed", time.Since(started)).
			Msg("⚠️  [Edit] Edit failed, keeping previous image")

		restored, relErr := e.release(callCtx, sessionID, outfitID, nil)
		settled = true
		if relErr == nil {
			current = restored
		}
		return EditResult{}, e.fail(sessionID, current, err)
	}

	encoded := base64.StdEncoding.EncodeToString(imageData)
	updated, err := e.release(callCtx, sessionID, outfitID, &encoded)
	settled = true
	if err != nil {
		return EditResult{}, e.fail(sessionID, current, err)
	}

	e.log.Info().
		Str("outfit", outfitID).
		Int("bytes", len(imageData)).
		Dur("elapsed", time.Since(started)).
		Msg("✅ [Edit] Outfit updated")

	e.notifier.Publish(sessionID, Event{
		Type:      EventOutfitUpdated,
		SessionID: sessionID,
		Outfit:    &updated,
		Timestamp: time.Now(),
	})
	return EditResult{Outfit: updated, Applied: true}, nil
}

// fail publishes the edit failure and returns it as an *EditError.
func (e *Editor) fail(sessionID string, current Outfit, err error) error {
	editErr := &EditError{Category: current.Category, Err: err}
	current.Busy = false
	e.notifier.Publish(sessionID, Event{
		Type:         EventEditFailed,
		SessionID:    sessionID,
		Outfit:       &current,
		ErrorMessage: editErr.Error(),
		Timestamp:    time.Now(),
	})
	return editErr
}

// release clears the busy flag, storing imageBase64 when it is set. If the
// store call fails the flag is cleared again in the background; the new image
// is not retried, so the previous one stays.
func (e *Editor) release(ctx context.Context, sessionID, outfitID string, imageBase64 *string) (Outfit, error) {
	o, err := e.store.ReleaseOutfit(ctx, sessionID, outfitID, imageBase64)
	if err == nil || errors.Is(err, ErrOutfitNotFound) || errors.Is(err, ErrSessionNotFound) {
		return o, err
	}
	e.log.Error().Err(err).Str("outfit", outfitID).Msg("❌ [Edit] Failed to release busy flag, retrying")
	go e.retryRelease(ctx, sessionID, outfitID)
	return o, err
}

func (e *Editor) retryRelease(ctx context.Context, sessionID, outfitID string) {
	delay := releaseRetryDelay
	for attempt := 1; attempt <= releaseRetries; attempt++ {
		time.Sleep(delay)
		_, err := e.store.ReleaseOutfit(ctx, sessionID, outfitID, nil)
		if err == nil || errors.Is(err, ErrOutfitNotFound) || errors.Is(err, ErrSessionNotFound) {
			e.log.Info().Str("outfit", outfitID).Int("attempt", attempt).Msg("🔓 [Edit] Busy flag released")
			return
		}
		delay *= 2
	}
	e.log.Error().Str("outfit", outfitID).Msg("❌ [Edit] Giving up on busy flag, it clears when the session expires")
}

func (e *Editor) callModel(ctx context.Context, current Outfit, instruction string) ([]byte, error) {
	imageData, err := utils.DecodeBase64(current.ImageBase64)
	if err != nil {
		return nil, err
	}
	data, err := e.images.GenerateFromImage(ctx, imageData, GeneratedMimeType, instruction)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}
	return data, nil
}
