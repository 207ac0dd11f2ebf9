package outfit

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// GenerationFailedMessage is shown when no category produced an outfit.
const GenerationFailedMessage = "Failed to generate outfits. The model may be overloaded. Please try again later."

// Service - 세션 단위 코디 생성/편집 진입점 (HTTP 핸들러가 사용)
type Service struct {
	store        Store
	orchestrator *Orchestrator
	editor       *Editor
	notifier     Notifier
	log          zerolog.Logger
}

func NewService(images ImageService, store Store, notifier Notifier, log zerolog.Logger) *Service {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &Service{
		store:        store,
		orchestrator: NewOrchestrator(images, log),
		editor:       NewEditor(images, store, notifier, log),
		notifier:     notifier,
		log:          log,
	}
}

func (s *Service) CreateSession(ctx context.Context) (string, error) {
	sessionID, err := s.store.CreateSession(ctx)
	if err != nil {
		return "", err
	}
	s.log.Info().Str("session", sessionID).Msg("🆕 [Session] Created")
	return sessionID, nil
}

// SelectSource stores a new source image. The previous batch is discarded.
func (s *Service) SelectSource(ctx context.Context, sessionID string, source SourceImage) error {
	if source.Data == "" || source.MimeType == "" {
		return ErrNoSourceImage
	}
	if err := s.store.SetSource(ctx, sessionID, source); err != nil {
		return err
	}

	s.log.Info().
		Str("session", sessionID).
		Str("mimeType", source.MimeType).
		Int("bytes", source.Size()).
		Msg("📸 [Session] Source image selected")

	s.notifier.Publish(sessionID, Event{
		Type:      EventSourceSelected,
		SessionID: sessionID,
		Timestamp: time.Now(),
	})
	return nil
}

// Generate runs a full generation for the session's current source image and
// stores the resulting batch. Per-category failures are logged and dropped;
// ErrNoOutfits is returned only when every category failed.
func (s *Service) Generate(ctx context.Context, sessionID string) (Batch, error) {
	source, err := s.store.Source(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if source == nil {
		return nil, ErrNoSourceImage
	}

	started, err := s.store.BeginGeneration(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !started {
		return nil, ErrGenerationInProgress
	}

	s.notifier.Publish(sessionID, Event{
		Type:      EventGenerating,
		SessionID: sessionID,
		Timestamp: time.Now(),
	})

	// 외부 호출은 취소/타임아웃 없이 끝까지 기다린다
	callCtx := context.WithoutCancel(ctx)
	batch, genErr := s.orchestrator.Generate(callCtx, *source)
	if genErr != nil {
		batch = Batch{}
	}

	if err := s.store.FinishGeneration(callCtx, sessionID, batch); err != nil {
		return nil, fmt.Errorf("failed to store outfits: %w", err)
	}

	if genErr != nil {
		s.notifier.Publish(sessionID, Event{
			Type:         EventGenerationFailed,
			SessionID:    sessionID,
			ErrorMessage: GenerationFailedMessage,
			Timestamp:    time.Now(),
		})
		return nil, genErr
	}

	s.notifier.Publish(sessionID, Event{
		Type:      EventGenerated,
		SessionID: sessionID,
		Outfits:   batch,
		Timestamp: time.Now(),
	})
	return batch, nil
}

func (s *Service) Outfits(ctx context.Context, sessionID string) (Batch, error) {
	return s.store.Batch(ctx, sessionID)
}

func (s *Service) Outfit(ctx context.Context, sessionID, outfitID string) (Outfit, error) {
	return s.store.Outfit(ctx, sessionID, outfitID)
}

func (s *Service) Edit(ctx context.Context, sessionID, outfitID, instruction string) (EditResult, error) {
	return s.editor.Edit(ctx, sessionID, outfitID, instruction)
}
