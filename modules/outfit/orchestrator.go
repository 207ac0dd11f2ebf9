package outfit

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"outfit-stylist-server/modules/common/gemini"
	"outfit-stylist-server/modules/common/utils"
)

// Orchestrator fans one source image out to every category and keeps whatever
// comes back.
type Orchestrator struct {
	images ImageService
	log    zerolog.Logger
	newID  func() string
}

func NewOrchestrator(images ImageService, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		images: images,
		log:    log,
		newID:  uuid.NewString,
	}
}

type generationResult struct {
	imageData []byte
	err       error
	elapsed   time.Duration
}

// Generate issues one request per category concurrently and waits for all of
// them. It fails only when every category fails.
func (o *Orchestrator) Generate(ctx context.Context, source SourceImage) (Batch, error) {
	if source.Data == "" || source.MimeType == "" {
		return nil, ErrNoSourceImage
	}

	imageData, err := utils.DecodeBase64(source.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoSourceImage, err)
	}

	o.log.Info().
		Str("mimeType", source.MimeType).
		Int("bytes", len(imageData)).
		Int("categories", len(Categories)).
		Msg("🚀 [Outfits] Starting parallel outfit generation")

	// 카테고리별 결과 슬롯: 각 goroutine 은 자기 인덱스에만 쓴다
	results := make([]generationResult, len(Categories))

	var wg sync.WaitGroup
	for i, category := range Categories {
		wg.Add(1)
		go func(idx int, category Category) {
			defer wg.Done()

			started := time.Now()
			data, err := o.images.GenerateFromImage(ctx, imageData, source.MimeType, BuildOutfitPrompt(category))
			if err == nil && len(data) == 0 {
				err = ErrEmptyImage
			}
			results[idx] = generationResult{imageData: data, err: err, elapsed: time.Since(started)}
		}(i, category)
	}
	wg.Wait()

	batch := make(Batch, 0, len(Categories))
	for i, result := range results {
		category := Categories[i]
		if result.err != nil {
			o.log.Warn().
				Err(result.err).
				Str("category", string(category)).
				Bool("rateLimited", gemini.IsRateLimited(result.err)).
				Dur("elapsed", result.elapsed).
				Msg("⚠️  [Outfits] Failed to generate outfit, dropping category")
			continue
		}

		batch = append(batch, Outfit{
			ID:          o.newID(),
			Category:    category,
			ImageBase64: base64.StdEncoding.EncodeToString(result.imageData),
		})
		o.log.Info().
			Str("category", string(category)).
			Int("bytes", len(result.imageData)).
			Dur("elapsed", result.elapsed).
			Msg("✅ [Outfits] Outfit generated")
	}

	if len(batch) == 0 {
		o.log.Error().Msg("❌ [Outfits] Every category failed")
		return nil, ErrNoOutfits
	}

	o.log.Info().
		Int("succeeded", len(batch)).
		Int("failed", len(Categories)-len(batch)).
		Msg("🎉 [Outfits] Generation finished")
	return batch, nil
}
