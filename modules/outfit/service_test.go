package outfit

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func TestServiceGenerateFlow(t *testing.T) {
	ctx := context.Background()
	images := &fakeImages{byCategory: map[Category]fakeReply{
		CategoryCasual:   {data: []byte("casual")},
		CategoryBusiness: {err: errors.New("timeout")},
		CategoryNightOut: {data: []byte("night")},
	}}
	notifier := &recordingNotifier{}
	svc := NewService(images, NewMemoryStore(), notifier, testLogger())

	sid, err := svc.CreateSession(ctx)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	if _, err := svc.Generate(ctx, sid); !errors.Is(err, ErrNoSourceImage) {
		t.Fatalf("expected ErrNoSourceImage, got %v", err)
	}
	if images.callCount() != 0 {
		t.Fatalf("no calls expected before an image is selected")
	}

	if err := svc.SelectSource(ctx, sid, testSource(t)); err != nil {
		t.Fatalf("SelectSource: %v", err)
	}
	batch, err := svc.Generate(ctx, sid)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(batch) != 2 {
		t.Fatalf("expected 2 outfits, got %d", len(batch))
	}

	stored, _ := svc.Outfits(ctx, sid)
	if !reflect.DeepEqual(stored, batch) {
		t.Fatalf("stored batch differs: %+v vs %+v", stored, batch)
	}

	want := []string{EventSourceSelected, EventGenerating, EventGenerated}
	if !reflect.DeepEqual(notifier.types(), want) {
		t.Fatalf("events = %v, want %v", notifier.types(), want)
	}

	// 새 원본 선택 시 배치 폐기
	if err := svc.SelectSource(ctx, sid, testSource(t)); err != nil {
		t.Fatalf("SelectSource: %v", err)
	}
	if stored, _ := svc.Outfits(ctx, sid); len(stored) != 0 {
		t.Fatalf("expected empty batch after new source, got %d", len(stored))
	}
}

func TestServiceGenerateTotalFailure(t *testing.T) {
	ctx := context.Background()
	images := &fakeImages{editResult: fakeReply{err: errors.New("overloaded")}}
	notifier := &recordingNotifier{}
	store := NewMemoryStore()
	svc := NewService(images, store, notifier, testLogger())

	sid, _ := svc.CreateSession(ctx)
	svc.SelectSource(ctx, sid, testSource(t))

	if _, err := svc.Generate(ctx, sid); !errors.Is(err, ErrNoOutfits) {
		t.Fatalf("expected ErrNoOutfits, got %v", err)
	}
	if batch, _ := svc.Outfits(ctx, sid); len(batch) != 0 {
		t.Fatalf("expected empty batch, got %d", len(batch))
	}

	events := notifier.types()
	if events[len(events)-1] != EventGenerationFailed {
		t.Fatalf("expected failure event, got %v", events)
	}

	// 실패 후 재시도 가능해야 한다
	ok, err := store.BeginGeneration(ctx, sid)
	if err != nil || !ok {
		t.Fatalf("generating flag must be cleared after failure: %v, %v", ok, err)
	}
}

func TestServiceRejectsConcurrentGeneration(t *testing.T) {
	ctx := context.Background()
	images := &fakeImages{
		editResult: fakeReply{data: []byte("ok")},
		block:      make(chan struct{}),
		entered:    make(chan struct{}, len(Categories)),
	}
	svc := NewService(images, NewMemoryStore(), nil, testLogger())
	sid, _ := svc.CreateSession(ctx)
	svc.SelectSource(ctx, sid, testSource(t))

	done := make(chan error, 1)
	go func() {
		_, err := svc.Generate(ctx, sid)
		done <- err
	}()
	<-images.entered

	if _, err := svc.Generate(ctx, sid); !errors.Is(err, ErrGenerationInProgress) {
		t.Fatalf("expected ErrGenerationInProgress, got %v", err)
	}
	if err := svc.SelectSource(ctx, sid, testSource(t)); !errors.Is(err, ErrGenerationInProgress) {
		t.Fatalf("expected source change to be rejected, got %v", err)
	}

	close(images.block)
	if err := <-done; err != nil {
		t.Fatalf("first generation failed: %v", err)
	}
}

func TestServiceUnknownSession(t *testing.T) {
	svc := NewService(&fakeImages{}, NewMemoryStore(), nil, testLogger())

	if _, err := svc.Generate(context.Background(), "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if err := svc.SelectSource(context.Background(), "missing", testSource(t)); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}
