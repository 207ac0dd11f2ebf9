package outfit

import (
	"context"
	"encoding/base64"
	"errors"
	"reflect"
	"testing"
	"time"
)

// seededStore returns a store holding one generated batch.
func seededStore(t *testing.T) (*MemoryStore, string) {
	t.Helper()
	ctx := context.Background()
	s := NewMemoryStore()
	sid, _ := s.CreateSession(ctx)
	s.BeginGeneration(ctx, sid)
	batch := Batch{
		{ID: "Casual-outfit-1", Category: CategoryCasual, ImageBase64: base64.StdEncoding.EncodeToString([]byte("old"))},
		{ID: "Business-outfit-1", Category: CategoryBusiness, ImageBase64: base64.StdEncoding.EncodeToString([]byte("suit"))},
	}
	if err := s.FinishGeneration(ctx, sid, batch); err != nil {
		t.Fatalf("FinishGeneration: %v", err)
	}
	return s, sid
}

func TestEditEmptyInstructionIsNoop(t *testing.T) {
	for _, instruction := range []string{"", "   ", "\n\t"} {
		store, sid := seededStore(t)
		images := &fakeImages{editResult: fakeReply{data: []byte("new")}}
		notifier := &recordingNotifier{}
		editor := NewEditor(images, store, notifier, testLogger())

		before, _ := store.Outfit(context.Background(), sid, "Casual-outfit-1")
		result, err := editor.Edit(context.Background(), sid, "Casual-outfit-1", instruction)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Applied {
			t.Fatalf("empty instruction must not apply")
		}
		if images.callCount() != 0 {
			t.Fatalf("empty instruction must not call the model")
		}
		after, _ := store.Outfit(context.Background(), sid, "Casual-outfit-1")
		if !reflect.DeepEqual(before, after) {
			t.Fatalf("outfit changed: %+v -> %+v", before, after)
		}
		if len(notifier.types()) != 0 {
			t.Fatalf("no events expected, got %v", notifier.types())
		}
	}
}

func TestEditSuccessReplacesImage(t *testing.T) {
	store, sid := seededStore(t)
	images := &fakeImages{editResult: fakeReply{data: []byte("sneakers")}}
	notifier := &recordingNotifier{}
	editor := NewEditor(images, store, notifier, testLogger())

	result, err := editor.Edit(context.Background(), sid, "Casual-outfit-1", "change shoes to sneakers")
	if err != nil {
		t.Fatalf("Edit error: %v", err)
	}
	if !result.Applied || result.Outfit.Busy {
		t.Fatalf("unexpected result %+v", result)
	}

	call := images.lastCall()
	if string(call.imageData) != "old" || call.mimeType != GeneratedMimeType || call.instruction != "change shoes to sneakers" {
		t.Fatalf("unexpected model call %+v", call)
	}

	stored, _ := store.Outfit(context.Background(), sid, "Casual-outfit-1")
	got, _ := base64.StdEncoding.DecodeString(stored.ImageBase64)
	if string(got) != "sneakers" || stored.Busy {
		t.Fatalf("unexpected stored outfit %+v", stored)
	}
	if stored.ID != "Casual-outfit-1" || stored.Category != CategoryCasual {
		t.Fatalf("identity must not change: %+v", stored)
	}

	want := []string{EventEditStarted, EventOutfitUpdated}
	if !reflect.DeepEqual(notifier.types(), want) {
		t.Fatalf("events = %v, want %v", notifier.types(), want)
	}
}

func TestEditFailureKeepsImage(t *testing.T) {
	cases := map[string]fakeReply{
		"model error": {err: errors.New("503 unavailable")},
		"no image":    {},
	}
	for name, reply := range cases {
		t.Run(name, func(t *testing.T) {
			store, sid := seededStore(t)
			images := &fakeImages{editResult: reply}
			notifier := &recordingNotifier{}
			editor := NewEditor(images, store, notifier, testLogger())

			before, _ := store.Outfit(context.Background(), sid, "Business-outfit-1")
			_, err := editor.Edit(context.Background(), sid, "Business-outfit-1", "add a tie")

			var editErr *EditError
			if !errors.As(err, &editErr) {
				t.Fatalf("expected *EditError, got %v", err)
			}
			if editErr.Error() != "Failed to edit the Business outfit. Please try again." {
				t.Fatalf("unexpected message %q", editErr.Error())
			}

			after, _ := store.Outfit(context.Background(), sid, "Business-outfit-1")
			if after.ImageBase64 != before.ImageBase64 || after.Busy {
				t.Fatalf("outfit must be unchanged and idle, got %+v", after)
			}

			want := []string{EventEditStarted, EventEditFailed}
			if !reflect.DeepEqual(notifier.types(), want) {
				t.Fatalf("events = %v, want %v", notifier.types(), want)
			}
		})
	}
}

func TestEditBusyOutfitIsNoop(t *testing.T) {
	store, sid := seededStore(t)
	ctx := context.Background()
	if _, ok, _ := store.AcquireOutfit(ctx, sid, "Casual-outfit-1"); !ok {
		t.Fatalf("setup: acquire failed")
	}
	before, _ := store.Outfit(ctx, sid, "Casual-outfit-1")

	images := &fakeImages{editResult: fakeReply{data: []byte("new")}}
	editor := NewEditor(images, store, nil, testLogger())

	result, err := editor.Edit(ctx, sid, "Casual-outfit-1", "change shoes to sneakers")
	if err != nil {
		t.Fatalf("busy edit must not error, got %v", err)
	}
	if result.Applied || !reflect.DeepEqual(result.Outfit, before) {
		t.Fatalf("expected unchanged outfit, got %+v", result)
	}
	if images.callCount() != 0 {
		t.Fatalf("busy outfit must not call the model")
	}
}

func TestEditTwiceWhileInFlight(t *testing.T) {
	store, sid := seededStore(t)
	images := &fakeImages{
		editResult: fakeReply{data: []byte("first")},
		block:      make(chan struct{}),
		entered:    make(chan struct{}, 2),
	}
	editor := NewEditor(images, store, nil, testLogger())

	type outcome struct {
		result EditResult
		err    error
	}
	first := make(chan outcome, 1)
	go func() {
		r, err := editor.Edit(context.Background(), sid, "Casual-outfit-1", "make it red")
		first <- outcome{r, err}
	}()
	<-images.entered

	busy, _ := store.Outfit(context.Background(), sid, "Casual-outfit-1")
	if !busy.Busy {
		t.Fatalf("outfit must be busy while the edit is in flight")
	}

	second, err := editor.Edit(context.Background(), sid, "Casual-outfit-1", "make it blue")
	if err != nil || second.Applied {
		t.Fatalf("second edit must be rejected silently, got %+v, %v", second, err)
	}

	// 다른 코디는 동시에 편집 가능
	other := make(chan outcome, 1)
	go func() {
		r, err := editor.Edit(context.Background(), sid, "Business-outfit-1", "add a tie")
		other <- outcome{r, err}
	}()
	<-images.entered

	close(images.block)
	res := <-first
	if res.err != nil || !res.result.Applied {
		t.Fatalf("first edit should apply, got %+v, %v", res.result, res.err)
	}
	if o := <-other; o.err != nil || !o.result.Applied {
		t.Fatalf("edit on another outfit should apply, got %+v, %v", o.result, o.err)
	}
	if images.callCount() != 2 {
		t.Fatalf("expected exactly 2 model calls, got %d", images.callCount())
	}

	stored, _ := store.Outfit(context.Background(), sid, "Casual-outfit-1")
	got, _ := base64.StdEncoding.DecodeString(stored.ImageBase64)
	if string(got) != "first" || stored.Busy {
		t.Fatalf("first edit result must apply, got %+v", stored)
	}
}

func TestEditUnknownOutfit(t *testing.T) {
	store, sid := seededStore(t)
	editor := NewEditor(&fakeImages{}, store, nil, testLogger())

	if _, err := editor.Edit(context.Background(), sid, "nope", "x"); !errors.Is(err, ErrOutfitNotFound) {
		t.Fatalf("expected ErrOutfitNotFound, got %v", err)
	}
	if _, err := editor.Edit(context.Background(), "missing", "Casual-outfit-1", "x"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestEditClearsBusyFlagAfterStoreOutage(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()
	sid, _ := store.CreateSession(ctx)
	store.BeginGeneration(ctx, sid)
	store.FinishGeneration(ctx, sid, Batch{
		{ID: "Casual-outfit-1", Category: CategoryCasual, ImageBase64: base64.StdEncoding.EncodeToString([]byte("old"))},
	})

	images := &fakeImages{
		editResult: fakeReply{data: []byte("sneakers")},
		block:      make(chan struct{}),
		entered:    make(chan struct{}, 1),
	}
	editor := NewEditor(images, store, nil, testLogger())

	done := make(chan error, 1)
	go func() {
		_, err := editor.Edit(ctx, sid, "Casual-outfit-1", "change shoes to sneakers")
		done <- err
	}()
	<-images.entered

	// 모델 호출 중 Redis 가 내려감
	mr.Close()
	close(images.block)

	err := <-done
	var editErr *EditError
	if !errors.As(err, &editErr) || editErr.Category != CategoryCasual {
		t.Fatalf("expected *EditError for Casual, got %v", err)
	}

	if err := mr.Restart(); err != nil {
		t.Fatalf("restart: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		o, err := store.Outfit(ctx, sid, "Casual-outfit-1")
		if err == nil && !o.Busy {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("busy flag never cleared after restart: %+v, %v", o, err)
		}
		time.Sleep(50 * time.Millisecond)
	}

	next := NewEditor(&fakeImages{editResult: fakeReply{data: []byte("boots")}}, store, nil, testLogger())
	result, err := next.Edit(ctx, sid, "Casual-outfit-1", "change shoes to boots")
	if err != nil || !result.Applied {
		t.Fatalf("edit after recovery: %+v, %v", result, err)
	}
	got, _ := base64.StdEncoding.DecodeString(result.Outfit.ImageBase64)
	if string(got) != "boots" {
		t.Fatalf("unexpected image %q", got)
	}
}
