package outfit

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

// fakeImages answers by category, matched against the lowercased category in
// the instruction. Edit instructions fall through to editResult.
type fakeImages struct {
	mu    sync.Mutex
	calls []fakeCall

	byCategory map[Category]fakeReply
	editResult fakeReply

	// block, when set, holds every call until it is closed.
	block   chan struct{}
	entered chan struct{}
}

type fakeCall struct {
	imageData   []byte
	mimeType    string
	instruction string
}

type fakeReply struct {
	data []byte
	err  error
}

func (f *fakeImages) GenerateFromImage(ctx context.Context, imageData []byte, mimeType, instruction string) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fakeCall{imageData: imageData, mimeType: mimeType, instruction: instruction})
	f.mu.Unlock()

	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}

	for category, reply := range f.byCategory {
		if strings.Contains(instruction, "for a "+strings.ToLower(string(category))+" occasion") {
			return reply.data, reply.err
		}
	}
	return f.editResult.data, f.editResult.err
}

func (f *fakeImages) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeImages) lastCall() fakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

// recordingNotifier keeps every published event.
type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (n *recordingNotifier) Publish(sessionID string, event Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.Type)
	}
	return out
}

// pngBytes encodes a tiny solid image so DetectMimeType and WebP conversion
// have real data to work with.
func pngBytes(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for x := 0; x < 4; x++ {
		for y := 0; y < 4; y++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func testSource(t *testing.T) SourceImage {
	t.Helper()
	return SourceImage{
		Data:     base64.StdEncoding.EncodeToString(pngBytes(t, color.White)),
		MimeType: "image/png",
		FileName: "shirt.png",
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
