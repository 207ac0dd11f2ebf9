package outfit

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image/color"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
)

func multipartRequest(t *testing.T, field, fileName string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile(field, fileName)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	fw.Write(data)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func jsonRequest(t *testing.T, v any) *http.Request {
	t.Helper()
	body, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/upload", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestReadSourceImageMultipart(t *testing.T) {
	data := pngBytes(t, color.Black)

	source, err := ReadSourceImage(multipartRequest(t, "image", "shirt.png", data), 4<<20)
	if err != nil {
		t.Fatalf("ReadSourceImage: %v", err)
	}
	if source.MimeType != "image/png" || source.FileName != "shirt.png" {
		t.Fatalf("unexpected source %+v", source)
	}
	if source.Data != base64.StdEncoding.EncodeToString(data) {
		t.Fatalf("payload mismatch")
	}
	if source.Size() != len(data) {
		t.Fatalf("Size() = %d, want %d", source.Size(), len(data))
	}
}

func TestReadSourceImageJSONDataURL(t *testing.T) {
	data := pngBytes(t, color.Black)
	req := jsonRequest(t, map[string]string{
		"data":     "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(data),
		"mimeType": "image/jpeg",
	})

	source, err := ReadSourceImage(req, 4<<20)
	if err != nil {
		t.Fatalf("ReadSourceImage: %v", err)
	}
	// 클라이언트가 보낸 타입이 아니라 실제 바이트 기준
	if source.MimeType != "image/png" {
		t.Fatalf("expected sniffed image/png, got %s", source.MimeType)
	}
}

func TestReadSourceImageRejects(t *testing.T) {
	png := pngBytes(t, color.Black)
	tooBig := append(append([]byte{}, png...), make([]byte, 2048)...)

	tests := []struct {
		name string
		req  *http.Request
		max  int64
		want error
	}{
		{"multipart too large", multipartRequest(t, "image", "big.png", tooBig), 1024, ErrFileTooLarge},
		{"json too large", jsonRequest(t, map[string]string{"data": base64.StdEncoding.EncodeToString(tooBig)}), 1024, ErrFileTooLarge},
		{"not an image", multipartRequest(t, "image", "notes.txt", []byte("hello world")), 4 << 20, ErrUnsupportedImage},
		{"wrong field", multipartRequest(t, "file", "shirt.png", png), 4 << 20, ErrNoSourceImage},
		{"empty json", jsonRequest(t, map[string]string{}), 4 << 20, ErrNoSourceImage},
		{"bad base64", jsonRequest(t, map[string]string{"data": "%%%"}), 4 << 20, ErrUnsupportedImage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadSourceImage(tt.req, tt.max)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestReadSourceImageUnsupportedContentType(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/upload", bytes.NewReader([]byte("x")))
	req.Header.Set("Content-Type", "text/plain")

	if _, err := ReadSourceImage(req, 4<<20); !errors.Is(err, ErrUnsupportedImage) {
		t.Fatalf("expected ErrUnsupportedImage, got %v", err)
	}
}
