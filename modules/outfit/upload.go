package outfit

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"outfit-stylist-server/modules/common/utils"
)

// uploadRequest - JSON 업로드 바디 (data 는 base64 또는 data URL)
type uploadRequest struct {
	Data     string `json:"data"`
	MimeType string `json:"mimeType"`
	FileName string `json:"fileName"`
}

// ReadSourceImage reads an uploaded image from either a multipart form field
// named "image" or a JSON body. Files larger than maxBytes are rejected with
// ErrFileTooLarge and non PNG/JPEG/WebP content with ErrUnsupportedImage. The
// MIME type is always taken from the bytes, never from the client.
func ReadSourceImage(r *http.Request, maxBytes int64) (SourceImage, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	var (
		data     []byte
		fileName string
		err      error
	)
	switch mediaType {
	case "multipart/form-data":
		data, fileName, err = readMultipart(r, maxBytes)
	case "application/json", "":
		data, fileName, err = readJSON(r, maxBytes)
	default:
		return SourceImage{}, fmt.Errorf("%w: content type %s", ErrUnsupportedImage, mediaType)
	}
	if err != nil {
		return SourceImage{}, err
	}

	if len(data) == 0 {
		return SourceImage{}, ErrNoSourceImage
	}
	if int64(len(data)) > maxBytes {
		return SourceImage{}, ErrFileTooLarge
	}

	mimeType, err := utils.DetectMimeType(data)
	if err != nil {
		return SourceImage{}, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}

	return SourceImage{
		Data:     utils.ConvertImageToBase64(data),
		MimeType: mimeType,
		FileName: fileName,
	}, nil
}

func readMultipart(r *http.Request, maxBytes int64) ([]byte, string, error) {
	// 폼 오버헤드 여유분 1MiB
	r.Body = http.MaxBytesReader(nil, r.Body, maxBytes+1<<20)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		if isTooLarge(err) {
			return nil, "", ErrFileTooLarge
		}
		return nil, "", fmt.Errorf("%w: %v", ErrNoSourceImage, err)
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("image")
	if err != nil {
		return nil, "", ErrNoSourceImage
	}
	defer file.Close()

	if header.Size > maxBytes {
		return nil, "", ErrFileTooLarge
	}
	data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read upload: %w", err)
	}
	return data, header.Filename, nil
}

func readJSON(r *http.Request, maxBytes int64) ([]byte, string, error) {
	// base64 는 4/3 배로 커진다
	limit := maxBytes/3*4 + 1<<20
	r.Body = http.MaxBytesReader(nil, r.Body, limit)

	var req uploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if isTooLarge(err) {
			return nil, "", ErrFileTooLarge
		}
		return nil, "", fmt.Errorf("%w: %v", ErrNoSourceImage, err)
	}
	if req.Data == "" {
		return nil, "", ErrNoSourceImage
	}

	data, err := utils.DecodeBase64(req.Data)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	return data, req.FileName, nil
}

func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}
