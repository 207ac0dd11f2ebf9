package outfit

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"outfit-stylist-server/modules/common/utils"
)

const webpQuality = 85

// Response - 공통 응답 포맷
type Response struct {
	Success      bool    `json:"success"`
	ErrorMessage string  `json:"errorMessage,omitempty"`
	SessionID    string  `json:"sessionId,omitempty"`
	MimeType     string  `json:"mimeType,omitempty"`
	Size         int     `json:"size,omitempty"`
	FileName     string  `json:"fileName,omitempty"`
	Outfits      Batch   `json:"outfits,omitempty"`
	Outfit       *Outfit `json:"outfit,omitempty"`
	Applied      *bool   `json:"applied,omitempty"`
}

// EditRequest - 편집 요청 바디
type EditRequest struct {
	Prompt string `json:"prompt"`
}

type Handler struct {
	service        *Service
	maxUploadBytes int64
	log            zerolog.Logger
}

func NewHandler(service *Service, maxUploadBytes int64, log zerolog.Logger) *Handler {
	return &Handler{service: service, maxUploadBytes: maxUploadBytes, log: log}
}

// RegisterRoutes - 라우트 등록
func (h *Handler) RegisterRoutes(r *mux.Router) {
	api := r.PathPrefix("/api/sessions").Subrouter()
	api.HandleFunc("", h.HandleCreateSession).Methods("POST", "OPTIONS")
	api.HandleFunc("/{sessionId}/source", h.HandleSelectSource).Methods("POST", "OPTIONS")
	api.HandleFunc("/{sessionId}/outfits/generate", h.HandleGenerate).Methods("POST", "OPTIONS")
	api.HandleFunc("/{sessionId}/outfits", h.HandleListOutfits).Methods("GET", "OPTIONS")
	api.HandleFunc("/{sessionId}/outfits/{outfitId}/edit", h.HandleEdit).Methods("POST", "OPTIONS")
	api.HandleFunc("/{sessionId}/outfits/{outfitId}/image", h.HandleImage).Methods("GET", "OPTIONS")
	h.log.Info().Msg("✅ [Outfits] Routes registered: /api/sessions/...")
}

// HandleCreateSession - POST /api/sessions
func (h *Handler) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	sessionID, err := h.service.CreateSession(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, Response{Success: true, SessionID: sessionID})
}

// HandleSelectSource - POST /api/sessions/{sessionId}/source
// multipart "image" 필드 또는 JSON {data, mimeType, fileName}
func (h *Handler) HandleSelectSource(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]

	source, err := ReadSourceImage(r, h.maxUploadBytes)
	if err != nil {
		h.log.Warn().Err(err).Str("session", sessionID).Msg("❌ [Outfits] Rejected upload")
		h.writeError(w, err)
		return
	}
	if err := h.service.SelectSource(r.Context(), sessionID, source); err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, Response{
		Success:  true,
		MimeType: source.MimeType,
		Size:     source.Size(),
		FileName: source.FileName,
	})
}

// HandleGenerate - POST /api/sessions/{sessionId}/outfits/generate
// 3개 카테고리 병렬 생성, 부분 실패는 결과에서 빠질 뿐 에러가 아님
func (h *Handler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]

	batch, err := h.service.Generate(r.Context(), sessionID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Outfits: batch})
}

// HandleListOutfits - GET /api/sessions/{sessionId}/outfits
func (h *Handler) HandleListOutfits(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]

	batch, err := h.service.Outfits(r.Context(), sessionID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Outfits: batch})
}

// HandleEdit - POST /api/sessions/{sessionId}/outfits/{outfitId}/edit
func (h *Handler) HandleEdit(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	sessionID, outfitID := vars["sessionId"], vars["outfitId"]

	var req EditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.Warn().Err(err).Msg("❌ [Edit] Invalid request")
		writeJSON(w, http.StatusBadRequest, Response{ErrorMessage: "Invalid request format"})
		return
	}

	result, err := h.service.Edit(r.Context(), sessionID, outfitID, req.Prompt)
	if err != nil {
		h.writeError(w, err)
		return
	}

	applied := result.Applied
	writeJSON(w, http.StatusOK, Response{Success: true, Outfit: &result.Outfit, Applied: &applied})
}

// HandleImage - GET /api/sessions/{sessionId}/outfits/{outfitId}/image?format=png|webp
func (h *Handler) HandleImage(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	o, err := h.service.Outfit(r.Context(), vars["sessionId"], vars["outfitId"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	data, err := utils.DecodeBase64(o.ImageBase64)
	if err != nil {
		h.writeError(w, err)
		return
	}

	contentType := GeneratedMimeType
	switch format := r.URL.Query().Get("format"); format {
	case "", "png":
	case "webp":
		webpData, err := utils.ConvertPNGToWebP(data, webpQuality)
		if err != nil {
			h.log.Error().Err(err).Str("outfit", o.ID).Msg("❌ [Outfits] WebP conversion failed")
			writeJSON(w, http.StatusInternalServerError, Response{ErrorMessage: "Failed to convert image"})
			return
		}
		data = webpData
		contentType = "image/webp"
	default:
		writeJSON(w, http.StatusBadRequest, Response{ErrorMessage: fmt.Sprintf("Unsupported format: %s", format)})
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// writeError - 도메인 에러를 상태코드 + 사용자 메시지로 변환
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status, message := errorResponse(err, h.maxUploadBytes)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Int("status", status).Msg("❌ [Outfits] Request failed")
	}
	writeJSON(w, status, Response{ErrorMessage: message})
}

func errorResponse(err error, maxUploadBytes int64) (int, string) {
	var editErr *EditError
	switch {
	case errors.As(err, &editErr):
		return http.StatusBadGateway, editErr.Error()
	case errors.Is(err, ErrNoOutfits):
		return http.StatusBadGateway, GenerationFailedMessage
	case errors.Is(err, ErrNoSourceImage):
		return http.StatusBadRequest, "Please select an image first."
	case errors.Is(err, ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge,
			fmt.Sprintf("File is too large. Please select an image smaller than %s.", formatSize(maxUploadBytes))
	case errors.Is(err, ErrUnsupportedImage):
		return http.StatusUnsupportedMediaType, "Unsupported image type. Please select a PNG, JPEG or WebP image."
	case errors.Is(err, ErrGenerationInProgress):
		return http.StatusConflict, "Outfits are already being generated. Please wait."
	case errors.Is(err, ErrSessionNotFound):
		return http.StatusNotFound, "Session not found"
	case errors.Is(err, ErrOutfitNotFound):
		return http.StatusNotFound, "Outfit not found"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

// formatSize - 4194304 -> "4MB", 1536 -> "1.5KB"
func formatSize(n int64) string {
	const (
		kb = 1 << 10
		mb = 1 << 20
	)
	switch {
	case n >= mb:
		return strconv.FormatFloat(float64(n)/mb, 'f', -1, 64) + "MB"
	case n >= kb:
		return strconv.FormatFloat(float64(n)/kb, 'f', -1, 64) + "KB"
	default:
		return strconv.FormatInt(n, 10) + " bytes"
	}
}

func writeJSON(w http.ResponseWriter, status int, body Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
