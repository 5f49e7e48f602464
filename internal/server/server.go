// Package server exposes the gateway's HTTP surface: the WhatsApp webhook,
// direct send and status calls, the assistant endpoints, voice
// transcription uploads, health and metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"aina/internal/channel"
	"aina/internal/config"
	"aina/internal/domain"
	"aina/internal/responder"
	"aina/internal/speech"
)

const (
	maxJSONBody  = 10 << 20 // 10MB
	maxAudioSize = 10 << 20 // 10MB
)

var audioFormats = []string{"ogg", "mp3", "wav", "m4a", "aac"}

var assistantFeatures = []string{
	"Análisis Clínico Integral",
	"Formulación Psicológica",
	"Interpretación de Técnicas Proyectivas",
	"Insights Clínicos Profundos",
	"Recomendaciones Terapéuticas",
	"Documentación Clínica",
}

// WhatsApp is the subset of the WhatsApp channel the server mounts.
type WhatsApp interface {
	WebhookPath() string
	Handler() http.Handler
	Deliver(ctx context.Context, to, text string) error
	Status(ctx context.Context) channel.WhatsAppStatus
}

// Assistant is the generator surface behind /api/ai.
type Assistant interface {
	Context(profile *domain.SenderProfile) responder.PromptContext
	Complete(ctx context.Context, pc responder.PromptContext, input string) string
	AnalyzeProjective(ctx context.Context, description, testType string) string
	ClinicalReport(ctx context.Context, patientData, sessionData map[string]any) string
	BackendName() string
}

type Config struct {
	Host           string
	Port           int
	WhatsApp       WhatsApp // nil disables the /api/whatsapp routes
	Assistant      Assistant
	Sessions       domain.SessionStore
	Transcriber    speech.Transcriber
	Language       string
	Model          string
	SpeechProvider string
	Messages       config.Messages
	Metrics        http.Handler // nil disables the endpoint
	MetricsPath    string
	Logger         *slog.Logger
}

type Server struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
	server *http.Server
}

func New(cfg Config) *Server {
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.Language == "" {
		cfg.Language = speech.DefaultLanguage
	}
	return &Server{cfg: cfg, logger: cfg.Logger, now: time.Now}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	if wa := s.cfg.WhatsApp; wa != nil {
		mux.Handle(wa.WebhookPath(), wa.Handler())
		mux.HandleFunc("POST /api/whatsapp/send", s.handleSend)
		mux.HandleFunc("GET /api/whatsapp/status", s.handleWhatsAppStatus)
	}

	if s.cfg.Assistant != nil {
		mux.HandleFunc("POST /api/ai/generate-response", s.handleGenerate)
		mux.HandleFunc("POST /api/ai/analyze-projective", s.handleProjective)
		mux.HandleFunc("POST /api/ai/generate-report", s.handleReport)
		mux.HandleFunc("GET /api/ai/status", s.handleAIStatus)
	}
	mux.HandleFunc("POST /api/ai/save-psychologist", s.handleSaveProfile)
	mux.HandleFunc("GET /api/ai/welcome", s.handleWelcome)

	mux.HandleFunc("POST /api/voice/transcribe", s.handleTranscribe)
	mux.HandleFunc("GET /api/voice/status", s.handleVoiceStatus)

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleRoot)
	if s.cfg.Metrics != nil {
		mux.Handle("GET "+s.cfg.MetricsPath, s.cfg.Metrics)
	}

	return s.withRequestLog(mux)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      150 * time.Second, // generation can be slow
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server started", "addr", addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}

func (s *Server) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		rw.Header().Set("X-Request-Id", id)
		start := time.Now()
		next.ServeHTTP(rw, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", id,
			"elapsed", time.Since(start).Round(time.Millisecond),
		)
	})
}

// --- WhatsApp ---

type sendRequest struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

func (s *Server) handleSend(rw http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if !s.decode(rw, r, &req) {
		return
	}
	if req.To == "" || req.Message == "" {
		writeError(rw, http.StatusBadRequest, "Faltan parámetros requeridos", `Se requiere "to" y "message"`)
		return
	}
	if err := s.cfg.WhatsApp.Deliver(r.Context(), req.To, req.Message); err != nil {
		s.logger.Error("direct send failed", "recipient", req.To, "err", err)
		writeError(rw, http.StatusInternalServerError, "Error enviando mensaje", err.Error())
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{
		"success": true,
		"message": "Mensaje enviado correctamente",
	})
}

func (s *Server) handleWhatsAppStatus(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, map[string]any{
		"success": true,
		"status":  s.cfg.WhatsApp.Status(r.Context()),
	})
}

// --- Assistant ---

type generateRequest struct {
	UserInput      string `json:"userInput"`
	PsychologistID string `json:"psychologistId"`
}

func (s *Server) handleGenerate(rw http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if !s.decode(rw, r, &req) {
		return
	}
	if strings.TrimSpace(req.UserInput) == "" {
		writeError(rw, http.StatusBadRequest, "Falta el input del usuario", "Se requiere el campo userInput")
		return
	}

	var profile *domain.SenderProfile
	if req.PsychologistID != "" {
		p, err := s.profile(r.Context(), req.PsychologistID)
		if err != nil {
			s.logger.Warn("profile lookup failed", "sender", req.PsychologistID, "err", err)
		}
		if domain.StateOf(p) != domain.StateOnboarded {
			s.writeResponse(rw, s.cfg.Messages.Welcome)
			return
		}
		profile = p
	}

	reply := s.cfg.Assistant.Complete(r.Context(), s.cfg.Assistant.Context(profile), req.UserInput)
	s.writeResponse(rw, reply)
}

func (s *Server) writeResponse(rw http.ResponseWriter, reply string) {
	writeJSON(rw, http.StatusOK, map[string]any{
		"success":  true,
		"response": reply,
		"message":  "Respuesta generada correctamente",
	})
}

func (s *Server) profile(ctx context.Context, senderID string) (*domain.SenderProfile, error) {
	if s.cfg.Sessions == nil {
		return nil, nil
	}
	return s.cfg.Sessions.GetProfile(ctx, senderID)
}

type saveProfileRequest struct {
	PsychologistID string `json:"psychologistId"`
	Name           string `json:"name"`
	Specialty      string `json:"specialty"`
	Orientation    string `json:"orientation"`
}

func (s *Server) handleSaveProfile(rw http.ResponseWriter, r *http.Request) {
	var req saveProfileRequest
	if !s.decode(rw, r, &req) {
		return
	}
	if req.PsychologistID == "" || strings.TrimSpace(req.Name) == "" ||
		strings.TrimSpace(req.Specialty) == "" || strings.TrimSpace(req.Orientation) == "" {
		writeError(rw, http.StatusBadRequest, "Faltan campos requeridos",
			"Se requieren psychologistId, name, specialty y orientation")
		return
	}
	if s.cfg.Sessions == nil {
		writeError(rw, http.StatusServiceUnavailable, "Error guardando información", "session store not configured")
		return
	}

	_, err := s.cfg.Sessions.UpsertProfile(r.Context(), req.PsychologistID,
		strings.TrimSpace(req.Name), strings.TrimSpace(req.Specialty), strings.TrimSpace(req.Orientation))
	switch {
	case errors.Is(err, domain.ErrValidation):
		writeError(rw, http.StatusBadRequest, "Faltan campos requeridos", err.Error())
		return
	case err != nil:
		s.logger.Error("profile save failed", "sender", req.PsychologistID, "err", err)
		writeError(rw, http.StatusInternalServerError, "Error guardando información", s.cfg.Messages.ProfileError)
		return
	}
	s.logger.Info("profile saved via api", "sender", req.PsychologistID)
	writeJSON(rw, http.StatusOK, map[string]any{
		"success": true,
		"message": s.cfg.Messages.ProfileSaved,
	})
}

type projectiveRequest struct {
	ImageDescription string `json:"imageDescription"`
	TestType         string `json:"testType"`
}

func (s *Server) handleProjective(rw http.ResponseWriter, r *http.Request) {
	var req projectiveRequest
	if !s.decode(rw, r, &req) {
		return
	}
	if req.ImageDescription == "" || req.TestType == "" {
		writeError(rw, http.StatusBadRequest, "Faltan campos requeridos", "Se requieren imageDescription y testType")
		return
	}
	analysis := s.cfg.Assistant.AnalyzeProjective(r.Context(), req.ImageDescription, req.TestType)
	writeJSON(rw, http.StatusOK, map[string]any{
		"success":  true,
		"analysis": analysis,
		"message":  "Análisis de técnica proyectiva completado",
	})
}

type reportRequest struct {
	PatientData map[string]any `json:"patientData"`
	SessionData map[string]any `json:"sessionData"`
}

func (s *Server) handleReport(rw http.ResponseWriter, r *http.Request) {
	var req reportRequest
	if !s.decode(rw, r, &req) {
		return
	}
	if req.PatientData == nil || req.SessionData == nil {
		writeError(rw, http.StatusBadRequest, "Faltan datos requeridos", "Se requieren patientData y sessionData")
		return
	}
	report := s.cfg.Assistant.ClinicalReport(r.Context(), req.PatientData, req.SessionData)
	writeJSON(rw, http.StatusOK, map[string]any{
		"success": true,
		"report":  report,
		"message": "Informe clínico generado correctamente",
	})
}

func (s *Server) handleWelcome(rw http.ResponseWriter, _ *http.Request) {
	writeJSON(rw, http.StatusOK, map[string]any{
		"success": true,
		"message": s.cfg.Messages.Welcome,
	})
}

func (s *Server) handleAIStatus(rw http.ResponseWriter, _ *http.Request) {
	writeJSON(rw, http.StatusOK, map[string]any{
		"success": true,
		"status": map[string]any{
			"service":  "Aina AI Service",
			"model":    s.cfg.Model,
			"provider": s.cfg.Assistant.BackendName(),
			"features": assistantFeatures,
			"status":   "active",
		},
	})
}

// --- Voice ---

func (s *Server) handleTranscribe(rw http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(rw, r.Body, maxAudioSize+1<<20)
	if err := r.ParseMultipartForm(maxAudioSize); err != nil {
		writeError(rw, http.StatusBadRequest, "No se proporcionó archivo de audio", "Por favor, sube un archivo de audio válido")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("audio")
	if err != nil {
		writeError(rw, http.StatusBadRequest, "No se proporcionó archivo de audio", "Por favor, sube un archivo de audio válido")
		return
	}
	defer file.Close()

	if header.Size > maxAudioSize {
		writeError(rw, http.StatusRequestEntityTooLarge, "Archivo demasiado grande", "El tamaño máximo es 10MB")
		return
	}
	if !allowedAudio(header.Filename, header.Header.Get("Content-Type")) {
		writeError(rw, http.StatusBadRequest, "Formato no soportado",
			"Solo se permiten archivos de audio ("+strings.Join(audioFormats, ", ")+")")
		return
	}

	audio, err := io.ReadAll(io.LimitReader(file, maxAudioSize))
	if err != nil {
		writeError(rw, http.StatusInternalServerError, "Error procesando audio", err.Error())
		return
	}
	if s.cfg.Transcriber == nil {
		writeError(rw, http.StatusServiceUnavailable, "Error procesando audio", domain.ErrTranscriptionUnavailable.Error())
		return
	}

	text, ok := s.cfg.Transcriber.Transcribe(r.Context(), audio, s.cfg.Language)
	if !ok {
		writeError(rw, http.StatusBadRequest, "No se pudo transcribir el audio",
			"El archivo de audio no pudo ser procesado. Verifica que sea un archivo válido.")
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{
		"success":       true,
		"transcription": text,
		"message":       "Audio transcrito correctamente",
	})
}

// allowedAudio requires both the extension and the declared content type
// to name a supported format.
func allowedAudio(filename, contentType string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	contentType = strings.ToLower(contentType)
	var extOK, typeOK bool
	for _, f := range audioFormats {
		if ext == f {
			extOK = true
		}
		if strings.Contains(contentType, f) {
			typeOK = true
		}
	}
	return extOK && typeOK
}

func (s *Server) handleVoiceStatus(rw http.ResponseWriter, _ *http.Request) {
	status := "active"
	if s.cfg.Transcriber == nil {
		status = "unavailable"
	}
	writeJSON(rw, http.StatusOK, map[string]any{
		"success": true,
		"status": map[string]any{
			"service":          "Voice Transcription Service",
			"provider":         s.cfg.SpeechProvider,
			"supportedFormats": audioFormats,
			"maxFileSize":      "10MB",
			"status":           status,
		},
	})
}

// --- General ---

func (s *Server) handleHealth(rw http.ResponseWriter, _ *http.Request) {
	writeJSON(rw, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": s.now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleRoot(rw http.ResponseWriter, _ *http.Request) {
	writeJSON(rw, http.StatusOK, map[string]any{
		"message":   "Aina - Asistente de WhatsApp para Psicólogos",
		"status":    "running",
		"timestamp": s.now().UTC().Format(time.RFC3339),
	})
}

// decode reads a JSON body, answering 400 itself on failure.
func (s *Server) decode(rw http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxJSONBody))
	if err != nil {
		writeError(rw, http.StatusBadRequest, "Solicitud inválida", err.Error())
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeError(rw, http.StatusBadRequest, "JSON inválido", err.Error())
		return false
	}
	return true
}

func writeError(rw http.ResponseWriter, status int, errMsg, message string) {
	writeJSON(rw, status, map[string]string{"error": errMsg, "message": message})
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(v)
}
