package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/healai/heal/internal/models"
	"github.com/healai/heal/internal/types"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Be careful with this in production
	},
}

type Config struct {
	Port string
}

// Server exposes the query pipeline over HTTP. Per-request failures come
// back as structured JSON errors; nothing a single request does can crash
// the process.
type Server struct {
	config   Config
	answerer types.Answerer
	patients types.PatientStore
	memory   types.ConversationStore
}

func New(config Config, answerer types.Answerer, patients types.PatientStore, memory types.ConversationStore) *Server {
	if config.Port == "" {
		config.Port = "8080"
	}
	return &Server{
		config:   config,
		answerer: answerer,
		patients: patients,
		memory:   memory,
	}
}

// Handler builds the route table. Split from Start so tests can drive the
// handlers through httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /", s.handleRoot)
	mux.HandleFunc("POST /api/v1/patients/upload", s.handleUpload)
	mux.HandleFunc("POST /api/v1/patients/{id}/append", s.handleAppend)
	mux.HandleFunc("POST /api/v1/patients/{id}/query", s.handleQuery)
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	return loggingMiddleware(mux)
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:         ":" + s.config.Port,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 300 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Printf("Starting server on port %s", s.config.Port)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// --- request/response shapes ---

type queryRequest struct {
	Query string `json:"query"`
}

type appendRequest struct {
	Text string `json:"text"`
}

type queryResponse struct {
	Answer  string                   `json:"answer"`
	Sources []models.RetrievedSource `json:"sources"`
}

type uploadResponse struct {
	PatientID string `json:"patient_id"`
	Filename  string `json:"filename"`
	Info      string `json:"info"`
}

type appendResponse struct {
	PatientID string `json:"patient_id"`
	Info      string `json:"info"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

// --- handlers ---

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "Medical RAG API is running."})
}

// handleUpload accepts a patient PDF, extracts its text, and stores it as a
// fresh record under a new patient id.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing file upload.")
		return
	}
	defer file.Close()

	if ct := header.Header.Get("Content-Type"); ct != "application/pdf" {
		writeError(w, http.StatusBadRequest, "Invalid file type. Please upload a PDF.")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read the uploaded file.")
		return
	}

	patientID := uuid.NewString()
	if err := s.patients.SaveFromPDF(patientID, data); err != nil {
		log.Printf("upload failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to process and save the uploaded PDF.")
		return
	}

	writeJSON(w, http.StatusOK, uploadResponse{
		PatientID: patientID,
		Filename:  header.Filename,
		Info:      "File processed and saved as text. Use the patient_id for queries.",
	})
}

func (s *Server) handleAppend(w http.ResponseWriter, r *http.Request) {
	patientID := r.PathValue("id")

	var req appendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		writeError(w, http.StatusBadRequest, "A non-empty text field is required.")
		return
	}

	if err := s.patients.Append(patientID, req.Text); err != nil {
		if errors.Is(err, types.ErrPatientNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("Patient with ID '%s' not found.", patientID))
			return
		}
		log.Printf("append failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to update the patient's history.")
		return
	}

	writeJSON(w, http.StatusOK, appendResponse{
		PatientID: patientID,
		Info:      "The patient's history has been successfully updated.",
	})
}

// handleQuery runs the full pipeline for one question. The patient record
// is resolved first: an unknown patient is a 404 and the orchestrator is
// never invoked. Conversation memory is appended only after a successful
// answer, so a failed request leaves no trace in the history.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	patientID := r.PathValue("id")

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Query == "" {
		writeError(w, http.StatusBadRequest, "A non-empty query field is required.")
		return
	}

	record, err := s.patients.Get(patientID)
	if err != nil {
		if errors.Is(err, types.ErrPatientNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("Patient with ID '%s' not found.", patientID))
			return
		}
		log.Printf("record lookup failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to load the patient record.")
		return
	}

	history := s.memory.Get(patientID)

	result, err := s.answerer.Answer(r.Context(), record, history, req.Query)
	if err != nil {
		log.Printf("query failed for patient %s: %v", patientID, err)
		writeError(w, statusFor(err), "Failed to process query. Please try again.")
		return
	}

	s.memory.Append(patientID, req.Query, result.Text)

	writeJSON(w, http.StatusOK, queryResponse{
		Answer:  result.Text,
		Sources: result.Sources,
	})
}

// --- websocket ---

type wsMessage struct {
	Type      string      `json:"type"`
	PatientID string      `json:"patient_id,omitempty"`
	Content   string      `json:"content"`
	Data      interface{} `json:"data,omitempty"`
}

// handleWebSocket serves a persistent chat session. Each inbound frame is a
// {patient_id, content} question; the reply is a status frame followed by
// either an answer frame (with sources attached) or an error frame.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			break
		}

		var msg wsMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			s.sendWS(conn, wsMessage{Type: "error", Content: "malformed message"})
			continue
		}

		s.handleWSQuery(r.Context(), conn, msg)
	}
}

func (s *Server) handleWSQuery(ctx context.Context, conn *websocket.Conn, msg wsMessage) {
	if msg.PatientID == "" || msg.Content == "" {
		s.sendWS(conn, wsMessage{Type: "error", Content: "patient_id and content are required"})
		return
	}

	record, err := s.patients.Get(msg.PatientID)
	if err != nil {
		s.sendWS(conn, wsMessage{Type: "error", Content: fmt.Sprintf("Patient with ID '%s' not found.", msg.PatientID)})
		return
	}

	s.sendWS(conn, wsMessage{Type: "status", Content: "Searching knowledge base..."})

	history := s.memory.Get(msg.PatientID)
	result, err := s.answerer.Answer(ctx, record, history, msg.Content)
	if err != nil {
		log.Printf("ws query failed for patient %s: %v", msg.PatientID, err)
		s.sendWS(conn, wsMessage{Type: "error", Content: "Failed to process query. Please try again."})
		return
	}

	s.memory.Append(msg.PatientID, msg.Content, result.Text)
	s.sendWS(conn, wsMessage{Type: "answer", Content: result.Text, Data: result.Sources})
}

func (s *Server) sendWS(conn *websocket.Conn, msg wsMessage) {
	if err := conn.WriteJSON(msg); err != nil {
		log.Printf("Error sending message: %v", err)
	}
}

// --- helpers ---

// statusFor maps pipeline failures onto HTTP statuses: transient upstream
// failures are 503 so callers know to retry, everything else is 500.
func statusFor(err error) int {
	if errors.Is(err, types.ErrEmbedding) || errors.Is(err, types.ErrModelInvocation) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorResponse{Detail: detail})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %v", r.Method, r.URL.Path, time.Since(start))
	})
}
