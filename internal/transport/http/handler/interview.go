package handler

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"interviewsim/internal/app"
	"interviewsim/internal/model"
	"interviewsim/internal/transport/http/response"
)

// socketIDHeader carries the websocket connection id of the request's
// originator so the broadcast fan-out can skip it.
const socketIDHeader = "X-Socket-ID"

var allowedUploadExtensions = map[string]struct{}{
	".pdf":  {},
	".docx": {},
	".doc":  {},
	".txt":  {},
}

type InterviewHandler struct {
	interviewService *app.InterviewService
	documentService  *app.DocumentService
	maxUploadBytes   int64
}

type SendMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

func NewInterviewHandler(
	interviewService *app.InterviewService,
	documentService *app.DocumentService,
	maxUploadBytes int64,
) *InterviewHandler {
	return &InterviewHandler{
		interviewService: interviewService,
		documentService:  documentService,
		maxUploadBytes:   maxUploadBytes,
	}
}

// Start ingests the uploaded documents and opens a new interview. The cv
// part is mandatory; jd and questions are optional.
func (h *InterviewHandler) Start(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	cvDoc, err := h.ingestFormFile(c, "cv", model.DocumentTypeCV)
	if err != nil {
		h.writeUploadError(c, "cv", err)
		return
	}
	if cvDoc == nil {
		response.Error(c, http.StatusBadRequest, response.CodeCVRequired, "cv file is required")
		return
	}

	input := app.StartInterviewInput{
		UserID:       userID,
		CVDocumentID: cvDoc.ID,
		SocketID:     c.GetHeader(socketIDHeader),
	}

	jdDoc, err := h.ingestFormFile(c, "jd", model.DocumentTypeJD)
	if err != nil {
		h.writeUploadError(c, "jd", err)
		return
	}
	if jdDoc != nil {
		input.JDDocumentID = &jdDoc.ID
	}

	questionsDoc, err := h.ingestFormFile(c, "questions", model.DocumentTypeQuestions)
	if err != nil {
		h.writeUploadError(c, "questions", err)
		return
	}
	if questionsDoc != nil {
		input.QuestionsDocumentID = &questionsDoc.ID
	}

	result, err := h.interviewService.StartInterview(c.Request.Context(), input)
	if err != nil {
		h.writeInterviewError(c, err, "start interview failed")
		return
	}
	response.OK(c, result)
}

func (h *InterviewHandler) List(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	sessions, err := h.interviewService.ListSessions(userID)
	if err != nil {
		h.writeInterviewError(c, err, "list interviews failed")
		return
	}
	response.OK(c, sessions)
}

func (h *InterviewHandler) SendMessage(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	result, err := h.interviewService.SubmitUserTurn(c.Request.Context(), app.SendMessageInput{
		UserID:    userID,
		SessionID: sessionID,
		Content:   req.Content,
		SocketID:  c.GetHeader(socketIDHeader),
	})
	if err != nil {
		h.writeInterviewError(c, err, "send message failed")
		return
	}
	if result == nil {
		// Blank input is dropped without a turn.
		response.OK(c, gin.H{"messages": []model.Message{}})
		return
	}
	response.OK(c, result)
}

func (h *InterviewHandler) StreamMessage(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "stream not supported")
		return
	}

	message, err := h.interviewService.StreamUserTurn(c.Request.Context(), app.SendMessageInput{
		UserID:    userID,
		SessionID: sessionID,
		Content:   req.Content,
		SocketID:  c.GetHeader(socketIDHeader),
	}, func(chunk string) error {
		if _, writeErr := c.Writer.Write([]byte("data: " + sanitizeSSE(chunk) + "\n\n")); writeErr != nil {
			return writeErr
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		if _, writeErr := c.Writer.Write([]byte(fmt.Sprintf("event: error\ndata: %s\n\n", sanitizeSSE(err.Error())))); writeErr == nil {
			flusher.Flush()
		}
		return
	}
	if message == nil {
		if _, writeErr := c.Writer.Write([]byte("event: done\ndata: \n\n")); writeErr == nil {
			flusher.Flush()
		}
		return
	}

	if _, writeErr := c.Writer.Write([]byte("event: done\ndata: " + sanitizeSSE(message.Content) + "\n\n")); writeErr == nil {
		flusher.Flush()
	}
}

func (h *InterviewHandler) GetHistory(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		if parsed, parseErr := strconv.Atoi(raw); parseErr == nil {
			limit = parsed
		}
	}

	history, err := h.interviewService.GetHistory(userID, sessionID, limit)
	if err != nil {
		h.writeInterviewError(c, err, "get history failed")
		return
	}
	response.OK(c, history)
}

func (h *InterviewHandler) End(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}

	if err := h.interviewService.EndInterview(userID, sessionID); err != nil {
		h.writeInterviewError(c, err, "end interview failed")
		return
	}
	response.OK(c, gin.H{"session_id": sessionID, "status": model.SessionStatusEnded})
}

// ingestFormFile pulls one optional multipart file and runs it through
// ingestion. A missing part returns (nil, nil).
func (h *InterviewHandler) ingestFormFile(c *gin.Context, field, docType string) (*model.Document, error) {
	fileHeader, err := c.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", app.ErrInvalidInput, err)
	}

	if err := h.validateUpload(fileHeader); err != nil {
		return nil, err
	}

	file, err := fileHeader.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", app.ErrInvalidInput, err)
	}
	defer file.Close()

	return h.documentService.Ingest(c.Request.Context(), app.IngestInput{
		Type:     docType,
		Filename: fileHeader.Filename,
		Reader:   file,
		Size:     fileHeader.Size,
	})
}

func (h *InterviewHandler) validateUpload(fileHeader *multipart.FileHeader) error {
	ext := strings.ToLower(filepath.Ext(fileHeader.Filename))
	if _, ok := allowedUploadExtensions[ext]; !ok {
		return fmt.Errorf("%w: unsupported file extension %q", app.ErrInvalidInput, ext)
	}
	if h.maxUploadBytes > 0 && fileHeader.Size > h.maxUploadBytes {
		return errUploadTooLarge
	}
	return nil
}

var errUploadTooLarge = errors.New("uploaded file exceeds the size limit")

func (h *InterviewHandler) writeUploadError(c *gin.Context, field string, err error) {
	switch {
	case errors.Is(err, errUploadTooLarge):
		response.Error(c, http.StatusRequestEntityTooLarge, response.CodePayloadTooLarge,
			fmt.Sprintf("%s: %s", field, err.Error()))
	case errors.Is(err, app.ErrExtraction):
		response.Error(c, http.StatusBadRequest, response.CodeExtractionFailed,
			fmt.Sprintf("%s: %s", field, err.Error()))
	case errors.Is(err, app.ErrInvalidInput):
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest,
			fmt.Sprintf("%s: %s", field, err.Error()))
	default:
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "document ingestion failed")
	}
}

func (h *InterviewHandler) writeInterviewError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, app.ErrInvalidInput):
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
	case errors.Is(err, app.ErrCVRequired):
		response.Error(c, http.StatusBadRequest, response.CodeCVRequired, err.Error())
	case errors.Is(err, app.ErrDocumentNotFound):
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
	case errors.Is(err, app.ErrSessionNotFound):
		response.Error(c, http.StatusNotFound, response.CodeSessionNotFound, err.Error())
	case errors.Is(err, app.ErrSessionEnded):
		response.Error(c, http.StatusConflict, response.CodeSessionEnded, err.Error())
	case errors.Is(err, app.ErrTurnInFlight):
		response.Error(c, http.StatusConflict, response.CodeTurnInFlight, err.Error())
	case errors.Is(err, app.ErrModelTimeout):
		response.Error(c, http.StatusGatewayTimeout, response.CodeModelTimeout, err.Error())
	case errors.Is(err, app.ErrModelInvocation):
		response.Error(c, http.StatusBadGateway, response.CodeModelUpstream, err.Error())
	default:
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, fallback)
	}
}

func sessionIDParam(c *gin.Context) (uint, bool) {
	sessionID64, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || sessionID64 == 0 {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid session id")
		return 0, false
	}
	return uint(sessionID64), true
}

func sanitizeSSE(input string) string {
	replaced := strings.ReplaceAll(input, "\r\n", "\\n")
	replaced = strings.ReplaceAll(replaced, "\n", "\\n")
	return replaced
}
