package handler

import (
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/certificate-request-service/internal/service"
)

// MaxUploadBytes limits an uploaded response document.
const MaxUploadBytes = 10 << 20

type ResponseHandler struct {
	responses *service.ResponseLifecycle
	log       *slog.Logger
}

func NewResponseHandler(e *service.Engine, log *slog.Logger) *ResponseHandler {
	return &ResponseHandler{responses: e.Responses, log: log}
}

// Get returns the response metadata; with ?download=1 it streams the stored file instead.
func (h *ResponseHandler) Get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if download, _ := strconv.ParseBool(c.Query("download")); !download {
		resp, err := h.responses.Get(c.Request.Context(), id)
		if err != nil {
			writeError(c, h.log, err)
			return
		}
		c.JSON(http.StatusOK, resp)
		return
	}
	resp, rc, err := h.responses.Download(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	defer rc.Close()

	ctype := mime.TypeByExtension(path.Ext(resp.FileName))
	if ctype == "" {
		ctype = "application/octet-stream"
	}
	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": resp.FileName}))
	c.Header("X-Response-Revision", strconv.Itoa(resp.Revision))
	c.DataFromReader(http.StatusOK, -1, ctype, rc, nil)
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

// Apply runs generate|upload|sign|revoke|unrevoke. Upload takes multipart field "file".
func (h *ResponseHandler) Apply(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	action := service.ResponseAction(c.Param("action"))
	var payload service.ResponsePayload
	switch action {
	case service.ResponseUpload:
		name, content, ok := readUpload(c)
		if !ok {
			return
		}
		payload.FileName = name
		payload.Content = content
	case service.ResponseRevoke:
		var req reasonRequest
		if !bindOptionalJSON(c, &req) {
			return
		}
		payload.Reason = req.Reason
	case service.ResponseGenerate, service.ResponseSign, service.ResponseUnrevoke:
	default:
		badRequest(c, "unknown response action "+strconv.Quote(string(action)))
		return
	}
	resp, err := h.responses.Apply(c.Request.Context(), id, callerID(c), action, payload)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func readUpload(c *gin.Context) (string, []byte, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadBytes+1<<20)
	fh, err := c.FormFile("file")
	if err != nil {
		badRequest(c, "multipart field \"file\" is required")
		return "", nil, false
	}
	if fh.Size > MaxUploadBytes {
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "invalid_argument", "message": "file exceeds 10 MiB"})
		return "", nil, false
	}
	f, err := fh.Open()
	if err != nil {
		badRequest(c, "cannot read uploaded file")
		return "", nil, false
	}
	defer f.Close()
	content, err := io.ReadAll(io.LimitReader(f, MaxUploadBytes))
	if err != nil {
		badRequest(c, "cannot read uploaded file")
		return "", nil, false
	}
	return fh.Filename, content, true
}
