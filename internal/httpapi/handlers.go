package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"yashubustudio/nutriscan/internal/auth"
	"yashubustudio/nutriscan/internal/ledger"
	"yashubustudio/nutriscan/predictor"
)

type handlers struct {
	predictor Predictor
	records   Records
	auth      Authenticator
	logger    *zap.Logger
	maxUpload int64
}

func (h *handlers) root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "backend is running"})
}

func (h *handlers) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handlers) readyz(c *gin.Context) {
	if h.predictor.Ready() {
		c.JSON(http.StatusOK, gin.H{"status": predictor.StateReady.String()})
		return
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{"status": h.predictor.State().String()})
}

func (h *handlers) register(c *gin.Context) {
	var in auth.RegisterInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "All fields are required"})
		return
	}
	_, err := h.auth.Register(c.Request.Context(), in)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"message": "User registered successfully!"})
	case errors.Is(err, auth.ErrMissingFields):
		c.JSON(http.StatusBadRequest, gin.H{"message": "All fields are required"})
	case errors.Is(err, auth.ErrUserExists):
		c.JSON(http.StatusBadRequest, gin.H{"message": "User already exists"})
	default:
		h.internalError(c, "register", err)
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *handlers) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "User not found"})
		return
	}
	res, err := h.auth.Login(c.Request.Context(), req.Email, req.Password)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{
			"message":   "Login successful",
			"token":     res.Token,
			"firstname": res.User.FirstName,
			"lastname":  res.User.LastName,
			"email":     res.User.Email,
		})
	case errors.Is(err, auth.ErrUserNotFound):
		c.JSON(http.StatusBadRequest, gin.H{"message": "User not found"})
	case errors.Is(err, auth.ErrInvalidPassword):
		c.JSON(http.StatusUnauthorized, gin.H{"message": "Invalid password"})
	default:
		h.internalError(c, "login", err)
	}
}

func (h *handlers) predict(c *gin.Context) {
	// Leave headroom for the multipart envelope around the file itself.
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload+1<<20)
	fh, err := c.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"message": "Image too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"message": "No image uploaded"})
		return
	}
	if fh.Size > h.maxUpload {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"message": "Image too large"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "No image uploaded"})
		return
	}
	defer f.Close()
	raw, err := io.ReadAll(io.LimitReader(f, h.maxUpload+1))
	if err != nil || len(raw) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"message": "No image uploaded"})
		return
	}
	if !strings.HasPrefix(mimetype.Detect(raw).String(), "image/") {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid image"})
		return
	}

	result, recordID, err := h.predictor.PredictFor(c.Request.Context(), c.GetString(ctxIdentity), raw)
	if err != nil {
		h.predictError(c, err)
		return
	}
	body := gin.H{
		"predicted_disease":  result.PredictedDisease,
		"vitamin_deficiency": result.MappedDeficiency,
		"confidence":         result.Confidence,
	}
	if recordID > 0 {
		body["record_id"] = recordID
	}
	c.JSON(http.StatusOK, body)
}

func (h *handlers) predictError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, predictor.ErrDecode):
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid image"})
	case errors.Is(err, predictor.ErrIndexOutOfRange):
		h.logger.Error("classifier configuration defect", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Model configuration error"})
	case errors.Is(err, predictor.ErrModelUnavailable),
		errors.Is(err, predictor.ErrProvisioning),
		errors.Is(err, predictor.ErrLoad):
		c.Header("Retry-After", "5")
		c.JSON(http.StatusServiceUnavailable, gin.H{"message": "Model is not available yet, try again shortly"})
	default:
		h.internalError(c, "predict", err)
	}
}

func (h *handlers) listRecords(c *gin.Context) {
	records, err := h.records.ListFor(c.Request.Context(), c.GetString(ctxIdentity))
	if err != nil {
		h.internalError(c, "list records", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

func (h *handlers) deleteRecord(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid record id"})
		return
	}
	err = h.records.Delete(c.Request.Context(), c.GetString(ctxIdentity), id)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"message": "Record deleted"})
	case errors.Is(err, ledger.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"message": "Record not found"})
	default:
		h.internalError(c, "delete record", err)
	}
}

func (h *handlers) internalError(c *gin.Context, op string, err error) {
	h.logger.Error(op+" failed",
		zap.String("request_id", c.GetString(ctxRequestID)),
		zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"message": "Internal server error"})
}
