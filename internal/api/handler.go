package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"freshrecipe/internal/analysis"
	"freshrecipe/internal/imagedata"
	"freshrecipe/internal/recipe"
)

// storeTimeout bounds read-through calls to the result store.
const storeTimeout = 5 * time.Second

// Analyzer is the part of analysis.Service the handlers use.
type Analyzer interface {
	Analyze(ctx context.Context, in analysis.Input) (*recipe.Result, error)
	EncodeImage(data []byte, mimeType string) (dataURL, imageHash string, err error)
	Current(ctx context.Context) (*recipe.Result, error)
	Clear(ctx context.Context) error
	Recipe(ctx context.Context, imageHash string) (*recipe.StoredRecipe, error)
	Recipes(ctx context.Context, cuisine, difficulty string) ([]*recipe.StoredRecipe, error)
}

// Handler handles HTTP requests.
type Handler struct {
	analyzer       Analyzer
	maxUploadBytes int64
	logger         *slog.Logger
}

// NewHandler creates a new Handler. maxUploadBytes caps the multipart body.
func NewHandler(analyzer Analyzer, maxUploadBytes int64, logger *slog.Logger) *Handler {
	return &Handler{analyzer: analyzer, maxUploadBytes: maxUploadBytes, logger: logger}
}

// errorResponse is the single JSON shape for every failure.
type errorResponse struct {
	Error   analysis.Class `json:"error"`
	Message string         `json:"message"`
}

// Analyze runs the recipe analysis on the uploaded image.
func (h *Handler) Analyze(c *gin.Context) {
	data, mimeType, ok := h.readUpload(c)
	if !ok {
		return
	}

	result, err := h.analyzer.Analyze(c.Request.Context(), analysis.Input{Data: data, MimeType: mimeType})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// EncodeImage returns the upload as a data URL together with its hash.
func (h *Handler) EncodeImage(c *gin.Context) {
	data, mimeType, ok := h.readUpload(c)
	if !ok {
		return
	}

	dataURL, imageHash, err := h.analyzer.EncodeImage(data, mimeType)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data_url": dataURL, "image_hash": imageHash})
}

// GetResult returns the current result.
func (h *Handler) GetResult(c *gin.Context) {
	result, ok := h.currentResult(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetResultImage serves the image of the current result.
func (h *Handler) GetResultImage(c *gin.Context) {
	result, ok := h.currentResult(c)
	if !ok {
		return
	}

	mimeType, data, err := imagedata.Parse(result.ImageDataURL)
	if err != nil {
		h.writeError(c, fmt.Errorf("stored image is unreadable: %w", err))
		return
	}
	c.Data(http.StatusOK, mimeType, data)
}

// ClearResult forgets the current result. Recipe history is kept.
func (h *Handler) ClearResult(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), storeTimeout)
	defer cancel()

	if err := h.analyzer.Clear(ctx); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetRecipes lists stored recipes, optionally filtered by cuisine and difficulty.
func (h *Handler) GetRecipes(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), storeTimeout)
	defer cancel()

	recipes, err := h.analyzer.Recipes(ctx, c.Query("cuisine"), c.Query("difficulty"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, recipes)
}

// GetRecipe returns a single stored recipe by image hash.
func (h *Handler) GetRecipe(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), storeTimeout)
	defer cancel()

	stored, err := h.analyzer.Recipe(ctx, c.Param("image_hash"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if stored == nil {
		c.JSON(http.StatusNotFound, errorResponse{Error: "not_found", Message: "Recipe not found"})
		return
	}
	c.JSON(http.StatusOK, stored)
}

// Health reports that the server is up.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) currentResult(c *gin.Context) (*recipe.Result, bool) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), storeTimeout)
	defer cancel()

	result, err := h.analyzer.Current(ctx)
	if err != nil {
		h.writeError(c, err)
		return nil, false
	}
	if result == nil {
		c.JSON(http.StatusNotFound, errorResponse{Error: "not_found", Message: "No result yet"})
		return nil, false
	}
	return result, true
}

// readUpload reads the multipart "file" field. On failure it writes the
// response and returns ok=false.
func (h *Handler) readUpload(c *gin.Context) ([]byte, string, bool) {
	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	}

	file, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			c.JSON(http.StatusRequestEntityTooLarge, errorResponse{
				Error:   analysis.ClassValidation,
				Message: fmt.Sprintf("Image is larger than %d bytes.", maxErr.Limit),
			})
			return nil, "", false
		}
		h.writeError(c, fmt.Errorf("%w: %v", analysis.ErrNoImage, err))
		return nil, "", false
	}

	data, err := readFile(file)
	if err != nil {
		h.writeError(c, err)
		return nil, "", false
	}
	return data, file.Header.Get("Content-Type"), true
}

func readFile(file *multipart.FileHeader) ([]byte, error) {
	src, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("open file err: %w", err)
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("read image err: %w", err)
	}
	return data, nil
}

// writeError converts any error into the single JSON error shape.
func (h *Handler) writeError(c *gin.Context, err error) {
	class, status := analysis.Classify(err)
	resp := errorResponse{Error: class, Message: userMessage(class, err)}

	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "path", c.FullPath(), "class", class, "error", err)
	} else {
		h.logger.Info("request rejected", "path", c.FullPath(), "class", class, "error", err)
	}
	c.JSON(status, resp)
}

func userMessage(class analysis.Class, err error) string {
	switch class {
	case analysis.ClassNotFood:
		var notFood *analysis.NotFoodError
		if errors.As(err, &notFood) && notFood.Message != "" {
			return notFood.Message
		}
		return recipe.DefaultNotFoodMessage
	case analysis.ClassValidation:
		if errors.Is(err, analysis.ErrNoImage) {
			return "Please select an image to analyze."
		}
		return "Please upload a valid image file."
	case analysis.ClassEndpoint:
		return "The recipe service is unavailable: " + err.Error()
	case analysis.ClassExtraction:
		return "Could not read a recipe from the response: " + err.Error()
	case analysis.ClassSuperseded:
		return "A newer analysis replaced this one."
	default:
		return "Something went wrong. Please try again."
	}
}
