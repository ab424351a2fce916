package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/Brownie44l1/plant-api/internal/analyzer"
	"github.com/Brownie44l1/plant-api/internal/events"
	"github.com/Brownie44l1/plant-api/internal/imageproc"
	"github.com/Brownie44l1/plant-api/internal/model"
)

const (
	MsgInvalidImage  = "Image analysis failed. Please upload a valid image."
	MsgInvalidLayout = "Image analysis failed. Please upload a 3-channel color image."
	MsgInternal      = "Image analysis failed due to an internal error."

	// legacyFormField is still accepted when the configured field is absent.
	legacyFormField = "image"
)

var errNoFile = errors.New("no file in form")

type Options struct {
	FormField string
	// Guarded maps failures to JSON error bodies. When false, failures are
	// left to the framework's default 500.
	Guarded bool
}

type Handler struct {
	analyzer  *analyzer.Analyzer
	publisher events.Publisher
	opts      Options
}

func NewHandler(a *analyzer.Analyzer, publisher events.Publisher, opts Options) *Handler {
	if opts.FormField == "" {
		opts.FormField = "file"
	}
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &Handler{
		analyzer:  a,
		publisher: publisher,
		opts:      opts,
	}
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"predictor": h.analyzer.PredictorName(),
	})
}

// Analyze handles POST /analyze.
func (h *Handler) Analyze(c *gin.Context) {
	start := time.Now()
	log := requestLogger(c)

	data, filename, err := h.readUpload(c)
	if errors.Is(err, errNoFile) {
		// request validation, answered before any analysis in both variants
		c.JSON(http.StatusUnprocessableEntity, model.ErrorResponse{
			Error: fmt.Sprintf("No image file provided. Use '%s' as the form field name", h.opts.FormField),
		})
		return
	}

	var (
		result *model.PredictionResult
		report analyzer.Report
	)
	if err != nil {
		// an unreadable upload is not a valid image either
		err = &analyzer.Error{Kind: analyzer.KindDecode, Op: "read", Err: err}
	} else {
		log.WithField("filename", filename).Debugf("received %d bytes", len(data))
		result, report, err = h.analyzer.Analyze(c.Request.Context(), data)
	}

	h.publish(c, events.AnalysisEvent{
		RequestID:  requestID(c),
		Filename:   filename,
		Size:       len(data),
		Format:     report.Format,
		Predictor:  h.analyzer.PredictorName(),
		DurationMs: time.Since(start).Milliseconds(),
		Time:       start.UTC(),
	}, err)

	if err != nil {
		if !h.opts.Guarded {
			_ = c.AbortWithError(http.StatusInternalServerError, err)
			return
		}
		kind := analyzer.KindOf(err)
		log.WithFields(logrus.Fields{
			"filename": filename,
			"kind":     kind.String(),
		}).WithError(err).Warn("image analysis failed")
		h.writeError(c, kind)
		return
	}

	log.WithFields(logrus.Fields{
		"format":    report.Format,
		"width":     report.Width,
		"height":    report.Height,
		"plant":     result.Plant,
		"diagnosis": result.Diagnosis,
	}).Debug("image analyzed")

	c.JSON(http.StatusOK, result)
}

// Predict handles POST /predict with an already normalized tensor.
func (h *Handler) Predict(c *gin.Context) {
	var req model.PredictionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "Invalid JSON"})
		return
	}

	tensor, err := imageproc.NewTensor(req.Tensor, imageproc.InputShape())
	if err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Error: fmt.Sprintf("Expected %d values, got %d", imageproc.TensorSize, len(req.Tensor)),
		})
		return
	}

	result, err := h.analyzer.Predict(c.Request.Context(), tensor)
	if err != nil {
		if !h.opts.Guarded {
			_ = c.AbortWithError(http.StatusInternalServerError, err)
			return
		}
		requestLogger(c).WithError(err).Error("prediction failed")
		h.writeError(c, analyzer.KindOf(err))
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *Handler) writeError(c *gin.Context, kind analyzer.Kind) {
	switch kind {
	case analyzer.KindDecode:
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: MsgInvalidImage})
	case analyzer.KindReshape:
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: MsgInvalidLayout})
	default:
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{Error: MsgInternal})
	}
}

func (h *Handler) readUpload(c *gin.Context) ([]byte, string, error) {
	header, err := c.FormFile(h.opts.FormField)
	if errors.Is(err, http.ErrMissingFile) && h.opts.FormField != legacyFormField {
		header, err = c.FormFile(legacyFormField)
	}
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		return nil, "", errNoFile
	}
	if err != nil {
		return nil, "", fmt.Errorf("parse form: %w", err)
	}

	data, err := readFile(header)
	if err != nil {
		return nil, header.Filename, err
	}
	return data, header.Filename, nil
}

func readFile(header *multipart.FileHeader) ([]byte, error) {
	file, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	return data, nil
}

func (h *Handler) publish(c *gin.Context, ev events.AnalysisEvent, err error) {
	ev.Outcome = events.OutcomeSuccess
	if err != nil {
		ev.Outcome = events.OutcomeFailure
		ev.ErrorKind = analyzer.KindOf(err).String()
	}

	// the event outlives a cancelled request
	ctx := context.WithoutCancel(c.Request.Context())
	if perr := h.publisher.Publish(ctx, ev); perr != nil {
		requestLogger(c).WithError(perr).Warn("failed to publish analysis event")
	}
}
