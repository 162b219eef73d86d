package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"freshrecipe/internal/imagedata"
	"freshrecipe/internal/recipe"
)

// Completer sends a prompt and an image to a vision model and returns the
// assistant text.
type Completer interface {
	Complete(ctx context.Context, prompt, imageDataURL string) (string, error)
}

// Config tunes the analysis pipeline.
type Config struct {
	// MaxWidth downscales wider JPEG and PNG uploads. Zero disables it.
	MaxWidth uint
	// Timeout bounds the completion call. Zero means no timeout.
	Timeout time.Duration
	// Prompt overrides RecipePrompt when set.
	Prompt string
}

// Input is one image submitted for analysis.
type Input struct {
	Data     []byte
	MimeType string
}

type Service struct {
	completer Completer
	store     recipe.Store
	extractor *recipe.Extractor
	tracker   *Tracker
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(completer Completer, store recipe.Store, cfg Config, logger *slog.Logger) *Service {
	if cfg.Prompt == "" {
		cfg.Prompt = RecipePrompt
	}
	return &Service{
		completer: completer,
		store:     store,
		extractor: recipe.NewExtractor(),
		tracker:   NewTracker(),
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Analyze encodes the image, asks the completer for a recipe and persists the
// outcome. A non-food image is persisted and returned together with a
// *NotFoodError. Starting a new analysis supersedes any analysis still in
// flight; the older one returns ErrSuperseded and writes nothing.
func (s *Service) Analyze(ctx context.Context, in Input) (*recipe.Result, error) {
	if len(in.Data) == 0 {
		return nil, ErrNoImage
	}
	mimeType, err := s.resolveMIME(in)
	if err != nil {
		return nil, err
	}

	op := s.tracker.Begin(ctx)
	logger := s.logger.With("operation_id", op.ID)
	logger.Info("analysis started", "mime_type", mimeType, "bytes", len(in.Data))

	data, err := imagedata.Downscale(in.Data, mimeType, s.cfg.MaxWidth)
	if err != nil {
		s.tracker.Release(op.ID)
		return nil, fmt.Errorf("%w: %w", ErrInvalidImage, err)
	}
	dataURL := imagedata.Encode(data, mimeType)

	callCtx := op.Ctx
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(op.Ctx, s.cfg.Timeout)
		defer cancel()
	}

	start := s.now()
	text, err := s.completer.Complete(callCtx, s.cfg.Prompt, dataURL)
	if err != nil {
		return nil, s.fail(logger, op, fmt.Errorf("%w: %w", ErrEndpoint, err))
	}
	logger.Debug("completion received", "duration_ms", s.now().Sub(start).Milliseconds(), "chars", len(text))

	outcome, err := s.extractor.Extract(text)
	if err != nil {
		return nil, s.fail(logger, op, fmt.Errorf("failed to extract recipe: %w", err))
	}

	result := &recipe.Result{
		OperationID:  op.ID,
		Outcome:      outcome,
		ImageDataURL: dataURL,
		ImageHash:    imagedata.Hash(in.Data),
		CreatedAt:    s.now().UTC(),
	}

	err = s.tracker.Finish(op.ID, func() error {
		return s.store.SaveResult(op.Ctx, result)
	})
	if err != nil {
		if errors.Is(err, ErrSuperseded) {
			logger.Info("analysis superseded")
			return nil, ErrSuperseded
		}
		logger.Error("failed to save result", "error", err)
		return nil, fmt.Errorf("failed to save result: %w", err)
	}

	logger.Info("analysis finished", "kind", outcome.Kind, "strategy", outcome.Strategy, "image_hash", result.ImageHash)
	if !outcome.IsFood() {
		return result, &NotFoodError{Message: outcome.Message}
	}
	return result, nil
}

// resolveMIME trusts a declared image type and sniffs the bytes otherwise.
func (s *Service) resolveMIME(in Input) (string, error) {
	mimeType := in.MimeType
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = imagedata.DetectMIME(in.Data)
	}
	if err := imagedata.ValidateMIME(mimeType); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidImage, err)
	}
	return mimeType, nil
}

// fail releases op and returns err, or ErrSuperseded when a newer analysis
// already replaced op.
func (s *Service) fail(logger *slog.Logger, op Operation, err error) error {
	if !s.tracker.IsCurrent(op.ID) {
		logger.Info("analysis superseded", "error", err)
		return ErrSuperseded
	}
	s.tracker.Release(op.ID)
	logger.Warn("analysis failed", "error", err)
	return err
}

// EncodeImage validates and encodes an upload without analysing it.
func (s *Service) EncodeImage(data []byte, mimeType string) (dataURL, imageHash string, err error) {
	if len(data) == 0 {
		return "", "", ErrNoImage
	}
	mimeType, err = s.resolveMIME(Input{Data: data, MimeType: mimeType})
	if err != nil {
		return "", "", err
	}
	return imagedata.Encode(data, mimeType), imagedata.Hash(data), nil
}

func (s *Service) Current(ctx context.Context) (*recipe.Result, error) {
	return s.store.CurrentResult(ctx)
}

func (s *Service) Clear(ctx context.Context) error {
	return s.store.ClearResult(ctx)
}

func (s *Service) Recipe(ctx context.Context, imageHash string) (*recipe.StoredRecipe, error) {
	return s.store.GetRecipe(ctx, imageHash)
}

func (s *Service) Recipes(ctx context.Context, cuisine, difficulty string) ([]*recipe.StoredRecipe, error) {
	return s.store.ListRecipes(ctx, cuisine, difficulty)
}
