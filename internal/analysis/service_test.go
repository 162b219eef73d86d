package analysis

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"freshrecipe/internal/imagedata"
	"freshrecipe/internal/platform"
	"freshrecipe/internal/recipe"
)

const pastaReply = "Here you go:\n```json\n" + `{
  "isFood": true,
  "foodName": "Spaghetti Carbonara",
  "ingredients": ["spaghetti", "eggs", "pecorino", "guanciale"],
  "recipe": ["Boil pasta", "Fry guanciale", "Mix with eggs and cheese"],
  "cookingTime": "20 minutes",
  "difficulty": "medium",
  "cuisine": "Italian"
}` + "\n```"

// mockCompleter returns a canned reply or delegates to fn.
type mockCompleter struct {
	mu      sync.Mutex
	reply   string
	err     error
	fn      func(ctx context.Context, prompt, imageDataURL string) (string, error)
	calls   int
	lastURL string
}

func (m *mockCompleter) Complete(ctx context.Context, prompt, imageDataURL string) (string, error) {
	m.mu.Lock()
	m.calls++
	m.lastURL = imageDataURL
	fn := m.fn
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, prompt, imageDataURL)
	}
	return m.reply, m.err
}

func (m *mockCompleter) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// failingStore wraps a MemoryStore and fails SaveResult.
type failingStore struct {
	*recipe.MemoryStore
}

func (failingStore) SaveResult(context.Context, *recipe.Result) error {
	return errors.New("disk full")
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func newTestService(completer Completer, store recipe.Store, cfg Config) *Service {
	return NewService(completer, store, cfg, discardLogger())
}

func TestAnalyze_FoodIsPersisted(t *testing.T) {
	store := recipe.NewMemoryStore()
	completer := &mockCompleter{reply: pastaReply}
	svc := newTestService(completer, store, Config{})
	img := testPNG(t, 4, 4)

	res, err := svc.Analyze(context.Background(), Input{Data: img, MimeType: "image/png"})
	require.NoError(t, err)
	require.NotNil(t, res)
	require.True(t, res.Outcome.IsFood())
	assert.Equal(t, "Spaghetti Carbonara", res.Outcome.Record.FoodName)
	assert.Equal(t, recipe.StrategyFencedJSON, res.Outcome.Strategy)
	assert.Equal(t, imagedata.Encode(img, "image/png"), res.ImageDataURL)
	assert.Equal(t, completer.lastURL, res.ImageDataURL)
	assert.Equal(t, imagedata.Hash(img), res.ImageHash)
	assert.NotEmpty(t, res.OperationID)

	current, err := svc.Current(context.Background())
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, res.OperationID, current.OperationID)

	stored, err := svc.Recipe(context.Background(), res.ImageHash)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "Italian", stored.Record.Cuisine)

	list, err := svc.Recipes(context.Background(), "italian", "")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestAnalyze_SniffsMissingMIME(t *testing.T) {
	completer := &mockCompleter{reply: pastaReply}
	svc := newTestService(completer, recipe.NewMemoryStore(), Config{})

	res, err := svc.Analyze(context.Background(), Input{Data: testPNG(t, 2, 2), MimeType: "application/octet-stream"})
	require.NoError(t, err)
	assert.Contains(t, res.ImageDataURL, "data:image/png;base64,")
}

func TestAnalyze_DownscalesWideImages(t *testing.T) {
	completer := &mockCompleter{reply: pastaReply}
	svc := newTestService(completer, recipe.NewMemoryStore(), Config{MaxWidth: 8})
	img := testPNG(t, 32, 16)

	res, err := svc.Analyze(context.Background(), Input{Data: img, MimeType: "image/png"})
	require.NoError(t, err)

	_, sent, err := imagedata.Parse(res.ImageDataURL)
	require.NoError(t, err)
	cfg, _, err := image.DecodeConfig(bytes.NewReader(sent))
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Width)
	// The hash identifies the upload, not the resized copy.
	assert.Equal(t, imagedata.Hash(img), res.ImageHash)
}

func TestAnalyze_ValidationHappensBeforeCompletion(t *testing.T) {
	tests := []struct {
		name    string
		in      Input
		wantErr error
	}{
		{"empty", Input{}, ErrNoImage},
		{"declared pdf", Input{Data: []byte("%PDF-1.4"), MimeType: "application/pdf"}, ErrInvalidImage},
		{"sniffed text", Input{Data: []byte("just some text")}, ErrInvalidImage},
		{"corrupt png", Input{Data: []byte("\x89PNG\r\n\x1a\nbroken"), MimeType: "image/png"}, ErrInvalidImage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			completer := &mockCompleter{reply: pastaReply}
			store := recipe.NewMemoryStore()
			svc := newTestService(completer, store, Config{MaxWidth: 8})

			res, err := svc.Analyze(context.Background(), tt.in)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, res)
			assert.Zero(t, completer.callCount())

			class, _ := Classify(err)
			assert.Equal(t, ClassValidation, class)

			current, err := store.CurrentResult(context.Background())
			require.NoError(t, err)
			assert.Nil(t, current)
		})
	}
}

func TestAnalyze_NotFood(t *testing.T) {
	store := recipe.NewMemoryStore()
	completer := &mockCompleter{reply: `{"isFood": false, "message": "That is a bicycle."}`}
	svc := newTestService(completer, store, Config{})

	res, err := svc.Analyze(context.Background(), Input{Data: testPNG(t, 2, 2), MimeType: "image/png"})
	var notFood *NotFoodError
	require.ErrorAs(t, err, &notFood)
	assert.Equal(t, "That is a bicycle.", notFood.Message)
	require.NotNil(t, res)
	assert.Equal(t, recipe.KindNotFood, res.Outcome.Kind)

	current, err := store.CurrentResult(context.Background())
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, recipe.KindNotFood, current.Outcome.Kind)

	list, err := store.ListRecipes(context.Background(), "", "")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestAnalyze_EndpointError(t *testing.T) {
	store := recipe.NewMemoryStore()
	completer := &mockCompleter{err: &platform.StatusError{Backend: "openrouter", StatusCode: 401, Message: "no auth"}}
	svc := newTestService(completer, store, Config{})

	res, err := svc.Analyze(context.Background(), Input{Data: testPNG(t, 2, 2), MimeType: "image/png"})
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrEndpoint)
	var statusErr *platform.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, 401, statusErr.StatusCode)
	assert.Contains(t, err.Error(), "no auth")

	current, err := store.CurrentResult(context.Background())
	require.NoError(t, err)
	assert.Nil(t, current)
}

func TestAnalyze_Timeout(t *testing.T) {
	completer := &mockCompleter{fn: func(ctx context.Context, _, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	svc := newTestService(completer, recipe.NewMemoryStore(), Config{Timeout: 10 * time.Millisecond})

	_, err := svc.Analyze(context.Background(), Input{Data: testPNG(t, 2, 2), MimeType: "image/png"})
	assert.ErrorIs(t, err, ErrEndpoint)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAnalyze_ExtractionFailurePersistsNothing(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		missing []string
	}{
		{"empty", "   ", nil},
		{"soup without steps", `{"foodName": "Soup", "ingredients": ["water", "salt"]}`, []string{"recipe"}},
		{"prose", "I cannot tell what this is.", []string{"foodName", "ingredients", "recipe"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := recipe.NewMemoryStore()
			svc := newTestService(&mockCompleter{reply: tt.reply}, store, Config{})

			res, err := svc.Analyze(context.Background(), Input{Data: testPNG(t, 2, 2), MimeType: "image/png"})
			assert.Nil(t, res)
			class, _ := Classify(err)
			assert.Equal(t, ClassExtraction, class)

			if tt.missing == nil {
				assert.ErrorIs(t, err, recipe.ErrEmptyResponse)
			} else {
				var extractErr *recipe.ExtractionError
				require.ErrorAs(t, err, &extractErr)
				assert.Equal(t, tt.missing, extractErr.Missing)
			}

			current, err := store.CurrentResult(context.Background())
			require.NoError(t, err)
			assert.Nil(t, current)
		})
	}
}

func TestAnalyze_StoreFailure(t *testing.T) {
	svc := newTestService(&mockCompleter{reply: pastaReply}, failingStore{recipe.NewMemoryStore()}, Config{})

	_, err := svc.Analyze(context.Background(), Input{Data: testPNG(t, 2, 2), MimeType: "image/png"})
	require.Error(t, err)
	class, _ := Classify(err)
	assert.Equal(t, ClassInternal, class)
}

func TestAnalyze_NewRequestSupersedesInFlight(t *testing.T) {
	store := recipe.NewMemoryStore()
	started := make(chan struct{})
	first := true
	var mu sync.Mutex

	completer := &mockCompleter{fn: func(ctx context.Context, _, _ string) (string, error) {
		mu.Lock()
		isFirst := first
		first = false
		mu.Unlock()

		if isFirst {
			close(started)
			<-ctx.Done()
			return "", ctx.Err()
		}
		return pastaReply, nil
	}}
	svc := newTestService(completer, store, Config{})

	firstImg := testPNG(t, 2, 2)
	errCh := make(chan error, 1)
	go func() {
		_, err := svc.Analyze(context.Background(), Input{Data: firstImg, MimeType: "image/png"})
		errCh <- err
	}()

	<-started
	second, err := svc.Analyze(context.Background(), Input{Data: testPNG(t, 3, 3), MimeType: "image/png"})
	require.NoError(t, err)

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrSuperseded)
		class, status := Classify(err)
		assert.Equal(t, ClassSuperseded, class)
		assert.Equal(t, 409, status)
	case <-time.After(5 * time.Second):
		t.Fatal("first analysis did not return")
	}

	current, err := store.CurrentResult(context.Background())
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, second.OperationID, current.OperationID)
}

func TestAnalyze_StaleCompletionIsIgnored(t *testing.T) {
	store := recipe.NewMemoryStore()
	started := make(chan struct{})
	release := make(chan struct{})
	first := true
	var mu sync.Mutex

	// The first call ignores cancellation and answers after the second
	// analysis has already been saved.
	completer := &mockCompleter{fn: func(ctx context.Context, _, _ string) (string, error) {
		mu.Lock()
		isFirst := first
		first = false
		mu.Unlock()

		if isFirst {
			close(started)
			<-release
			return `{"isFood": true, "foodName": "Stale", "ingredients": ["x"], "recipe": ["y"]}`, nil
		}
		return pastaReply, nil
	}}
	svc := newTestService(completer, store, Config{})

	firstImg := testPNG(t, 2, 2)
	errCh := make(chan error, 1)
	go func() {
		_, err := svc.Analyze(context.Background(), Input{Data: firstImg, MimeType: "image/png"})
		errCh <- err
	}()

	<-started
	second, err := svc.Analyze(context.Background(), Input{Data: testPNG(t, 3, 3), MimeType: "image/png"})
	require.NoError(t, err)
	close(release)

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrSuperseded)
	case <-time.After(5 * time.Second):
		t.Fatal("first analysis did not return")
	}

	current, err := store.CurrentResult(context.Background())
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, second.OperationID, current.OperationID)
	assert.Equal(t, "Spaghetti Carbonara", current.Outcome.Record.FoodName)

	list, err := store.ListRecipes(context.Background(), "", "")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Spaghetti Carbonara", list[0].Record.FoodName)
}

func TestEncodeImage(t *testing.T) {
	svc := newTestService(&mockCompleter{}, recipe.NewMemoryStore(), Config{})
	img := testPNG(t, 2, 2)

	dataURL, hash, err := svc.EncodeImage(img, "")
	require.NoError(t, err)
	assert.Equal(t, imagedata.Encode(img, "image/png"), dataURL)
	assert.Equal(t, imagedata.Hash(img), hash)

	_, _, err = svc.EncodeImage([]byte("plain text"), "text/plain")
	assert.ErrorIs(t, err, ErrInvalidImage)

	_, _, err = svc.EncodeImage(nil, "image/png")
	assert.ErrorIs(t, err, ErrNoImage)
}

func TestClear(t *testing.T) {
	store := recipe.NewMemoryStore()
	svc := newTestService(&mockCompleter{reply: pastaReply}, store, Config{})

	_, err := svc.Analyze(context.Background(), Input{Data: testPNG(t, 2, 2), MimeType: "image/png"})
	require.NoError(t, err)
	require.NoError(t, svc.Clear(context.Background()))

	current, err := svc.Current(context.Background())
	require.NoError(t, err)
	assert.Nil(t, current)
}
