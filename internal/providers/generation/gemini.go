package generation

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/infra"
)

// Options controls how the Gemini generation client is configured.
type Options struct {
	APIKey          string
	BaseURL         string
	TextModel       string
	ImageModel      string
	VideoModel      string
	PollInterval    time.Duration
	MaxPollAttempts int
	HTTPClient      *http.Client
	Logger          *infra.Logger
}

// Gemini provides a facade over the Gemini and Veo APIs so the pipeline can
// focus on orchestration. When no API key is configured, every operation
// returns deterministic synthetic results instead, which keeps the full
// pipeline (scene rows, event log, SSE replay) exercised in local and CI
// environments.
type Gemini struct {
	apiKey          string
	baseURL         string
	textModel       string
	imageModel      string
	videoModel      string
	pollInterval    time.Duration
	maxPollAttempts int
	httpClient      *http.Client
	logger          *infra.Logger
}

// NewGemini constructs a generation client with sane defaults.
func NewGemini(opts Options) (*Gemini, error) {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}

	textModel := opts.TextModel
	if textModel == "" {
		textModel = "gemini-3-pro-preview"
	}
	imageModel := opts.ImageModel
	if imageModel == "" {
		imageModel = "gemini-3-pro-image-preview"
	}
	videoModel := opts.VideoModel
	if videoModel == "" {
		videoModel = "veo-3.1-generate-preview"
	}

	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = 10 * time.Second
	}
	maxPollAttempts := opts.MaxPollAttempts
	if maxPollAttempts <= 0 {
		maxPollAttempts = 60
	}

	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}

	return &Gemini{
		apiKey:          strings.TrimSpace(opts.APIKey),
		baseURL:         baseURL,
		textModel:       textModel,
		imageModel:      imageModel,
		videoModel:      videoModel,
		pollInterval:    pollInterval,
		maxPollAttempts: maxPollAttempts,
		httpClient:      client,
		logger:          logger,
	}, nil
}

// --- wire types ---

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts,omitempty"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
	FileData   *geminiFileData   `json:"fileData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

type geminiFileData struct {
	MimeType string `json:"mimeType,omitempty"`
	FileURI  string `json:"fileUri,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature        float64  `json:"temperature,omitempty"`
	ResponseMimeType   string   `json:"responseMimeType,omitempty"`
	ResponseModalities []string `json:"responseModalities,omitempty"`
}

type geminiGenerateContentRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
}

type geminiGenerateContentResponse struct {
	Candidates []geminiCandidate `json:"candidates"`
}

type veoMedia struct {
	BytesBase64Encoded string `json:"bytesBase64Encoded,omitempty"`
	FileURI            string `json:"fileUri,omitempty"`
	MimeType           string `json:"mimeType,omitempty"`
}

type veoInstance struct {
	Prompt string    `json:"prompt"`
	Image  *veoMedia `json:"image,omitempty"`
	Video  *veoMedia `json:"video,omitempty"`
}

type veoParameters struct {
	AspectRatio     string `json:"aspectRatio,omitempty"`
	DurationSeconds int    `json:"durationSeconds,omitempty"`
}

type veoPredictRequest struct {
	Instances  []veoInstance  `json:"instances"`
	Parameters *veoParameters `json:"parameters,omitempty"`
}

type veoOperation struct {
	Name     string           `json:"name"`
	Done     bool             `json:"done"`
	Error    *apiErrorDetail  `json:"error,omitempty"`
	Response *veoOperationRes `json:"response,omitempty"`
}

type veoOperationRes struct {
	GenerateVideoResponse *struct {
		GeneratedSamples []struct {
			Video veoMedia `json:"video"`
		} `json:"generatedSamples"`
	} `json:"generateVideoResponse,omitempty"`
}

type apiErrorDetail struct {
	Code    int    `json:"code,omitempty"`
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
}

type apiErrorResponse struct {
	Error apiErrorDetail `json:"error"`
}

// --- operations ---

// PlanScript asks the text model for a structured multi-scene script.
// Planning failures are fatal for the job; there is no retry at this layer.
func (g *Gemini) PlanScript(ctx context.Context, req PlanRequest) (*domain.ScriptPlan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if g.apiKey == "" {
		return g.syntheticPlan(req), nil
	}

	payload := geminiGenerateContentRequest{
		Contents: []geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: buildPlanPrompt(req)}},
		}},
		GenerationConfig: &geminiGenerationConfig{
			Temperature:      0.7,
			ResponseMimeType: "application/json",
		},
	}

	var response geminiGenerateContentResponse
	path := fmt.Sprintf("/models/%s:generateContent", url.PathEscape(g.textModel))
	if err := g.invoke(ctx, path, payload, &response); err != nil {
		return nil, fmt.Errorf("plan script: %w", err)
	}

	text := firstText(response)
	if text == "" {
		return nil, fmt.Errorf("plan script: empty planner response")
	}

	var plan domain.ScriptPlan
	if err := json.Unmarshal([]byte(text), &plan); err != nil {
		return nil, fmt.Errorf("plan script: decode plan: %w", err)
	}
	normalizePlan(&plan, req)

	g.logger.Debug().
		Str("model", g.textModel).
		Str("title", plan.Title).
		Int("scenes", len(plan.Scenes)).
		Msg("generation: script planned")

	return &plan, nil
}

// GenerateSceneImage produces a scene's first frame, optionally conditioned
// on a character reference image for visual consistency.
func (g *Gemini) GenerateSceneImage(ctx context.Context, req ImageRequest) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if g.apiKey == "" {
		return g.syntheticImage(req), nil
	}

	parts := []geminiPart{}
	if len(req.Reference) > 0 {
		parts = append(parts,
			geminiPart{Text: "Use this character reference for consistency:"},
			geminiPart{InlineData: &geminiInlineData{
				MimeType: "image/png",
				Data:     base64.StdEncoding.EncodeToString(req.Reference),
			}},
		)
	}
	parts = append(parts, geminiPart{Text: buildImagePrompt(req)})

	payload := geminiGenerateContentRequest{
		Contents:         []geminiContent{{Role: "user", Parts: parts}},
		GenerationConfig: &geminiGenerationConfig{ResponseModalities: []string{"IMAGE"}},
	}

	var response geminiGenerateContentResponse
	path := fmt.Sprintf("/models/%s:generateContent", url.PathEscape(g.imageModel))
	if err := g.invoke(ctx, path, payload, &response); err != nil {
		return nil, fmt.Errorf("generate scene image: %w", err)
	}

	for _, candidate := range response.Candidates {
		for _, part := range candidate.Content.Parts {
			if part.InlineData != nil && part.InlineData.Data != "" {
				data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
				if err != nil {
					return nil, fmt.Errorf("generate scene image: decode inline data: %w", err)
				}
				g.logger.Debug().
					Str("request_id", req.RequestID).
					Int("bytes", len(data)).
					Msg("generation: scene image generated")
				return data, nil
			}
			if part.FileData != nil && part.FileData.FileURI != "" {
				data, _, err := g.downloadFile(ctx, part.FileData.FileURI)
				if err != nil {
					return nil, fmt.Errorf("generate scene image: %w", err)
				}
				return data, nil
			}
		}
	}

	return nil, fmt.Errorf("generate scene image: no image in response")
}

// GenerateVideoFromImage starts a Veo operation seeded with a first frame and
// polls it to completion. The returned handle references the produced video
// and is required to request an extension.
func (g *Gemini) GenerateVideoFromImage(ctx context.Context, req VideoRequest) (*VideoResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if g.apiKey == "" {
		return g.syntheticVideo(req.RequestID, req.Prompt, ""), nil
	}

	payload := veoPredictRequest{
		Instances: []veoInstance{{
			Prompt: req.Prompt,
			Image: &veoMedia{
				BytesBase64Encoded: base64.StdEncoding.EncodeToString(req.Image),
				MimeType:           "image/png",
			},
		}},
		Parameters: &veoParameters{AspectRatio: req.AspectRatio},
	}
	return g.runVideoOperation(ctx, payload, req.Progress)
}

// ExtendVideo continues a previously generated video. The provider returns
// cumulative bytes covering all prior content plus the new segment.
func (g *Gemini) ExtendVideo(ctx context.Context, req ExtendRequest) (*VideoResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if g.apiKey == "" {
		return g.syntheticVideo(req.RequestID, req.Prompt, req.Handle), nil
	}

	payload := veoPredictRequest{
		Instances: []veoInstance{{
			Prompt: req.Prompt,
			Video:  &veoMedia{FileURI: req.Handle, MimeType: "video/mp4"},
		}},
		Parameters: &veoParameters{AspectRatio: req.AspectRatio},
	}
	return g.runVideoOperation(ctx, payload, req.Progress)
}

func (g *Gemini) runVideoOperation(ctx context.Context, payload veoPredictRequest, progress PollProgress) (*VideoResult, error) {
	var op veoOperation
	path := fmt.Sprintf("/models/%s:predictLongRunning", url.PathEscape(g.videoModel))
	if err := g.invoke(ctx, path, payload, &op); err != nil {
		return nil, fmt.Errorf("start video operation: %w", err)
	}

	final, err := g.pollOperation(ctx, op, progress)
	if err != nil {
		return nil, err
	}

	if final.Error != nil {
		if isQuotaStatus(final.Error.Code, final.Error.Status, final.Error.Message) {
			return nil, fmt.Errorf("video operation: %s: %w", final.Error.Message, domain.ErrQuotaExceeded)
		}
		return nil, fmt.Errorf("video operation failed: %s: %w", final.Error.Message, domain.ErrProviderFailure)
	}
	if final.Response == nil || final.Response.GenerateVideoResponse == nil ||
		len(final.Response.GenerateVideoResponse.GeneratedSamples) == 0 {
		return nil, fmt.Errorf("video operation: no video in response")
	}

	video := final.Response.GenerateVideoResponse.GeneratedSamples[0].Video
	result := &VideoResult{Handle: video.FileURI, MIME: video.MimeType}
	if result.MIME == "" {
		result.MIME = "video/mp4"
	}

	switch {
	case video.BytesBase64Encoded != "":
		data, err := base64.StdEncoding.DecodeString(video.BytesBase64Encoded)
		if err != nil {
			return nil, fmt.Errorf("video operation: decode video bytes: %w", err)
		}
		result.Data = data
	case video.FileURI != "":
		data, mime, err := g.downloadFile(ctx, video.FileURI)
		if err != nil {
			return nil, fmt.Errorf("video operation: %w", err)
		}
		result.Data = data
		if mime != "" {
			result.MIME = mime
		}
	default:
		return nil, fmt.Errorf("video operation: sample has no payload")
	}

	g.logger.Debug().
		Str("model", g.videoModel).
		Str("handle", result.Handle).
		Int("bytes", len(result.Data)).
		Msg("generation: video operation complete")

	return result, nil
}

// pollOperation polls a long-running operation at a fixed interval up to a
// fixed attempt cap, reporting each tick through progress. Exceeding the cap
// yields domain.ErrGenerationTimeout.
func (g *Gemini) pollOperation(ctx context.Context, op veoOperation, progress PollProgress) (*veoOperation, error) {
	current := op
	for attempt := 1; !current.Done; attempt++ {
		if attempt > g.maxPollAttempts {
			return nil, fmt.Errorf("operation %s after %d polls: %w", current.Name, g.maxPollAttempts, domain.ErrGenerationTimeout)
		}
		if progress != nil {
			progress(attempt, g.maxPollAttempts)
		}

		timer := time.NewTimer(g.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		var refreshed veoOperation
		if err := g.get(ctx, "/"+strings.TrimLeft(current.Name, "/"), &refreshed); err != nil {
			return nil, fmt.Errorf("poll operation: %w", err)
		}
		current = refreshed
	}
	return &current, nil
}

// --- transport helpers ---

func (g *Gemini) invoke(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint(path), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return g.do(req, out)
}

func (g *Gemini) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint(path), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return g.do(req, out)
}

func (g *Gemini) do(req *http.Request, out any) error {
	q := req.URL.Query()
	if g.apiKey != "" {
		q.Set("key", g.apiKey)
	}
	req.URL.RawQuery = q.Encode()

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("invoke gemini: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr apiErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error.Message != "" {
			if isQuotaStatus(resp.StatusCode, apiErr.Error.Status, apiErr.Error.Message) {
				return fmt.Errorf("gemini status %d: %s: %w", resp.StatusCode, apiErr.Error.Message, domain.ErrQuotaExceeded)
			}
			return fmt.Errorf("gemini status %d: %s: %w", resp.StatusCode, apiErr.Error.Message, domain.ErrProviderFailure)
		}
		if isQuotaStatus(resp.StatusCode, "", "") {
			return fmt.Errorf("gemini status %d: %w", resp.StatusCode, domain.ErrQuotaExceeded)
		}
		data, _ := io.ReadAll(resp.Body)
		if len(data) > 0 {
			return fmt.Errorf("gemini status %d: %s: %w", resp.StatusCode, strings.TrimSpace(string(data)), domain.ErrProviderFailure)
		}
		return fmt.Errorf("gemini status %d: %w", resp.StatusCode, domain.ErrProviderFailure)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode gemini response: %w", err)
	}
	return nil
}

func (g *Gemini) downloadFile(ctx context.Context, uri string) ([]byte, string, error) {
	target := uri
	if !strings.HasPrefix(uri, "http://") && !strings.HasPrefix(uri, "https://") {
		target = g.endpoint("/" + strings.TrimLeft(uri, "/"))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create download request: %w", err)
	}
	if g.apiKey != "" {
		q := req.URL.Query()
		q.Set("key", g.apiKey)
		req.URL.RawQuery = q.Encode()
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(resp.Body)
		return nil, "", fmt.Errorf("download file status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	blob, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read file: %w", err)
	}
	return blob, resp.Header.Get("Content-Type"), nil
}

func (g *Gemini) endpoint(path string) string {
	return g.baseURL + path
}

// isQuotaStatus classifies provider quota exhaustion: HTTP 429 or the
// RESOURCE_EXHAUSTED status Google APIs attach to rate-limit failures.
func isQuotaStatus(code int, status, message string) bool {
	if code == http.StatusTooManyRequests {
		return true
	}
	if strings.EqualFold(status, "RESOURCE_EXHAUSTED") {
		return true
	}
	lower := strings.ToLower(message)
	return strings.Contains(lower, "quota") || strings.Contains(lower, "rate limit")
}

func firstText(response geminiGenerateContentResponse) string {
	for _, candidate := range response.Candidates {
		for _, part := range candidate.Content.Parts {
			if strings.TrimSpace(part.Text) != "" {
				return part.Text
			}
		}
	}
	return ""
}

var _ Client = (*Gemini)(nil)
