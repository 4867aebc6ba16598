package generation

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"strconv"
	"strings"

	"server/internal/domain"
)

// Synthetic results stand in for the remote provider when no API key is
// configured. They are deterministic so tests and local runs are repeatable.

func (g *Gemini) syntheticPlan(req PlanRequest) *domain.ScriptPlan {
	count := req.SceneCount
	if count < 1 {
		count = 1
	}

	scenes := make([]domain.PlannedScene, count)
	for i := range scenes {
		n := i + 1
		scenes[i] = domain.PlannedScene{
			SceneNumber:       n,
			Narration:         fmt.Sprintf("Scene %d narration about %s.", n, req.Topic),
			VisualDescription: fmt.Sprintf("Scene %d of a %s video about %s.", n, req.Style, req.Topic),
			ImagePrompt:       fmt.Sprintf("First frame for scene %d: %s", n, req.Topic),
			VideoPrompt:       fmt.Sprintf("Camera movement and action for scene %d: %s", n, req.Topic),
			IncludeCharacter:  req.CharacterName != "" && n == 1,
		}
	}

	g.logger.Debug().
		Str("topic", req.Topic).
		Int("scenes", count).
		Msg("generation: synthetic script plan")

	return &domain.ScriptPlan{
		Title:             strings.TrimSpace("About " + req.Topic),
		Summary:           fmt.Sprintf("A %d-scene %s video about %s.", count, req.Style, req.Topic),
		Scenes:            scenes,
		TotalScenes:       count,
		EstimatedDuration: count * 8,
	}
}

func (g *Gemini) syntheticImage(req ImageRequest) []byte {
	seed := deterministicSeed(req.RequestID, req.Prompt, req.Style)
	return renderSyntheticImage(1280, 720, seed)
}

func (g *Gemini) syntheticVideo(requestID, prompt, priorHandle string) *VideoResult {
	seed := deterministicSeed(requestID, prompt, priorHandle)
	lines := []string{
		"Synthetic Veo video placeholder",
		fmt.Sprintf("Seed: %s", seed),
		fmt.Sprintf("Prompt: %s", strings.TrimSpace(prompt)),
	}
	if priorHandle != "" {
		lines = append(lines, fmt.Sprintf("Extends: %s", priorHandle))
	}
	return &VideoResult{
		Handle: fmt.Sprintf("files/synthetic-%s", seed),
		Data:   []byte(strings.Join(lines, "\n")),
		MIME:   "video/mp4",
	}
}

var styleInstructions = map[string]string{
	"educational":  "Create an educational explainer video. Use clear, instructive visuals that help explain concepts.",
	"storybook":    "Create a narrative story with a beginning, middle, and end. Each scene should advance the plot.",
	"social_media": "Create a short, attention-grabbing video suitable for social media. Make it punchy and memorable.",
}

var imageStyleSuffix = map[string]string{
	"real_person": ", photorealistic, cinematic lighting, 4K quality",
	"cartoon":     ", cartoon style, vibrant colors, clean lines",
	"anime":       ", anime style, detailed, expressive",
	"avatar":      ", 3D avatar style, clean design",
	"3d_render":   ", 3D rendered, cinematic lighting, high detail",
}

func buildPlanPrompt(req PlanRequest) string {
	instructions, ok := styleInstructions[req.Style]
	if !ok {
		instructions = styleInstructions["educational"]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are a video script planner. Create a detailed script for a video about:\n\n")
	fmt.Fprintf(&b, "Topic: %s\n\n", req.Topic)
	fmt.Fprintf(&b, "Style: %s\n\n", instructions)
	fmt.Fprintf(&b, "Target Duration: ~%d seconds (%d scenes of 8 seconds each)\n", req.TargetDuration, req.SceneCount)

	if req.CharacterName != "" || req.CharacterDescription != "" {
		b.WriteString("\nCharacter Reference:\n")
		fmt.Fprintf(&b, "- Name: %s\n", firstNonEmpty(req.CharacterName, "The Host"))
		fmt.Fprintf(&b, "- Description: %s\n", firstNonEmpty(req.CharacterDescription, "A friendly presenter"))
		fmt.Fprintf(&b, "- Visual Style: %s\n", firstNonEmpty(req.CharacterStyle, "real_person"))
		b.WriteString("Include this character appropriately in scenes if relevant to the content.\n")
	}

	if req.UserPrompt != "" {
		fmt.Fprintf(&b, "\nAdditional Context: %s\n", req.UserPrompt)
	}

	b.WriteString(`
Return a JSON object with this exact structure:
{
  "title": "Video title",
  "summary": "One-sentence summary",
  "scenes": [
    {
      "scene_number": 1,
      "narration": "What is spoken/shown in this scene (2-3 sentences)",
      "visual_description": "Detailed description of what appears visually",
      "image_prompt": "Detailed prompt for generating the first frame image",
      "video_prompt": "Motion/action prompt for video generation",
      "include_character": false
    }
  ],
  "total_scenes": `)
	b.WriteString(strconv.Itoa(req.SceneCount))
	b.WriteString(`,
  "estimated_duration": `)
	b.WriteString(strconv.Itoa(req.SceneCount * 8))
	b.WriteString(`
}

IMPORTANT:
- Each scene is exactly 8 seconds
- Image prompts should be detailed and specific
- Video prompts should describe motion and action
- Keep narration concise but informative
- Ensure visual continuity between scenes`)

	return b.String()
}

func buildImagePrompt(req ImageRequest) string {
	suffix, ok := imageStyleSuffix[req.Style]
	if !ok {
		suffix = imageStyleSuffix["real_person"]
	}
	return strings.TrimSpace(req.Prompt) + suffix
}

// normalizePlan renumbers scenes sequentially and enforces the scene cap so
// downstream invariants (1-based, no gaps) hold regardless of model output.
func normalizePlan(plan *domain.ScriptPlan, req PlanRequest) {
	if plan == nil {
		return
	}
	if req.SceneCount > 0 && len(plan.Scenes) > req.SceneCount {
		plan.Scenes = plan.Scenes[:req.SceneCount]
	}
	for i := range plan.Scenes {
		plan.Scenes[i].SceneNumber = i + 1
	}
	plan.TotalScenes = len(plan.Scenes)
	if plan.EstimatedDuration == 0 {
		plan.EstimatedDuration = len(plan.Scenes) * 8
	}
	if strings.TrimSpace(plan.Title) == "" {
		plan.Title = req.Topic
	}
}

func renderSyntheticImage(width, height int, seed string) []byte {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	base := colorFromSeed(seed, 0)
	accent := colorFromSeed(seed, 1)
	draw.Draw(img, img.Bounds(), &image.Uniform{base}, image.Point{}, draw.Src)

	stripeHeight := height / 12
	if stripeHeight < 32 {
		stripeHeight = 32
	}
	for y := 0; y < height; y += stripeHeight * 2 {
		bottom := y + stripeHeight
		if bottom > height {
			bottom = height
		}
		draw.Draw(img, image.Rect(0, y, width, bottom), &image.Uniform{accent}, image.Point{}, draw.Over)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil
	}
	return buf.Bytes()
}

func colorFromSeed(seed string, shift int) color.RGBA {
	if seed == "" {
		seed = "000000"
	}
	doubled := seed + seed
	start := (shift * 6) % len(seed)
	segment := doubled[start : start+6]
	r := parseHexByte(segment[0:2])
	g := parseHexByte(segment[2:4])
	b := parseHexByte(segment[4:6])
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

func parseHexByte(s string) uint8 {
	v, err := strconv.ParseUint(s, 16, 8)
	if err != nil {
		return 0
	}
	return uint8(v)
}

func deterministicSeed(parts ...string) string {
	hasher := sha256.New()
	for _, part := range parts {
		hasher.Write([]byte(part))
		hasher.Write([]byte{'|'})
	}
	return hex.EncodeToString(hasher.Sum(nil))[:16]
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
