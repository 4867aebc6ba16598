package jsoncfg

import (
	"encoding/json"
	"fmt"
	"strings"
)

// VideoRequestJSON is the canonical job creation contract. It is normalized
// and validated before the job row is created and the worker starts.
type VideoRequestJSON struct {
	Version        string `json:"version"`
	Topic          string `json:"topic"`
	Style          string `json:"style"`
	TargetDuration int    `json:"target_duration"`
	UserPrompt     string `json:"user_prompt"`
	AspectRatio    string `json:"aspect_ratio"`

	// Optional recurring character carried across scenes.
	CharacterName        string `json:"character_name,omitempty"`
	CharacterDescription string `json:"character_description,omitempty"`
	CharacterStyle       string `json:"character_style,omitempty"`
	ReferenceKey         string `json:"reference_key,omitempty"`
}

var allowedStyles = map[string]struct{}{
	"educational":  {},
	"storybook":    {},
	"social_media": {},
}

var allowedAspectRatios = map[string]struct{}{
	"16:9": {},
	"9:16": {},
	"1:1":  {},
}

const (
	// DefaultRequestVersion represents the schema version persisted for requests.
	DefaultRequestVersion = "2025-01"
	// DefaultStyle is applied when the request omits the visual style.
	DefaultStyle = "educational"
	// DefaultAspectRatio is used when the request omits the aspect ratio.
	DefaultAspectRatio = "16:9"
	// SceneDurationSeconds is the fixed length of one generated clip.
	SceneDurationSeconds = 8
	// MaxScenes caps scene count to bound provider cost per job.
	MaxScenes = 6
	// MaxTargetDuration is the longest plannable video.
	MaxTargetDuration = MaxScenes * SceneDurationSeconds
	// DefaultTargetDuration is applied when the request omits a duration.
	DefaultTargetDuration = 30
	// MaxTitleLength bounds the title derived from the topic.
	MaxTitleLength = 100
)

// Normalize ensures the request respects server defaults and limits.
func (r *VideoRequestJSON) Normalize() {
	if r == nil {
		return
	}
	if r.Version == "" {
		r.Version = DefaultRequestVersion
	}
	r.Topic = strings.TrimSpace(r.Topic)
	if r.Style == "" {
		r.Style = DefaultStyle
	}
	if r.TargetDuration <= 0 {
		r.TargetDuration = DefaultTargetDuration
	}
	if r.TargetDuration > MaxTargetDuration {
		r.TargetDuration = MaxTargetDuration
	}
	if r.AspectRatio == "" {
		r.AspectRatio = DefaultAspectRatio
	}
}

// Validate ensures the request satisfies the contract before persistence.
func (r VideoRequestJSON) Validate() error {
	if strings.TrimSpace(r.Topic) == "" {
		return fmt.Errorf("topic is required")
	}
	if _, ok := allowedStyles[r.Style]; !ok {
		return fmt.Errorf("style must be one of educational, storybook, social_media")
	}
	if _, ok := allowedAspectRatios[r.AspectRatio]; !ok {
		return fmt.Errorf("aspect_ratio must be one of 16:9, 9:16, 1:1")
	}
	if r.TargetDuration < 1 || r.TargetDuration > MaxTargetDuration {
		return fmt.Errorf("target_duration must be between 1 and %d seconds", MaxTargetDuration)
	}
	return nil
}

// SceneCount derives the planned scene count from the target duration.
func (r VideoRequestJSON) SceneCount() int {
	n := r.TargetDuration / SceneDurationSeconds
	if n < 1 {
		n = 1
	}
	if n > MaxScenes {
		n = MaxScenes
	}
	return n
}

// Title derives a bounded job title from the topic.
func (r VideoRequestJSON) Title() string {
	topic := strings.TrimSpace(r.Topic)
	if len(topic) > MaxTitleLength {
		return topic[:MaxTitleLength]
	}
	return topic
}

func MustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Errorf("json marshal: %w", err))
	}
	return b
}
