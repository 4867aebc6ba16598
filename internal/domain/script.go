package domain

// ScriptPlan is the planner output persisted on the job. Scenes are ordered
// by SceneNumber, 1-based with no gaps.
type ScriptPlan struct {
	Title             string         `json:"title"`
	Summary           string         `json:"summary"`
	Scenes            []PlannedScene `json:"scenes"`
	TotalScenes       int            `json:"total_scenes"`
	EstimatedDuration int            `json:"estimated_duration"`
}

// PlannedScene describes one scene of the planned script.
type PlannedScene struct {
	SceneNumber       int    `json:"scene_number"`
	Narration         string `json:"narration"`
	VisualDescription string `json:"visual_description"`
	ImagePrompt       string `json:"image_prompt"`
	VideoPrompt       string `json:"video_prompt"`
	IncludeCharacter  bool   `json:"include_character"`
}
