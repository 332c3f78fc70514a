package types

// ProjectSettings is the body of GET /project/settings.
type ProjectSettings struct {
	UI              UISettings      `json:"ui"`
	Features        FeatureSettings `json:"features"`
	ChatProfiles    []ChatProfile   `json:"chatProfiles,omitempty"`
	ThreadResumable bool            `json:"threadResumable"`
	DataPersistence bool            `json:"dataPersistence"`
	Markdown        string          `json:"markdown,omitempty"`
}

type UISettings struct {
	Name                   string `json:"name"`
	Description            string `json:"description,omitempty"`
	CoT                    string `json:"cot,omitempty"`
	DefaultCollapseContent bool   `json:"default_collapse_content,omitempty"`
	HideCoT                bool   `json:"hide_cot,omitempty"`
	Theme                  string `json:"theme,omitempty"`
}

type FeatureSettings struct {
	SpontaneousFileUpload UploadFeature `json:"spontaneous_file_upload"`
	Audio                 AudioFeature  `json:"audio"`
	UnsafeAllowHTML       bool          `json:"unsafe_allow_html,omitempty"`
	LatexEnabled          bool          `json:"latex,omitempty"`
}

// UploadFeature configures spontaneous file uploads.
type UploadFeature struct {
	Enabled   bool     `json:"enabled"`
	Accept    []string `json:"accept,omitempty"`
	MaxFiles  int      `json:"max_files"`
	MaxSizeMB int      `json:"max_size_mb"`
}

type AudioFeature struct {
	Enabled         bool    `json:"enabled"`
	MinDecibels     float64 `json:"min_decibels,omitempty"`
	InitialSilence  int     `json:"initial_silence_timeout,omitempty"`
	SilenceTimeout  int     `json:"silence_timeout,omitempty"`
	ChunkDurationMs int     `json:"chunk_duration,omitempty"`
	MaxDurationMs   int     `json:"max_duration,omitempty"`
	SampleRate      int     `json:"sample_rate,omitempty"`
}

type ChatProfile struct {
	Name         string `json:"name"`
	MarkdownDesc string `json:"markdown_description,omitempty"`
	Icon         string `json:"icon,omitempty"`
	Default      bool   `json:"default,omitempty"`
}

// AuthConfig is the body of GET /auth/config.
type AuthConfig struct {
	RequireLogin   bool     `json:"requireLogin"`
	PasswordAuth   bool     `json:"passwordAuth"`
	HeaderAuth     bool     `json:"headerAuth"`
	OAuthProviders []string `json:"oauthProviders"`
	DefaultTheme   string   `json:"default_theme,omitempty"`
}

// CompletionRequest is the body of POST /completion.
type CompletionRequest struct {
	Prompt   string         `json:"prompt"`
	Provider string         `json:"provider,omitempty"`
	Settings map[string]any `json:"settings,omitempty"`
}

// CompletionResponse is returned by POST /completion.
type CompletionResponse struct {
	Completion string `json:"completion"`
}
