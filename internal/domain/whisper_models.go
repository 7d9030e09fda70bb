package domain

// WhisperModelOption describes one whisper model preset the engine can load.
type WhisperModelOption struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	FileName    string `json:"fileName"`
	SizeLabel   string `json:"sizeLabel,omitempty"`
	Description string `json:"description,omitempty"`
	Available   bool   `json:"available"`
	Current     bool   `json:"current"`
	LocalPath   string `json:"localPath,omitempty"`
}
