package engine

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/samber/lo"

	"audio-transcriber/internal/domain"
)

var whisperModelCatalog = []domain.WhisperModelOption{
	{ID: "tiny.en", Name: "Tiny (English)", FileName: "ggml-tiny.en.bin", SizeLabel: "~75 MB", Description: "Fastest, English-only model."},
	{ID: "tiny", Name: "Tiny (Multilingual)", FileName: "ggml-tiny.bin", SizeLabel: "~75 MB", Description: "Fastest multilingual model."},
	{ID: "base.en", Name: "Base (English)", FileName: "ggml-base.en.bin", SizeLabel: "~142 MB", Description: "Balanced speed/quality, English-only."},
	{ID: "base", Name: "Base (Multilingual)", FileName: "ggml-base.bin", SizeLabel: "~142 MB", Description: "Balanced speed/quality, multilingual."},
	{ID: "small.en", Name: "Small (English)", FileName: "ggml-small.en.bin", SizeLabel: "~466 MB", Description: "Higher quality, English-only."},
	{ID: "small", Name: "Small (Multilingual)", FileName: "ggml-small.bin", SizeLabel: "~466 MB", Description: "Higher quality multilingual model."},
	{ID: "medium", Name: "Medium (Multilingual)", FileName: "ggml-medium.bin", SizeLabel: "~1.5 GB", Description: "High quality multilingual model."},
	{ID: "large-v3", Name: "Large v3", FileName: "ggml-large-v3.bin", SizeLabel: "~2.9 GB", Description: "Latest large multilingual model."},
	{ID: "large-v3-turbo", Name: "Large v3 Turbo", FileName: "ggml-large-v3-turbo.bin", SizeLabel: "~1.6 GB", Description: "Faster large-v3 variant."},
}

// Models returns the whisper.cpp model presets marked against the configured model path.
func Models(modelPath string) []domain.WhisperModelOption {
	models := make([]domain.WhisperModelOption, len(whisperModelCatalog))
	copy(models, whisperModelCatalog)

	markAvailableModels(models, modelDirs(modelPath))
	current := ""
	if resolved, err := ResolveModelPath(modelPath, os.Stat, os.ReadDir); err == nil {
		current = filepath.Clean(resolved)
	}
	for i := range models {
		models[i].Current = current != "" && models[i].LocalPath == current
	}
	return models
}

// ModelByID looks up a preset by id.
func ModelByID(id string) (domain.WhisperModelOption, bool) {
	return lo.Find(whisperModelCatalog, func(model domain.WhisperModelOption) bool {
		return model.ID == strings.TrimSpace(id)
	})
}

// modelDirs returns directories that may hold models for the configured path.
func modelDirs(modelPath string) []string {
	trimmed := strings.TrimSpace(modelPath)
	if trimmed == "" {
		return nil
	}
	info, err := os.Stat(trimmed)
	switch {
	case err == nil && info.IsDir():
		return []string{filepath.Clean(trimmed)}
	case err == nil:
		return []string{filepath.Dir(trimmed)}
	case errors.Is(err, os.ErrNotExist) && isModelFile(trimmed):
		return []string{filepath.Dir(trimmed)}
	default:
		return nil
	}
}

func markAvailableModels(models []domain.WhisperModelOption, dirs []string) {
	dirs = lo.Uniq(dirs)
	for i := range models {
		for _, dir := range dirs {
			candidate := filepath.Join(dir, models[i].FileName)
			info, err := os.Stat(candidate)
			if err != nil || info.IsDir() {
				continue
			}
			models[i].Available = true
			models[i].LocalPath = candidate
			break
		}
	}
}
