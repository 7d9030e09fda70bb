package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/exp/slog"

	"audio-transcriber/internal/domain"
)

// CommandLog captures one external command invocation result.
type CommandLog struct {
	Command  string   `json:"command"`
	Args     []string `json:"args"`
	ExitCode int      `json:"exitCode"`
	Stdout   string   `json:"stdout"`
	Stderr   string   `json:"stderr"`
}

// CommandError is a subprocess failure with its captured output.
type CommandError struct {
	Step    string     `json:"step"`
	Message string     `json:"message"`
	Log     CommandLog `json:"commandLog"`
	Err     error      `json:"-"`
}

// Error formats command failures for logs and API responses.
func (e *CommandError) Error() string {
	if e == nil {
		return ""
	}
	if e.Log.Command == "" {
		return fmt.Sprintf("%s: %s", e.Step, e.Message)
	}
	return fmt.Sprintf("%s: %s (cmd=%s exit=%d)", e.Step, e.Message, e.Log.Command, e.Log.ExitCode)
}

// Unwrap exposes underlying error for errors.Is / errors.As.
func (e *CommandError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// commandResult is an internal process execution response.
type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, onStderr func(line string), name string, args ...string) (commandResult, error)
}

// execRunner executes commands via os/exec.
type execRunner struct{}

// Run executes one command, streaming stderr lines to onStderr while capturing output.
func (r *execRunner) Run(ctx context.Context, onStderr func(line string), name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	stderr := &lineWriter{onLine: onStderr}
	cmd.Stdout = &stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	stderr.flush()
	result := commandResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: 0,
	}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}

	return result, nil
}

// lineWriter accumulates output and reports each complete line.
type lineWriter struct {
	mu      sync.Mutex
	all     bytes.Buffer
	pending []byte
	onLine  func(line string)
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.all.Write(p)
	if w.onLine == nil {
		return len(p), nil
	}
	w.pending = append(w.pending, p...)
	for {
		idx := bytes.IndexAny(w.pending, "\r\n")
		if idx < 0 {
			break
		}
		line := string(w.pending[:idx])
		w.pending = w.pending[idx+1:]
		if line != "" {
			w.onLine(line)
		}
	}
	return len(p), nil
}

func (w *lineWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.onLine != nil && len(w.pending) > 0 {
		w.onLine(string(w.pending))
	}
	w.pending = nil
}

func (w *lineWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.all.String()
}

var progressLine = regexp.MustCompile(`progress\s*=\s*(\d{1,3})%`)

// parseProgressLine extracts a whisper.cpp "progress = N%" fraction.
func parseProgressLine(line string) (float64, bool) {
	m := progressLine.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n > 100 {
		return 0, false
	}
	return float64(n) / 100, true
}

// WhisperCLI runs ffmpeg preprocessing then whisper.cpp with JSON output.
type WhisperCLI struct {
	ffmpegPath  string
	whisperPath string
	modelPath   string
	logger      *slog.Logger
	runner      commandRunner
	mkdirTemp   func(dir, pattern string) (string, error)
	removeAll   func(path string) error
	stat        func(name string) (os.FileInfo, error)
	readDir     func(name string) ([]os.DirEntry, error)
	readFile    func(name string) ([]byte, error)
}

// NewWhisperCLI constructs the production engine with OS dependencies.
func NewWhisperCLI(ffmpegPath, whisperPath, modelPath string, logger *slog.Logger) *WhisperCLI {
	if strings.TrimSpace(ffmpegPath) == "" {
		ffmpegPath = "ffmpeg"
	}
	if strings.TrimSpace(whisperPath) == "" {
		whisperPath = "whisper-cli"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WhisperCLI{
		ffmpegPath:  ffmpegPath,
		whisperPath: whisperPath,
		modelPath:   modelPath,
		logger:      logger,
		runner:      &execRunner{},
		mkdirTemp:   os.MkdirTemp,
		removeAll:   os.RemoveAll,
		stat:        os.Stat,
		readDir:     os.ReadDir,
		readFile:    os.ReadFile,
	}
}

// Infer converts the staged audio and runs whisper.cpp over it.
func (w *WhisperCLI) Infer(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.AudioPath) == "" {
		return Result{}, &CommandError{Step: "preprocessing", Message: "audio path is required"}
	}
	if _, err := w.stat(req.AudioPath); err != nil {
		return Result{}, &CommandError{
			Step:    "preprocessing",
			Message: fmt.Sprintf("cannot access audio: %s", req.AudioPath),
			Err:     err,
		}
	}

	modelPath, err := ResolveModelPath(w.modelPath, w.stat, w.readDir)
	if err != nil {
		return Result{}, &CommandError{Step: "transcribing", Message: err.Error(), Err: err}
	}

	tempDir, err := w.mkdirTemp("", "audio-transcriber-*")
	if err != nil {
		return Result{}, &CommandError{Step: "preprocessing", Message: "failed to create temporary workspace", Err: err}
	}
	defer func() {
		if err := w.removeAll(tempDir); err != nil {
			w.logger.Warn("remove engine workspace", "dir", tempDir, "error", err)
		}
	}()

	wavPath := filepath.Join(tempDir, "preprocessed-16k-mono.wav")
	args := buildFFmpegArgs(req.AudioPath, wavPath)
	ffResult, runErr := w.runner.Run(ctx, nil, w.ffmpegPath, args...)
	ffLog := commandLog(w.ffmpegPath, args, ffResult)
	if runErr != nil {
		return Result{}, &CommandError{Step: "preprocessing", Message: "ffmpeg audio conversion failed", Log: ffLog, Err: runErr}
	}
	if _, err := w.stat(wavPath); err != nil {
		return Result{}, &CommandError{Step: "preprocessing", Message: "ffmpeg completed but output file is missing", Log: ffLog, Err: err}
	}
	w.logger.Debug("audio preprocessed", "input", req.AudioPath, "output", wavPath)

	outBase := filepath.Join(tempDir, "transcript")
	whisperArgs := buildWhisperArgs(modelPath, wavPath, outBase, req.Language, req.Task)
	onStderr := func(line string) {
		if fraction, ok := parseProgressLine(line); ok {
			reportProgress(req.OnProgress, fraction)
		}
	}
	whResult, runErr := w.runner.Run(ctx, onStderr, w.whisperPath, whisperArgs...)
	whLog := commandLog(w.whisperPath, whisperArgs, whResult)
	if runErr != nil {
		return Result{}, &CommandError{Step: "transcribing", Message: "whisper.cpp transcription failed", Log: whLog, Err: runErr}
	}

	jsonPath := outBase + ".json"
	content, err := w.readFile(jsonPath)
	if err != nil {
		return Result{}, &CommandError{Step: "transcribing", Message: "whisper.cpp completed but transcript .json file is missing", Log: whLog, Err: err}
	}
	result, err := parseWhisperJSON(content)
	if err != nil {
		return Result{}, &CommandError{Step: "transcribing", Message: "cannot decode whisper.cpp output", Log: whLog, Err: err}
	}
	if result.Language == "" {
		result.Language = NormalizeLanguage(req.Language)
	}
	reportProgress(req.OnProgress, 1)
	return result, nil
}

func commandLog(name string, args []string, res commandResult) CommandLog {
	return CommandLog{
		Command:  name,
		Args:     args,
		ExitCode: res.ExitCode,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
	}
}

// whisperJSON is the subset of whisper.cpp -oj output consumed here.
type whisperJSON struct {
	Result struct {
		Language string `json:"language"`
	} `json:"result"`
	Transcription []struct {
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text string `json:"text"`
	} `json:"transcription"`
}

// parseWhisperJSON converts whisper.cpp JSON output; offsets are milliseconds.
func parseWhisperJSON(content []byte) (Result, error) {
	var doc whisperJSON
	if err := json.Unmarshal(content, &doc); err != nil {
		return Result{}, err
	}

	result := Result{
		Language: doc.Result.Language,
		Segments: make([]Segment, 0, len(doc.Transcription)),
	}
	parts := make([]string, 0, len(doc.Transcription))
	for _, item := range doc.Transcription {
		result.Segments = append(result.Segments, Segment{
			Start: float64(item.Offsets.From) / 1000,
			End:   float64(item.Offsets.To) / 1000,
			Text:  item.Text,
		})
		if text := strings.TrimSpace(item.Text); text != "" {
			parts = append(parts, text)
		}
	}
	result.Text = strings.Join(parts, " ")
	return result, nil
}

// ResolveModelPath returns model file path from file or directory input.
func ResolveModelPath(
	rawPath string,
	stat func(name string) (os.FileInfo, error),
	readDir func(name string) ([]os.DirEntry, error),
) (string, error) {
	modelPath := strings.TrimSpace(rawPath)
	if modelPath == "" {
		return "", fmt.Errorf("model path is required")
	}

	info, err := stat(modelPath)
	if err != nil {
		return "", fmt.Errorf("cannot access model path: %s", modelPath)
	}
	if !info.IsDir() {
		return modelPath, nil
	}

	entries, err := readDir(modelPath)
	if err != nil {
		return "", fmt.Errorf("cannot read model directory: %s", modelPath)
	}

	modelNames := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if isModelFile(entry.Name()) {
			modelNames = append(modelNames, entry.Name())
		}
	}
	if len(modelNames) == 0 {
		return "", fmt.Errorf("no .bin or .gguf model files found in: %s", modelPath)
	}

	sort.Strings(modelNames)
	return filepath.Join(modelPath, modelNames[0]), nil
}

func isModelFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".bin" || ext == ".gguf"
}

// buildFFmpegArgs builds preprocessing CLI args for mono 16k PCM WAV output.
func buildFFmpegArgs(inputPath, outPath string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", inputPath,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		outPath,
	}
}

// buildWhisperArgs builds whisper.cpp args for JSON transcript export with progress.
func buildWhisperArgs(modelPath, audioPath, outBase, language string, task domain.Task) []string {
	args := []string{
		"-m", modelPath,
		"-f", audioPath,
		"-of", outBase,
		"-oj",
		"-pp",
	}

	if lang := NormalizeLanguage(language); lang != "" {
		args = append(args, "-l", lang)
	} else {
		args = append(args, "-l", "auto")
	}
	if task == domain.TaskTranslate {
		args = append(args, "-tr")
	}

	return args
}
