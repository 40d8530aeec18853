package infrastructure

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/yt-relay/internal/domain"
)

// Markers that identify machine-readable lines in yt-dlp output
const (
	progressMarker = "[yt-relay:progress]"
	titleMarker    = "[yt-relay:title]"
	filepathMarker = "[yt-relay:filepath]"
)

// progressTemplate prints one pipe-separated line per progress tick.
// filename goes last because it may itself contain the separator.
var progressTemplate = "download:" + progressMarker + " " + strings.Join([]string{
	"%(progress.status)s",
	"%(progress.downloaded_bytes)s",
	"%(progress.total_bytes)s",
	"%(progress.total_bytes_estimate)s",
	"%(progress.speed)s",
	"%(progress.eta)s",
	"%(progress.filename)s",
}, "|")

// postProcessors are yt-dlp log prefixes printed after the transfer while
// the file is merged or converted
var postProcessors = []string{"[Merger]", "[ExtractAudio]", "[VideoConvertor]", "[VideoRemuxer]", "[FixupM3u8]", "[FixupM4a]"}

// YTDLPExecEngine implements domain.Engine by running the yt-dlp binary
type YTDLPExecEngine struct {
	config  domain.DownloadConfig
	logsDir string
	logger  *zap.Logger
}

// NewYTDLPExecEngine creates an engine running config.YTDLPBinary. Raw
// yt-dlp output is appended to a daily download log under logsDir.
func NewYTDLPExecEngine(config domain.DownloadConfig, logsDir string, logger *zap.Logger) *YTDLPExecEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &YTDLPExecEngine{
		config:  config,
		logsDir: logsDir,
		logger:  logger,
	}
}

// Name identifies the engine in logs
func (e *YTDLPExecEngine) Name() string {
	return "yt-dlp"
}

// buildArgs assembles the yt-dlp command line.
// exec.Command passes args directly to the process, no shell quoting needed.
func (e *YTDLPExecEngine) buildArgs(url, output string) []string {
	args := []string{
		"--newline",
		"--progress",
		"--no-playlist",
		"--progress-template", progressTemplate,
		"--print", "after_move:" + titleMarker + " %(title)s",
		"--print", "after_move:" + filepathMarker + " %(filepath)s",
		"-o", output,
	}
	if e.config.Format != "" {
		args = append(args, "-f", e.config.Format)
	}
	if e.config.MergeOutputFormat != "" {
		args = append(args, "--merge-output-format", e.config.MergeOutputFormat)
	}
	return append(args, url)
}

// Download runs yt-dlp for url and reports progress as it parses output
func (e *YTDLPExecEngine) Download(ctx context.Context, url, output string, progress domain.ProgressFunc) (*domain.DownloadResult, error) {
	if progress == nil {
		progress = func(domain.ProgressUpdate) {}
	}

	downloadLog, err := e.openLogFile()
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer downloadLog.Close()

	args := e.buildArgs(url, output)
	e.writeLogHeader(downloadLog, url, ShellEscapeCommand(e.config.YTDLPBinary, args...))

	cmd := exec.CommandContext(ctx, e.config.YTDLPBinary, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to attach stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to attach stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		e.writeLogFooter(downloadLog, false, fmt.Sprintf("yt-dlp did not start: %v", err))
		return nil, &domain.EngineError{Message: fmt.Sprintf("failed to start yt-dlp: %v", err)}
	}

	// Both streams feed one channel so progress is reported from this goroutine only
	lines := make(chan string, 64)
	var wg sync.WaitGroup
	wg.Add(2)
	go scanLines(stdout, lines, &wg)
	go scanLines(stderr, lines, &wg)
	go func() {
		wg.Wait()
		close(lines)
	}()

	var out ytdlpOutput
	for line := range lines {
		downloadLog.WriteString(line + "\n")
		if update, ok := out.consume(line); ok {
			progress(update)
		}
	}

	waitErr := cmd.Wait()
	if ctx.Err() != nil {
		e.writeLogFooter(downloadLog, false, fmt.Sprintf("cancelled: %v", ctx.Err()))
		return nil, &domain.EngineError{Message: fmt.Sprintf("download cancelled: %v", ctx.Err())}
	}
	if waitErr != nil {
		message := out.lastError
		if message == "" {
			message = fmt.Sprintf("yt-dlp failed: %v", waitErr)
		}
		e.writeLogFooter(downloadLog, false, message)
		return nil, &domain.EngineError{Message: message}
	}

	result := out.result()
	e.writeLogFooter(downloadLog, true, fmt.Sprintf("Downloaded: %s", result.Filename))
	return result, nil
}

func scanLines(r io.Reader, lines chan<- string, wg *sync.WaitGroup) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines <- scanner.Text()
	}
}

// ytdlpOutput accumulates what a yt-dlp run printed
type ytdlpOutput struct {
	title        string
	filepath     string
	lastFilename string
	lastError    string
}

// consume handles one output line and returns a progress update if the
// line carries one
func (o *ytdlpOutput) consume(line string) (domain.ProgressUpdate, bool) {
	line = strings.TrimSpace(line)

	switch {
	case strings.HasPrefix(line, progressMarker):
		update, ok := parseProgressLine(strings.TrimSpace(strings.TrimPrefix(line, progressMarker)))
		if ok && update.Filename != "" {
			o.lastFilename = update.Filename
		}
		return update, ok
	case strings.HasPrefix(line, titleMarker):
		o.title = strings.TrimSpace(strings.TrimPrefix(line, titleMarker))
	case strings.HasPrefix(line, filepathMarker):
		o.filepath = strings.TrimSpace(strings.TrimPrefix(line, filepathMarker))
	case strings.HasPrefix(line, "ERROR:"):
		o.lastError = line
	default:
		for _, prefix := range postProcessors {
			if strings.HasPrefix(line, prefix) {
				return domain.ProgressUpdate{Status: domain.EngineStatusPostProcessing}, true
			}
		}
	}
	return domain.ProgressUpdate{}, false
}

func (o *ytdlpOutput) result() *domain.DownloadResult {
	filename := o.filepath
	if filename == "" {
		filename = o.lastFilename
	}
	return &domain.DownloadResult{Title: o.title, Filename: filename}
}

// parseProgressLine parses the fields printed by progressTemplate.
// yt-dlp prints NA for values it does not know.
func parseProgressLine(line string) (domain.ProgressUpdate, bool) {
	fields := strings.SplitN(line, "|", 7)
	if len(fields) != 7 {
		return domain.ProgressUpdate{}, false
	}

	update := domain.ProgressUpdate{
		Status:   fields[0],
		Filename: fields[6],
	}
	switch update.Status {
	case domain.EngineStatusDownloading, domain.EngineStatusFinished, domain.EngineStatusError:
	default:
		return domain.ProgressUpdate{}, false
	}

	if downloaded, ok := parseNumber(fields[1]); ok {
		update.DownloadedBytes = int64(downloaded)
	}
	if total, ok := parseNumber(fields[2]); ok && total > 0 {
		update.TotalBytes = domain.Int64(int64(total))
	} else if estimate, ok := parseNumber(fields[3]); ok && estimate > 0 {
		update.TotalBytes = domain.Int64(int64(estimate))
	}
	if speed, ok := parseNumber(fields[4]); ok {
		update.Speed = domain.Float64(speed)
	}
	if eta, ok := parseNumber(fields[5]); ok {
		update.ETA = domain.Int64(int64(eta))
	}
	if update.Filename == "NA" {
		update.Filename = ""
	}
	return update, true
}

func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" || s == "NA" || s == "None" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// openLogFile opens the download log file for today
func (e *YTDLPExecEngine) openLogFile() (*os.File, error) {
	if err := os.MkdirAll(e.logsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create logs directory: %w", err)
	}

	downloadPath := filepath.Join(e.logsDir, "download-"+time.Now().Format("20060102")+".log")
	return os.OpenFile(downloadPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
}

// writeLogHeader writes the download start marker
func (e *YTDLPExecEngine) writeLogHeader(file *os.File, url, cmdLine string) {
	timestamp := time.Now().Format("2006-01-02 15:04:05")
	fmt.Fprintf(file, "\n=== [%s] Download: %s ===\n", timestamp, url)
	fmt.Fprintf(file, "$ %s\n", cmdLine)
}

// writeLogFooter writes the download end marker
func (e *YTDLPExecEngine) writeLogFooter(file *os.File, success bool, message string) {
	timestamp := time.Now().Format("2006-01-02 15:04:05")
	status := "SUCCESS"
	if !success {
		status = "FAILED"
		e.logger.Warn("yt-dlp run failed", zap.String("message", message))
	}
	fmt.Fprintf(file, "[%s] %s: %s\n", timestamp, status, message)
	file.WriteString("=== END ===\n\n")
}
