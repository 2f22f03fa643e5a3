// Package recorder writes canonical chat messages to rotating JSONL transcripts,
// one file per platform and channel.
package recorder

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/john/chatmux/internal/message"
)

// Entry is one message routed to a transcript
type Entry struct {
	Channel string
	Message message.ChatMessage
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// fileWriter manages a single JSONL file
type fileWriter struct {
	file          *os.File
	writer        *bufio.Writer
	createdAt     time.Time
	bytesWritten  int64
	messageBuffer []message.ChatMessage
	platform      message.Platform
	channel       string
	filename      string
}

// Recorder handles buffering and writing chat messages to disk
type Recorder struct {
	outputDir     string
	bufferSize    int
	rotateAfter   time.Duration
	rotateBytes   int64
	checkInterval time.Duration
	now           func() time.Time
	logger        *zap.Logger

	currentFiles map[string]*fileWriter // key: "platform_channel"
	mu           sync.Mutex
}

// New creates a new recorder
func New(outputDir string, bufferSize, rotateMinutes, rotateMegabytes int, logger *zap.Logger) *Recorder {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		outputDir:     outputDir,
		bufferSize:    bufferSize,
		rotateAfter:   time.Duration(rotateMinutes) * time.Minute,
		rotateBytes:   int64(rotateMegabytes) * 1024 * 1024,
		checkInterval: time.Minute,
		now:           time.Now,
		logger:        logger.With(zap.String("component", "recorder")),
		currentFiles:  make(map[string]*fileWriter),
	}
}

// Run records entries until ctx is done. Closed files are queued on fileChan.
func (r *Recorder) Run(ctx context.Context, entries <-chan Entry, fileChan chan<- string) error {
	if err := os.MkdirAll(r.outputDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	ticker := time.NewTicker(r.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case e := <-entries:
			if err := r.record(e); err != nil {
				r.logger.Error("failed to record message", zap.Error(err))
			}

		case <-ticker.C:
			r.checkRotation(fileChan)

		case <-ctx.Done():
			r.logger.Info("shutting down, flushing buffers")
			r.flushAll(fileChan)
			return ctx.Err()
		}
	}
}

func (r *Recorder) record(e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	channel := unsafeName.ReplaceAllString(e.Channel, "-")
	if channel == "" {
		channel = "default"
	}
	key := fmt.Sprintf("%s_%s", e.Message.Platform, channel)
	fw := r.currentFiles[key]

	if fw == nil {
		var err error
		fw, err = r.createFileWriter(e.Message.Platform, channel)
		if err != nil {
			return fmt.Errorf("create file writer: %w", err)
		}
		r.currentFiles[key] = fw
	}

	fw.messageBuffer = append(fw.messageBuffer, e.Message)
	if len(fw.messageBuffer) >= r.bufferSize {
		if err := r.flushFileWriter(fw); err != nil {
			return fmt.Errorf("flush buffer: %w", err)
		}
	}
	return nil
}

func (r *Recorder) createFileWriter(platform message.Platform, channel string) (*fileWriter, error) {
	now := r.now()
	filename := fmt.Sprintf("%s_%s_%s.jsonl", platform, channel, now.UTC().Format("20060102_1504"))
	path := filepath.Join(r.outputDir, filename)

	// O_APPEND so a second rotation inside the same minute does not truncate
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}
	r.logger.Info("opened transcript", zap.String("file", filename))

	return &fileWriter{
		file:          file,
		writer:        bufio.NewWriter(file),
		createdAt:     now,
		messageBuffer: make([]message.ChatMessage, 0, r.bufferSize),
		platform:      platform,
		channel:       channel,
		filename:      filename,
	}, nil
}

// flushFileWriter writes buffered messages to disk
func (r *Recorder) flushFileWriter(fw *fileWriter) error {
	for _, msg := range fw.messageBuffer {
		data, err := json.Marshal(msg)
		if err != nil {
			r.logger.Error("failed to encode message", zap.String("id", msg.ID), zap.Error(err))
			continue
		}
		data = append(data, '\n')
		n, err := fw.writer.Write(data)
		fw.bytesWritten += int64(n)
		if err != nil {
			return fmt.Errorf("write message: %w", err)
		}
	}
	fw.messageBuffer = fw.messageBuffer[:0]
	return fw.writer.Flush()
}

func (r *Recorder) checkRotation(fileChan chan<- string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, fw := range r.currentFiles {
		switch {
		case r.rotateAfter > 0 && r.now().Sub(fw.createdAt) >= r.rotateAfter:
			r.logger.Info("rotating transcript", zap.String("file", fw.filename), zap.String("reason", "age"))
		case r.rotateBytes > 0 && fw.bytesWritten >= r.rotateBytes:
			r.logger.Info("rotating transcript", zap.String("file", fw.filename), zap.String("reason", "size"))
		default:
			continue
		}
		r.rotateFile(key, fw, fileChan)
	}
}

// rotateFile closes the current file and starts a new one
func (r *Recorder) rotateFile(key string, fw *fileWriter, fileChan chan<- string) {
	r.closeFile(fw, fileChan)

	next, err := r.createFileWriter(fw.platform, fw.channel)
	if err != nil {
		r.logger.Error("failed to open next transcript", zap.Error(err))
		delete(r.currentFiles, key)
		return
	}
	r.currentFiles[key] = next
}

func (r *Recorder) closeFile(fw *fileWriter, fileChan chan<- string) {
	if err := r.flushFileWriter(fw); err != nil {
		r.logger.Error("failed to flush transcript", zap.String("file", fw.filename), zap.Error(err))
	}
	if err := fw.file.Close(); err != nil {
		r.logger.Error("failed to close transcript", zap.String("file", fw.filename), zap.Error(err))
	}
	if fileChan == nil {
		return
	}

	path := filepath.Join(r.outputDir, fw.filename)
	select {
	case fileChan <- path:
		r.logger.Debug("queued transcript for upload", zap.String("file", fw.filename))
	default:
		r.logger.Warn("upload queue full, file will be uploaded on next start", zap.String("file", fw.filename))
	}
}

// flushAll flushes and closes every open file
func (r *Recorder) flushAll(fileChan chan<- string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, fw := range r.currentFiles {
		r.closeFile(fw, fileChan)
		delete(r.currentFiles, key)
	}
	r.logger.Info("all transcripts flushed and closed")
}
