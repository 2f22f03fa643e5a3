// Package uploader archives closed transcript files to S3.
package uploader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"go.uber.org/zap"

	"github.com/john/chatmux/internal/telemetry"
)

// objectPutter is the slice of the S3 client the uploader needs
type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Options configure an Uploader. RoleARN selects OIDC web identity; otherwise
// the static key pair is used.
type Options struct {
	Bucket          string
	Region          string
	RoleARN         string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string // For S3-compatible services
	DeleteAfter     bool
	MaxRetries      int
	Logger          *zap.Logger
}

// Uploader handles uploading completed transcript files to S3
type Uploader struct {
	client      objectPutter
	bucket      string
	deleteAfter bool
	maxRetries  int
	backoff     time.Duration
	logger      *zap.Logger

	wg sync.WaitGroup
}

// flyTokenRetriever implements stscreds.IdentityTokenRetriever for Fly.io OIDC
type flyTokenRetriever struct {
	socketPath string
	audience   string
}

// GetIdentityToken fetches an OIDC token from Fly.io's Unix socket API
func (f *flyTokenRetriever) GetIdentityToken() ([]byte, error) {
	client := &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", f.socketPath)
			},
		},
		Timeout: 5 * time.Second,
	}

	reqBody, err := json.Marshal(map[string]string{"aud": f.audience})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	resp, err := client.Post("http://localhost/v1/tokens/oidc", "application/json", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("request token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("token request failed with status %d: %s", resp.StatusCode, string(body))
	}

	token, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read token: %w", err)
	}
	return token, nil
}

// New creates an S3 uploader
func New(ctx context.Context, opts Options) (*Uploader, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	logger := opts.Logger.With(zap.String("component", "uploader"))

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(opts.Region)}
	if opts.RoleARN == "" && opts.AccessKeyID != "" {
		logger.Warn("using static AWS credentials (deprecated); migrate to OIDC")
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	if opts.RoleARN != "" {
		logger.Info("using OIDC authentication", zap.String("role", opts.RoleARN))
		provider := stscreds.NewWebIdentityRoleProvider(
			sts.NewFromConfig(cfg),
			opts.RoleARN,
			&flyTokenRetriever{socketPath: "/.fly/api", audience: "sts.amazonaws.com"},
		)
		cfg.Credentials = aws.NewCredentialsCache(provider)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	return newWithClient(client, opts.Bucket, opts.DeleteAfter, opts.MaxRetries, logger), nil
}

func newWithClient(client objectPutter, bucket string, deleteAfter bool, maxRetries int, logger *zap.Logger) *Uploader {
	return &Uploader{
		client:      client,
		bucket:      bucket,
		deleteAfter: deleteAfter,
		maxRetries:  maxRetries,
		backoff:     time.Second,
		logger:      logger,
	}
}

// ScanAndUploadExisting queues every .jsonl file already in outputDir
func (u *Uploader) ScanAndUploadExisting(ctx context.Context, outputDir string) error {
	entries, err := os.ReadDir(outputDir)
	if err != nil {
		return fmt.Errorf("read directory: %w", err)
	}

	var pending []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		pending = append(pending, filepath.Join(outputDir, entry.Name()))
	}
	if len(pending) == 0 {
		u.logger.Debug("no leftover transcripts", zap.String("dir", outputDir))
		return nil
	}

	u.logger.Info("uploading leftover transcripts", zap.Int("files", len(pending)))
	for _, path := range pending {
		u.spawn(ctx, path)
	}
	return nil
}

// Run uploads each path received on fileChan until ctx is done, then waits
// for in-flight uploads to stop.
func (u *Uploader) Run(ctx context.Context, fileChan <-chan string) error {
	defer u.wg.Wait()
	for {
		select {
		case path := <-fileChan:
			u.spawn(ctx, path)
		case <-ctx.Done():
			u.logger.Info("shutting down")
			return ctx.Err()
		}
	}
}

func (u *Uploader) spawn(ctx context.Context, path string) {
	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		u.uploadWithRetry(ctx, path)
	}()
}

// uploadWithRetry uploads a file with exponential backoff
func (u *Uploader) uploadWithRetry(ctx context.Context, localPath string) bool {
	filename := filepath.Base(localPath)

	key, err := generateS3Key(filename)
	if err != nil {
		u.logger.Error("cannot derive object key", zap.String("file", filename), zap.Error(err))
		return false
	}

	for attempt := 0; attempt <= u.maxRetries; attempt++ {
		err := u.uploadFile(ctx, localPath, key)
		if err == nil {
			telemetry.IncCounter(telemetry.TranscriptsUploaded)
			u.logger.Info("uploaded transcript", zap.String("file", filename), zap.String("key", key))
			if u.deleteAfter {
				if err := os.Remove(localPath); err != nil {
					u.logger.Warn("failed to delete uploaded transcript", zap.String("file", localPath), zap.Error(err))
				}
			}
			return true
		}

		if attempt < u.maxRetries {
			backoff := u.backoff << uint(attempt)
			u.logger.Warn("upload failed, retrying",
				zap.String("file", filename),
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", backoff),
				zap.Error(err))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return false
			}
		}
	}

	telemetry.IncCounter(telemetry.TranscriptUploadFails)
	u.logger.Error("giving up on transcript", zap.String("file", filename), zap.Int("attempts", u.maxRetries+1))
	return false
}

func (u *Uploader) uploadFile(ctx context.Context, localPath, key string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        file,
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}

// generateS3Key derives the object key from a transcript filename
// Input: twitch_ludwig_20251230_1030.jsonl
// Output: 2025/12/30/twitch/ludwig/twitch_ludwig_20251230_1030.jsonl
func generateS3Key(filename string) (string, error) {
	parts := strings.Split(strings.TrimSuffix(filename, ".jsonl"), "_")
	if len(parts) < 4 {
		return "", fmt.Errorf("invalid filename format: %s", filename)
	}

	platform := parts[0]
	// channel names may contain underscores, so date and time come from the end
	stamp := parts[len(parts)-2] + "_" + parts[len(parts)-1]
	channel := strings.Join(parts[1:len(parts)-2], "_")

	t, err := time.Parse("20060102_1504", stamp)
	if err != nil {
		return "", fmt.Errorf("parse timestamp: %w", err)
	}
	return fmt.Sprintf("%04d/%02d/%02d/%s/%s/%s", t.Year(), t.Month(), t.Day(), platform, channel, filename), nil
}
