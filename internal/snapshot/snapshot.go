// Package snapshot uploads encrypted per-owner exports to S3-compatible
// storage on a schedule and prunes old ones.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dukerupert/tracklist/internal/model"
)

var ErrDisabled = errors.New("snapshots not configured")

const keyTimeLayout = "2006-01-02T150405Z"

// s3Client is an interface for testability.
type s3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, input *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Exporter is the read side of the store the manager snapshots.
type Exporter interface {
	Owners(ctx context.Context) ([]model.Owner, error)
	Export(ctx context.Context, owner model.Owner) (*model.Backup, error)
}

// S3Config holds S3-compatible storage configuration.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
}

type Config struct {
	S3            S3Config
	Passphrase    string
	Interval      time.Duration
	RetentionDays int
}

type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateDisabled State = "disabled"
	StateError    State = "error"
)

// Status holds the current manager status.
type Status struct {
	State        State      `json:"state"`
	LastSnapshot *time.Time `json:"lastSnapshot,omitempty"`
	Error        string     `json:"error,omitempty"`
}

// Object describes one stored snapshot.
type Object struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
}

// Manager uploads encrypted owner exports.
type Manager struct {
	mu       sync.RWMutex
	cfg      Config
	status   Status
	exporter Exporter
	client   s3Client
	logger   *slog.Logger
	now      func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager returns a manager. Without a bucket and credentials it stays
// in StateDisabled and every operation returns ErrDisabled.
func NewManager(cfg Config, exporter Exporter, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		cfg:      cfg,
		exporter: exporter,
		logger:   logger.With("component", "snapshot"),
		now:      time.Now,
		status:   Status{State: StateDisabled},
	}
	if cfg.S3.Bucket != "" && cfg.S3.AccessKey != "" && cfg.S3.SecretKey != "" {
		m.client = newS3Client(cfg.S3)
		m.status.State = StateIdle
	}
	return m
}

func newS3Client(cfg S3Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

// Start runs a snapshot and bucket-wide cleanup every Interval until ctx is cancelled
// or Stop is called. It is a no-op when disabled.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.status.State == StateDisabled || m.cfg.Interval <= 0 {
		m.mu.Unlock()
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	interval := m.cfg.Interval
	m.mu.Unlock()

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.runScheduled(ctx)
			}
		}
	}()
}

// Stop cancels the schedule and waits for an in-flight run to finish.
func (m *Manager) Stop() {
	m.mu.RLock()
	cancel := m.cancel
	done := m.done
	m.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	m.status = s
	m.mu.Unlock()
}

func (m *Manager) runScheduled(ctx context.Context) {
	n, err := m.RunNow(ctx)
	if err != nil {
		m.logger.Error("scheduled snapshot failed", "uploaded", n, "error", err)
	} else {
		m.logger.Info("scheduled snapshot complete", "uploaded", n)
	}

	deleted, err := m.CleanupAll(ctx)
	if err != nil {
		m.logger.Error("snapshot cleanup failed", "deleted", deleted, "error", err)
	} else if deleted > 0 {
		m.logger.Info("expired snapshots removed", "deleted", deleted)
	}
}

// StoredOwners lists every owner with at least one object in the bucket,
// including owners who no longer have any rows.
func (m *Manager) StoredOwners(ctx context.Context) ([]model.Owner, error) {
	if m.client == nil {
		return nil, ErrDisabled
	}

	var owners []model.Owner
	p := s3.NewListObjectsV2Paginator(m.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(m.cfg.S3.Bucket),
		Delimiter: aws.String("/"),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list s3 prefixes: %w", err)
		}
		for _, cp := range page.CommonPrefixes {
			if owner, ok := OwnerFromKey(aws.ToString(cp.Prefix)); ok {
				owners = append(owners, owner)
			}
		}
	}
	return owners, nil
}

// CleanupAll applies retention to every owner found in the bucket.
func (m *Manager) CleanupAll(ctx context.Context) (int, error) {
	owners, err := m.StoredOwners(ctx)
	if err != nil {
		return 0, err
	}

	var errs []error
	deleted := 0
	for _, owner := range owners {
		n, err := m.Cleanup(ctx, owner)
		deleted += n
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", owner, err))
		}
	}
	return deleted, errors.Join(errs...)
}

// RunNow uploads one snapshot per owner and returns how many succeeded.
// A failing owner does not stop the others; their errors are joined.
func (m *Manager) RunNow(ctx context.Context) (int, error) {
	if m.client == nil {
		return 0, ErrDisabled
	}

	m.setStatus(Status{State: StateRunning})

	owners, err := m.exporter.Owners(ctx)
	if err != nil {
		m.setStatus(Status{State: StateError, Error: err.Error()})
		return 0, fmt.Errorf("list owners: %w", err)
	}

	var errs []error
	uploaded := 0
	for _, owner := range owners {
		if err := m.upload(ctx, owner); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", owner, err))
			continue
		}
		uploaded++
	}

	if err := errors.Join(errs...); err != nil {
		m.setStatus(Status{State: StateError, Error: err.Error()})
		return uploaded, err
	}
	now := m.now().UTC()
	m.setStatus(Status{State: StateIdle, LastSnapshot: &now})
	return uploaded, nil
}

func (m *Manager) upload(ctx context.Context, owner model.Owner) error {
	b, err := m.exporter.Export(ctx, owner)
	if err != nil {
		return err
	}
	plaintext, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	sealed, err := Encrypt(plaintext, m.cfg.Passphrase)
	if err != nil {
		return err
	}

	key := objectKey(owner, m.now())
	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(m.cfg.S3.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(sealed),
		ContentLength: aws.Int64(int64(len(sealed))),
		ContentType:   aws.String("application/octet-stream"),
	})
	if err != nil {
		return fmt.Errorf("upload to s3: %w", err)
	}
	m.logger.Debug("snapshot uploaded", "owner", owner, "key", key, "bytes", len(sealed))
	return nil
}

// List returns owner's snapshots, oldest first.
func (m *Manager) List(ctx context.Context, owner model.Owner) ([]Object, error) {
	if m.client == nil {
		return nil, ErrDisabled
	}

	var out []Object
	p := s3.NewListObjectsV2Paginator(m.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(m.cfg.S3.Bucket),
		Prefix: aws.String(ownerPrefix(owner)),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list s3 objects: %w", err)
		}
		for _, obj := range page.Contents {
			out = append(out, Object{
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}
	return out, nil
}

// Fetch downloads and decrypts the snapshot stored at key. The result is
// the same document the import endpoint accepts.
func (m *Manager) Fetch(ctx context.Context, key string) (*model.Backup, error) {
	if m.client == nil {
		return nil, ErrDisabled
	}

	result, err := m.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.cfg.S3.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("download from s3: %w", err)
	}
	defer result.Body.Close()

	sealed, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	plaintext, err := Decrypt(sealed, m.cfg.Passphrase)
	if err != nil {
		return nil, err
	}

	var b model.Backup
	if err := json.Unmarshal(plaintext, &b); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &b, nil
}

// Cleanup deletes owner's snapshots older than the retention period and
// returns how many were removed.
func (m *Manager) Cleanup(ctx context.Context, owner model.Owner) (int, error) {
	if m.client == nil {
		return 0, ErrDisabled
	}

	objects, err := m.List(ctx, owner)
	if err != nil {
		return 0, err
	}

	before := m.now().UTC().AddDate(0, 0, -m.cfg.RetentionDays)
	deleted := 0
	for _, obj := range objects {
		if !obj.LastModified.Before(before) {
			continue
		}
		if _, err := m.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(m.cfg.S3.Bucket),
			Key:    aws.String(obj.Key),
		}); err != nil {
			m.logger.Warn("failed to delete snapshot", "key", obj.Key, "error", err)
			continue
		}
		deleted++
	}
	return deleted, nil
}

func ownerPrefix(owner model.Owner) string {
	return url.PathEscape(string(owner)) + "/"
}

func objectKey(owner model.Owner, t time.Time) string {
	return ownerPrefix(owner) + "tracklist-snapshot-" + t.UTC().Format(keyTimeLayout) + ".json.enc"
}

// OwnerFromKey recovers the owner a key was written for.
func OwnerFromKey(key string) (model.Owner, bool) {
	prefix, _, ok := strings.Cut(key, "/")
	if !ok {
		return "", false
	}
	name, err := url.PathUnescape(prefix)
	if err != nil || name == "" {
		return "", false
	}
	return model.Owner(name), true
}
