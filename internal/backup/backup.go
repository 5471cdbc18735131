// Package backup snapshots the SQLite database, seals the snapshot with a
// passphrase and stores it in S3-compatible object storage.
package backup

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/robfig/cron/v3"
	_ "modernc.org/sqlite"

	"github.com/dukerupert/famcal/internal/calerr"
	"github.com/dukerupert/famcal/internal/model"
	"github.com/dukerupert/famcal/internal/store"
)

// ObjectStore is the subset of the S3 client the manager uses.
type ObjectStore interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Config holds S3-compatible storage configuration.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
}

func (c S3Config) Enabled() bool {
	return c.Bucket != "" && c.AccessKey != "" && c.SecretKey != ""
}

type Config struct {
	S3         S3Config
	Passphrase string
	Prefix     string
	Retention  time.Duration
}

type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateDisabled State = "disabled"
	StateError    State = "error"
)

type Status struct {
	State      State      `json:"state"`
	LastBackup *time.Time `json:"last_backup,omitempty"`
	Error      string     `json:"error,omitempty"`
	InProgress bool       `json:"in_progress"`
}

type Manager struct {
	mu     sync.RWMutex
	status Status
	run    sync.Mutex

	cfg    Config
	db     *sql.DB
	store  *store.BackupStore
	client ObjectStore

	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc

	now    func() time.Time
	logger *slog.Logger
}

type Option func(*Manager)

// WithObjectStore replaces the S3 client built from Config.
func WithObjectStore(c ObjectStore) Option {
	return func(m *Manager) { m.client = c }
}

func NewManager(cfg Config, db *sql.DB, bs *store.BackupStore, logger *slog.Logger, opts ...Option) *Manager {
	if cfg.Prefix == "" {
		cfg.Prefix = "famcal"
	}
	m := &Manager{
		cfg:    cfg,
		db:     db,
		store:  bs,
		status: Status{State: StateDisabled},
		now:    time.Now,
		logger: logger.With("component", "backup"),
	}
	if cfg.S3.Enabled() {
		m.client = newS3Client(cfg.S3)
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.Enabled() {
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

// Enabled reports whether storage and a passphrase are configured.
func (m *Manager) Enabled() bool {
	return m.client != nil && m.cfg.Passphrase != ""
}

func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	if s.LastBackup == nil {
		s.LastBackup = m.status.LastBackup
	}
	m.status = s
	m.mu.Unlock()
}

func (m *Manager) notConfigured() error {
	return calerr.Configuration("backup storage is not configured", nil)
}

// Start schedules Run and Cleanup on spec. A disabled manager does nothing.
func (m *Manager) Start(ctx context.Context, spec string) error {
	if !m.Enabled() {
		m.logger.Info("database backups disabled")
		return nil
	}
	m.ctx, m.cancel = context.WithCancel(ctx)
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(spec, m.scheduled); err != nil {
		m.cancel()
		return fmt.Errorf("schedule backup %q: %w", spec, err)
	}
	c.Start()
	m.cron = c
	m.logger.Info("backup scheduler started", "schedule", spec)
	return nil
}

func (m *Manager) scheduled() {
	if _, err := m.Run(m.ctx); err != nil {
		m.logger.Error("scheduled backup failed", "error", err)
	}
	if n, err := m.Cleanup(m.ctx); err != nil {
		m.logger.Error("backup cleanup failed", "error", err)
	} else if n > 0 {
		m.logger.Info("expired backups removed", "count", n)
	}
}

// Stop halts the schedule and waits for a running backup.
func (m *Manager) Stop() {
	if m.cron != nil {
		<-m.cron.Stop().Done()
	}
	if m.cancel != nil {
		m.cancel()
	}
}

// Run snapshots the database, seals it and uploads it. Only one backup
// runs at a time.
func (m *Manager) Run(ctx context.Context) (*model.Backup, error) {
	if !m.Enabled() {
		return nil, m.notConfigured()
	}
	if !m.run.TryLock() {
		return nil, calerr.Validation("a backup is already running")
	}
	defer m.run.Unlock()

	started := m.now().UTC()
	record, err := m.store.Create(ctx, started, func(id string) string {
		return fmt.Sprintf("%s/%s-%s.db.enc", m.cfg.Prefix, started.Format("20060102T150405Z"), id)
	})
	if err != nil {
		return nil, err
	}
	m.setStatus(Status{State: StateRunning, InProgress: true})

	size, err := m.upload(ctx, record)
	if err != nil {
		m.logger.Error("backup failed", "backup_id", record.ID, "error", err)
		m.store.UpdateStatus(ctx, record.ID, model.BackupStatusFailed, err.Error())
		m.setStatus(Status{State: StateError, Error: err.Error()})
		return nil, calerr.Sync("backup failed", err)
	}

	done := m.now().UTC()
	if err := m.store.MarkCompleted(ctx, record.ID, size, done); err != nil {
		return nil, err
	}
	m.setStatus(Status{State: StateIdle, LastBackup: &done})
	m.logger.Info("backup complete", "backup_id", record.ID, "key", record.ObjectKey, "bytes", size)
	return m.store.GetByID(ctx, record.ID)
}

func (m *Manager) upload(ctx context.Context, record *model.Backup) (int64, error) {
	snapshot, err := m.snapshot(ctx)
	if err != nil {
		return 0, err
	}
	sealed, err := Seal(snapshot, m.cfg.Passphrase)
	if err != nil {
		return 0, fmt.Errorf("encrypt: %w", err)
	}

	m.store.UpdateStatus(ctx, record.ID, model.BackupStatusUploading, "")
	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(m.cfg.S3.Bucket),
		Key:           aws.String(record.ObjectKey),
		Body:          bytes.NewReader(sealed),
		ContentLength: aws.Int64(int64(len(sealed))),
	})
	if err != nil {
		return 0, fmt.Errorf("upload to s3: %w", err)
	}
	return int64(len(sealed)), nil
}

// snapshot writes a consistent copy of the live database with VACUUM INTO
// and returns its bytes.
func (m *Manager) snapshot(ctx context.Context) ([]byte, error) {
	dir, err := os.MkdirTemp("", "famcal-backup-")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "snapshot.db")
	if _, err := m.db.ExecContext(ctx, `VACUUM INTO ?`, path); err != nil {
		return nil, fmt.Errorf("snapshot database: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return data, nil
}

func (m *Manager) List(ctx context.Context, limit int) ([]model.Backup, error) {
	if limit <= 0 {
		limit = 20
	}
	return m.store.List(ctx, limit)
}

func (m *Manager) completed(ctx context.Context, id string) (*model.Backup, error) {
	b, err := m.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if b == nil || b.Status != model.BackupStatusCompleted {
		return nil, calerr.NotFound("backup", id)
	}
	return b, nil
}

// Download streams a sealed backup from object storage.
func (m *Manager) Download(ctx context.Context, id string) (io.ReadCloser, *model.Backup, error) {
	if !m.Enabled() {
		return nil, nil, m.notConfigured()
	}
	b, err := m.completed(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	out, err := m.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.cfg.S3.Bucket),
		Key:    aws.String(b.ObjectKey),
	})
	if err != nil {
		return nil, nil, calerr.Sync("download backup", err)
	}
	return out.Body, b, nil
}

// Verify downloads a backup, decrypts it and runs an integrity check on the
// restored copy without touching the live database.
func (m *Manager) Verify(ctx context.Context, id string) error {
	body, _, err := m.Download(ctx, id)
	if err != nil {
		return err
	}
	sealed, err := io.ReadAll(body)
	body.Close()
	if err != nil {
		return calerr.Sync("read backup", err)
	}
	plain, err := Open(sealed, m.cfg.Passphrase)
	if err != nil {
		return calerr.Sync("decrypt backup", err)
	}

	dir, err := os.MkdirTemp("", "famcal-verify-")
	if err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "restore.db")
	if err := os.WriteFile(path, plain, 0o600); err != nil {
		return fmt.Errorf("write restored db: %w", err)
	}

	restored, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open restored db: %w", err)
	}
	defer restored.Close()
	var integrity string
	if err := restored.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&integrity); err != nil {
		return calerr.Sync("integrity check", err)
	}
	if integrity != "ok" {
		return calerr.Sync("integrity check failed: "+integrity, nil)
	}
	return nil
}

// Cleanup deletes backups older than the retention period and returns how
// many records were removed. Object deletion failures are only logged.
func (m *Manager) Cleanup(ctx context.Context) (int, error) {
	if !m.Enabled() || m.cfg.Retention <= 0 {
		return 0, nil
	}
	keys, err := m.store.DeleteOlderThan(ctx, m.now().Add(-m.cfg.Retention))
	if err != nil {
		return 0, err
	}
	for _, key := range keys {
		if _, err := m.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(m.cfg.S3.Bucket),
			Key:    aws.String(key),
		}); err != nil {
			m.logger.Warn("delete backup object failed", "key", key, "error", err)
		}
	}
	return len(keys), nil
}
