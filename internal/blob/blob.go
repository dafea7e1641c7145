// Package blob mirrors the controller's persisted histories to object storage
// so a fresh host can pick up where the old one stopped.
package blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var ErrNotFound = errors.New("blob not found")

// SnapshotName is the object the history snapshot is stored under.
const SnapshotName = "state"

const schemaVersion = 1

// Store handles state mirroring to object storage.
type Store interface {
	Load(ctx context.Context, name string) ([]byte, error)
	Save(ctx context.Context, name string, data []byte) error
}

// Config locates the bucket; key files hold the credentials.
type Config struct {
	Endpoint      string `yaml:"endpoint"`
	Bucket        string `yaml:"bucket"`
	Prefix        string `yaml:"prefix"`
	AccessKeyFile string `yaml:"access_key_file"`
	SecretKeyFile string `yaml:"secret_key_file"`
	Region        string `yaml:"region"`
}

// maxObjectSize bounds a mirrored snapshot; histories are a few kilobytes.
const maxObjectSize = 1 << 20

// S3Store keeps snapshots as JSON objects under prefix in one bucket.
type S3Store struct {
	client *minio.Client
	bucket string
	prefix string
}

func NewS3Store(cfg Config) (*S3Store, error) {
	cfg = cfg.trimmed()
	if cfg.Endpoint == "" || cfg.Bucket == "" || cfg.AccessKeyFile == "" || cfg.SecretKeyFile == "" {
		return nil, fmt.Errorf("blob mirror needs endpoint, bucket and both key files")
	}

	accessKey, err := readSecretFile(cfg.AccessKeyFile)
	if err != nil {
		return nil, fmt.Errorf("read blob access key: %w", err)
	}
	secretKey, err := readSecretFile(cfg.SecretKeyFile)
	if err != nil {
		return nil, fmt.Errorf("read blob secret key: %w", err)
	}
	host, secure, err := parseEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}

	client, err := minio.New(host, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}
	return &S3Store{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (c Config) trimmed() Config {
	out := Config{
		Endpoint:      strings.TrimSpace(c.Endpoint),
		Bucket:        strings.TrimSpace(c.Bucket),
		Prefix:        strings.Trim(strings.TrimSpace(c.Prefix), "/"),
		AccessKeyFile: strings.TrimSpace(c.AccessKeyFile),
		SecretKeyFile: strings.TrimSpace(c.SecretKeyFile),
		Region:        strings.TrimSpace(c.Region),
	}
	if out.Prefix == "" {
		out.Prefix = "gomow"
	}
	return out
}

func (s *S3Store) Load(ctx context.Context, name string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.key(name), minio.GetObjectOptions{})
	if err != nil {
		return nil, s.wrapError(name, err)
	}
	defer obj.Close()

	info, err := obj.Stat()
	if err != nil {
		return nil, s.wrapError(name, err)
	}
	if info.Size > maxObjectSize {
		return nil, fmt.Errorf("blob %s is %d bytes, refusing to restore", name, info.Size)
	}
	data, err := io.ReadAll(io.LimitReader(obj, maxObjectSize))
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", name, err)
	}
	return data, nil
}

func (s *S3Store) Save(ctx context.Context, name string, data []byte) error {
	if len(data) > maxObjectSize {
		return fmt.Errorf("blob %s is %d bytes, refusing to mirror", name, len(data))
	}
	_, err := s.client.PutObject(ctx, s.bucket, s.key(name), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  "application/json",
		UserMetadata: map[string]string{"schema-version": strconv.Itoa(schemaVersion)},
	})
	if err != nil {
		return s.wrapError(name, err)
	}
	return nil
}

func (s *S3Store) key(name string) string {
	return path.Join(s.prefix, name+".json")
}

func (s *S3Store) wrapError(name string, err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey":
		return ErrNotFound
	case "NoSuchBucket":
		return fmt.Errorf("blob bucket %s does not exist: %w", s.bucket, err)
	default:
		return fmt.Errorf("blob %s: %w", name, err)
	}
}

// snapshot is the mirrored document: persisted bus values keyed by bus key.
type snapshot struct {
	SchemaVersion int                        `json:"schema_version"`
	SavedAt       int64                      `json:"saved_at"`
	Values        map[string]json.RawMessage `json:"values"`
}

// SaveSnapshot stores the JSON values under SnapshotName.
func SaveSnapshot(ctx context.Context, store Store, values map[string][]byte, now time.Time) error {
	doc := snapshot{SchemaVersion: schemaVersion, SavedAt: now.UnixMilli(), Values: make(map[string]json.RawMessage, len(values))}
	for key, raw := range values {
		if !json.Valid(raw) {
			return fmt.Errorf("snapshot value %s is not valid JSON", key)
		}
		doc.Values[key] = json.RawMessage(raw)
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return store.Save(ctx, SnapshotName, data)
}

// LoadSnapshot returns the mirrored values. A missing snapshot is not an error.
func LoadSnapshot(ctx context.Context, store Store) (map[string][]byte, error) {
	data, err := store.Load(ctx, SnapshotName)
	if errors.Is(err, ErrNotFound) {
		return map[string][]byte{}, nil
	}
	if err != nil {
		return nil, err
	}
	var doc snapshot
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if doc.SchemaVersion != schemaVersion {
		return nil, fmt.Errorf("unsupported snapshot schema_version %d", doc.SchemaVersion)
	}
	out := make(map[string][]byte, len(doc.Values))
	for key, raw := range doc.Values {
		out[key] = []byte(raw)
	}
	return out, nil
}

func parseEndpoint(raw string) (string, bool, error) {
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", false, fmt.Errorf("parse endpoint: %w", err)
		}
		if u.Host == "" {
			return "", false, fmt.Errorf("invalid endpoint: %q", raw)
		}
		return u.Host, u.Scheme == "https", nil
	}
	return raw, true, nil
}

func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
