// Package s3 provides an S3-compatible object store backend using minio-go.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/txn2/mcp-lakejobs/pkg/objstore"
	"github.com/txn2/mcp-lakejobs/pkg/store"
)

// Storage option keys, following the object_store naming used by lakehouse tooling.
const (
	OptAccessKeyID     = "AWS_ACCESS_KEY_ID"
	OptSecretAccessKey = "AWS_SECRET_ACCESS_KEY"
	OptSessionToken    = "AWS_SESSION_TOKEN"
	OptRegion          = "AWS_REGION"
	OptEndpoint        = "AWS_ENDPOINT_URL"
	OptAllowHTTP       = "AWS_ALLOW_HTTP"
	OptPathStyle       = "AWS_S3_PATH_STYLE"
)

const defaultEndpoint = "s3.amazonaws.com"

// Config is the connection configuration derived from a store descriptor.
type Config struct {
	Bucket       string
	Prefix       string
	Endpoint     string
	Region       string
	AccessKeyID  string
	SecretKey    string
	SessionToken string
	Secure       bool
	PathStyle    bool
}

// ConfigFromDescriptor parses an s3://bucket/prefix descriptor and its options.
func ConfigFromDescriptor(d store.Descriptor) (Config, error) {
	u, err := d.URL()
	if err != nil {
		return Config{}, err
	}
	if !strings.EqualFold(u.Scheme, store.SchemeS3) {
		return Config{}, fmt.Errorf("not an s3 path: %s", d.Path)
	}
	if u.Host == "" {
		return Config{}, fmt.Errorf("s3 path %q has no bucket", d.Path)
	}

	cfg := Config{
		Bucket: u.Host,
		Prefix: strings.Trim(u.Path, "/"),
		Secure: true,
	}
	cfg.AccessKeyID, _ = d.Option(OptAccessKeyID)
	cfg.SecretKey, _ = d.Option(OptSecretAccessKey)
	cfg.SessionToken, _ = d.Option(OptSessionToken)
	cfg.Region, _ = d.Option(OptRegion)

	if v, ok := d.Option(OptAllowHTTP); ok {
		allow, _ := strconv.ParseBool(v)
		cfg.Secure = !allow
	}
	if v, ok := d.Option(OptPathStyle); ok {
		cfg.PathStyle, _ = strconv.ParseBool(v)
	}

	cfg.Endpoint = defaultEndpoint
	if ep, ok := d.Option(OptEndpoint); ok && ep != "" {
		eu, err := url.Parse(ep)
		if err != nil {
			return Config{}, fmt.Errorf("parsing %s: %w", OptEndpoint, err)
		}
		if eu.Host != "" {
			cfg.Endpoint = eu.Host
			cfg.Secure = eu.Scheme == "https"
		} else {
			cfg.Endpoint = ep
		}
		// Custom endpoints (MinIO, localstack) rarely support virtual hosts.
		if _, ok := d.Option(OptPathStyle); !ok {
			cfg.PathStyle = true
		}
	}
	return cfg, nil
}

// Store implements objstore.Store on an S3 bucket prefix.
type Store struct {
	cfg    Config
	client *minio.Client
}

// New creates a Store from cfg.
func New(cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}

	creds := credentials.NewEnvAWS()
	if cfg.AccessKeyID != "" {
		creds = credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretKey, cfg.SessionToken)
	}

	lookup := minio.BucketLookupAuto
	if cfg.PathStyle {
		lookup = minio.BucketLookupPath
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:        creds,
		Secure:       cfg.Secure,
		Region:       cfg.Region,
		BucketLookup: lookup,
	})
	if err != nil {
		return nil, fmt.Errorf("creating s3 client: %w", err)
	}
	return &Store{cfg: cfg, client: client}, nil
}

// Open is an objstore.Factory for s3:// stores.
func Open(d store.Descriptor) (objstore.Store, error) {
	cfg, err := ConfigFromDescriptor(d)
	if err != nil {
		return nil, err
	}
	return New(cfg)
}

func (s *Store) objectKey(key string) string {
	key = strings.TrimLeft(key, "/")
	if s.cfg.Prefix == "" {
		return key
	}
	return s.cfg.Prefix + "/" + key
}

func (s *Store) relativeKey(objectKey string) string {
	if s.cfg.Prefix == "" {
		return objectKey
	}
	return strings.TrimPrefix(objectKey, s.cfg.Prefix+"/")
}

// Put uploads data.
func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, s.cfg.Bucket, s.objectKey(key), bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return classifyError(fmt.Sprintf("putting %s", key), err)
	}
	return nil
}

// Get downloads an object.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.cfg.Bucket, s.objectKey(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, classifyError(fmt.Sprintf("getting %s", key), err)
	}
	defer func() { _ = obj.Close() }()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, classifyError(fmt.Sprintf("reading %s", key), err)
	}
	return data, nil
}

// Delete removes an object.
func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.client.RemoveObject(ctx, s.cfg.Bucket, s.objectKey(key), minio.RemoveObjectOptions{})
	if err != nil {
		cerr := classifyError(fmt.Sprintf("deleting %s", key), err)
		if errors.Is(cerr, objstore.ErrNotFound) {
			return nil
		}
		return cerr
	}
	return nil
}

// List lists objects recursively under prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]objstore.ObjectInfo, error) {
	out := make([]objstore.ObjectInfo, 0)
	for obj := range s.client.ListObjects(ctx, s.cfg.Bucket, minio.ListObjectsOptions{
		Prefix:    s.objectKey(prefix),
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, classifyError(fmt.Sprintf("listing %s", prefix), obj.Err)
		}
		out = append(out, objstore.ObjectInfo{
			Key:          s.relativeKey(obj.Key),
			Size:         obj.Size,
			LastModified: obj.LastModified,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Close does nothing; minio clients hold no resources beyond the HTTP pool.
func (*Store) Close() error {
	return nil
}

// classifyError maps minio errors onto objstore sentinels.
func classifyError(op string, err error) error {
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NoSuchBucket", "NotFound":
		return fmt.Errorf("%s: %w: %w", op, objstore.ErrNotFound, err)
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken":
		return fmt.Errorf("%s: %w: %w", op, objstore.ErrUnreachable, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%s: %w: %w", op, objstore.ErrUnreachable, err)
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host") {
		return fmt.Errorf("%s: %w: %w", op, objstore.ErrUnreachable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Verify interface compliance.
var _ objstore.Store = (*Store)(nil)
