package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"

	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox"
	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox/files"
	"github.com/minio/minio-go/v6"
	"github.com/sirupsen/logrus"

	"github.com/ivlev/orbitreel/internal/config"
	"github.com/ivlev/orbitreel/internal/engine"
)

// FileUploader writes recordings into a local directory.
type FileUploader struct {
	dir string
	log logrus.FieldLogger
}

func NewFileUploader(dir string, log logrus.FieldLogger) *FileUploader {
	return &FileUploader{dir: dir, log: log.WithField("service", "file")}
}

func (u *FileUploader) Upload(_ context.Context, videoID int64, data []byte, filename string) (engine.UploadResult, error) {
	if err := os.MkdirAll(u.dir, 0o755); err != nil {
		return engine.UploadResult{}, fmt.Errorf("create %s: %w", u.dir, err)
	}
	name := filepath.Join(u.dir, filepath.Base(filename))
	if err := os.WriteFile(name, data, 0o644); err != nil {
		return engine.UploadResult{}, fmt.Errorf("write %s: %w", name, err)
	}
	if abs, err := filepath.Abs(name); err == nil {
		name = abs
	}
	u.log.WithFields(logrus.Fields{"video_id": videoID, "path": name, "bytes": len(data)}).Info("recording saved")
	return engine.UploadResult{OK: true, FileID: name}, nil
}

// objectPutter is the part of the minio client the uploader needs.
type objectPutter interface {
	PutObjectWithContext(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (int64, error)
}

// S3Uploader stores recordings in an S3 compatible bucket.
type S3Uploader struct {
	client objectPutter
	bucket string
	prefix string
	log    logrus.FieldLogger
}

func NewS3Uploader(cfg config.S3Storage, log logrus.FieldLogger) (*S3Uploader, error) {
	if cfg.Bucket == "" || cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, errors.New("s3: bucket and credentials are required")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "s3.amazonaws.com"
	}
	client, err := minio.NewWithRegion(endpoint, cfg.AccessKey, cfg.SecretKey, cfg.Secure, cfg.Region)
	if err != nil {
		return nil, fmt.Errorf("s3: %w", err)
	}
	return newS3Uploader(client, cfg.Bucket, cfg.Prefix, log), nil
}

func newS3Uploader(client objectPutter, bucket, prefix string, log logrus.FieldLogger) *S3Uploader {
	return &S3Uploader{client: client, bucket: bucket, prefix: prefix, log: log.WithField("service", "s3")}
}

func (u *S3Uploader) Upload(ctx context.Context, videoID int64, data []byte, filename string) (engine.UploadResult, error) {
	object := path.Join(u.prefix, filename)
	n, err := u.client.PutObjectWithContext(ctx, u.bucket, object, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType(filename),
		UserMetadata: map[string]string{
			"video-id": strconv.FormatInt(videoID, 10),
		},
	})
	if err != nil {
		return engine.UploadResult{}, fmt.Errorf("s3 put %s: %w", object, err)
	}
	if n != int64(len(data)) {
		return engine.UploadResult{OK: false, Message: fmt.Sprintf("short write: %d of %d bytes", n, len(data))}, nil
	}
	u.log.WithFields(logrus.Fields{"video_id": videoID, "object": object, "bytes": n}).Info("recording uploaded")
	return engine.UploadResult{OK: true, FileID: u.bucket + "/" + object}, nil
}

// dropboxFiles is the part of the Dropbox files client the uploader needs.
type dropboxFiles interface {
	Upload(arg *files.UploadArg, content io.Reader) (*files.FileMetadata, error)
}

// DropboxUploader stores recordings in a Dropbox folder, overwriting a file
// of the same name.
type DropboxUploader struct {
	client dropboxFiles
	dir    string
	log    logrus.FieldLogger
}

func NewDropboxUploader(cfg config.DropboxConfig, log logrus.FieldLogger) (*DropboxUploader, error) {
	if cfg.Token == "" {
		return nil, errors.New("dropbox: access token is required")
	}
	client := files.New(dropbox.Config{
		Token:    cfg.Token,
		LogLevel: dropbox.LogInfo,
	})
	return newDropboxUploader(client, cfg.Directory, log), nil
}

func newDropboxUploader(client dropboxFiles, dir string, log logrus.FieldLogger) *DropboxUploader {
	return &DropboxUploader{client: client, dir: dir, log: log.WithField("service", "dropbox")}
}

// Upload ignores ctx; the Dropbox client takes none.
func (u *DropboxUploader) Upload(_ context.Context, videoID int64, data []byte, filename string) (engine.UploadResult, error) {
	target := path.Join("/", u.dir, filename)
	res, err := u.client.Upload(&files.UploadArg{
		CommitInfo: files.CommitInfo{
			Path: target,
			Mode: &files.WriteMode{
				Tagged: dropbox.Tagged{
					Tag: "overwrite",
				},
			},
		},
	}, bytes.NewReader(data))
	if err != nil {
		return engine.UploadResult{}, fmt.Errorf("dropbox upload %s: %w", target, err)
	}
	u.log.WithFields(logrus.Fields{"video_id": videoID, "name": res.Name}).Info("recording uploaded")
	return engine.UploadResult{OK: true, FileID: res.Id}, nil
}
