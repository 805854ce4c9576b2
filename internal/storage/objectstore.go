package storage

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"

	"github.com/bl4ck0w1/vulnlynx/pkg/models"
	"github.com/bl4ck0w1/vulnlynx/pkg/utils"
)

// ReportUploader copies exported report files to an S3 compatible bucket.
type ReportUploader struct {
	mc     *minio.Client
	bucket string
	prefix string
	logger *logrus.Logger
}

func NewReportUploader(cfg models.ObjectStoreConfig, logger *logrus.Logger) (*ReportUploader, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("object store endpoint and bucket are required")
	}
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create object store client: %w", err)
	}
	return &ReportUploader{mc: mc, bucket: cfg.Bucket, prefix: cfg.Prefix, logger: logger}, nil
}

func (u *ReportUploader) EnsureBucket(ctx context.Context) error {
	exists, err := u.mc.BucketExists(ctx, u.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", u.bucket, err)
	}
	if exists {
		return nil
	}
	if err := u.mc.MakeBucket(ctx, u.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", u.bucket, err)
	}
	u.logger.Infof("Created bucket %s", u.bucket)
	return nil
}

// Upload sends every file and returns the object keys in the same order.
func (u *ReportUploader) Upload(ctx context.Context, files []string) ([]string, error) {
	keys := make([]string, 0, len(files))
	day := time.Now().UTC().Format("2006/01/02")
	for _, f := range files {
		key := ObjectKey(u.prefix, day, filepath.Base(f))
		sum, err := utils.SHA256HashFile(f)
		if err != nil {
			return keys, err
		}
		err = utils.RetryWithContext(ctx, 3, time.Second, func() error {
			_, err := u.mc.FPutObject(ctx, u.bucket, key, f, minio.PutObjectOptions{
				ContentType:  ContentType(f),
				UserMetadata: map[string]string{"sha256": sum},
			})
			return err
		})
		if err != nil {
			return keys, fmt.Errorf("upload %s: %w", f, err)
		}
		u.logger.WithFields(logrus.Fields{"bucket": u.bucket, "key": key}).Debug("Report uploaded")
		keys = append(keys, key)
	}
	u.logger.Infof("Uploaded %d report file(s) to %s", len(keys), u.bucket)
	return keys, nil
}

// ObjectKey joins prefix, a date partition and the file name with forward slashes.
func ObjectKey(prefix, day, name string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return path.Join(day, name)
	}
	return path.Join(prefix, day, name)
}

func ContentType(file string) string {
	name := strings.ToLower(file)
	if strings.HasSuffix(name, ".gz") {
		return "application/gzip"
	}
	switch filepath.Ext(name) {
	case ".csv":
		return "text/csv"
	case ".json":
		return "application/json"
	case ".yaml", ".yml":
		return "application/yaml"
	case ".txt":
		return "text/plain; charset=utf-8"
	}
	return "application/octet-stream"
}
