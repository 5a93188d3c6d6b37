package transport

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/airbusgeo/usgs-product-finder/service"
	"github.com/airbusgeo/usgs-product-finder/service/log"
)

// DefaultS3Region is the region of the usgs-landsat public bucket
const DefaultS3Region = "us-west-2"

// S3Transport implements Transport for s3://bucket/key urls
// The USGS buckets are requester-pays: credentials are required.
type S3Transport struct {
	accessKeyId     string
	secretAccessKey string
	region          string
	requesterPays   bool
}

// NewS3Transport creates a new transport for S3 requester-pays buckets.
// If accessKeyId is empty, the default credential chain of the aws sdk is used.
// If region is empty, DefaultS3Region is used.
func NewS3Transport(accessKeyId, secretAccessKey, region string) *S3Transport {
	if region == "" {
		region = DefaultS3Region
	}
	return &S3Transport{accessKeyId: accessKeyId, secretAccessKey: secretAccessKey, region: region, requesterPays: true}
}

// Name implements Transport
func (t *S3Transport) Name() string {
	return "S3"
}

func (t *S3Transport) client(ctx context.Context) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(t.region)}
	if t.accessKeyId != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(t.accessKeyId, t.secretAccessKey, "")))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("config.LoadDefaultConfig: %w", err)
	}
	return s3.NewFromConfig(cfg), nil
}

// Download implements Transport
func (t *S3Transport) Download(ctx context.Context, url, localFile string) error {
	bucket, key, err := splitURL(url)
	if err != nil {
		return fmt.Errorf("Download: %w", err)
	}
	client, err := t.client(ctx)
	if err != nil {
		return fmt.Errorf("Download.%w", err)
	}

	downloader := manager.NewDownloader(client, func(d *manager.Downloader) {
		d.PartSize = 10 * 1024 * 1024 // 10MB per part
	})

	file, err := os.Create(localFile)
	if err != nil {
		return fmt.Errorf("Download.Create: %w", err)
	}
	defer file.Close()

	input := &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}
	if t.requesterPays {
		input.RequestPayer = "requester"
	}
	n, err := downloader.Download(ctx, file, input)
	if err != nil {
		err = fmt.Errorf("Download[%s/%s]: %w", bucket, key, err)
		var re *awshttp.ResponseError
		if !errors.As(err, &re) || service.TemporaryStatus(re.HTTPStatusCode()) {
			return service.MakeTemporary(err)
		}
		return err
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("Download.Close: %w", err)
	}
	log.Logger(ctx).Sugar().Debugf("%s: %s downloaded", url, fmtBytes(n))
	return nil
}
