// Package mainconfig holds the AWS wiring shared by the sync binaries.
package mainconfig

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	appconfig "github.com/ralflukner/workflow-bolt-sub011/internal/config"
	"github.com/ralflukner/workflow-bolt-sub011/internal/session"
)

// localServices are redirected by AWS_ENDPOINT_OVERRIDE: the job queue, the
// run ledger and the session archive bucket.
var localServices = map[string]bool{
	sqs.ServiceID:      true,
	dynamodb.ServiceID: true,
	s3.ServiceID:       true,
}

// LoadAWSConfig builds the SDK config for the api, sync-worker and
// sync-lambda binaries.
func LoadAWSConfig(ctx context.Context, cfg *appconfig.Config) (aws.Config, error) {
	loaders := []func(*config.LoadOptions) error{config.WithRegion(cfg.AWSRegion)}
	if strings.TrimSpace(cfg.AWSAccessKeyID) != "" && strings.TrimSpace(cfg.AWSSecretAccessKey) != "" {
		loaders = append(loaders, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return aws.Config{}, err
	}
	if endpoint := strings.TrimSpace(cfg.AWSEndpointOverride); endpoint != "" {
		awsCfg.EndpointResolverWithOptions = localEndpoint(endpoint, cfg.AWSRegion)
	}
	return awsCfg, nil
}

func localEndpoint(endpoint, region string) aws.EndpointResolverWithOptions {
	return aws.EndpointResolverWithOptionsFunc(func(service, _ string, _ ...any) (aws.Endpoint, error) {
		if !localServices[service] {
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		}
		return aws.Endpoint{
			URL:           endpoint,
			PartitionID:   "aws",
			SigningRegion: region,
		}, nil
	})
}

// ArchiveClient returns the S3 client for session archives, or nil when
// SESSION_ARCHIVE_BUCKET is unset. LocalStack only serves path-style bucket
// URLs, so the override switches addressing too.
func ArchiveClient(awsCfg aws.Config, cfg *appconfig.Config) session.S3API {
	if strings.TrimSpace(cfg.SessionArchiveBucket) == "" {
		return nil
	}
	return s3.NewFromConfig(awsCfg, archiveOptions(cfg))
}

func archiveOptions(cfg *appconfig.Config) func(*s3.Options) {
	return func(o *s3.Options) {
		if strings.TrimSpace(cfg.AWSEndpointOverride) != "" {
			o.UsePathStyle = true
		}
	}
}

// RunsClient returns the DynamoDB client for the run ledger, or nil when
// SYNC_RUNS_TABLE is unset.
func RunsClient(awsCfg aws.Config, cfg *appconfig.Config) *dynamodb.Client {
	if strings.TrimSpace(cfg.SyncRunsTable) == "" {
		return nil
	}
	return dynamodb.NewFromConfig(awsCfg)
}
