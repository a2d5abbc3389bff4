package mainconfig

import (
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	appconfig "github.com/ralflukner/workflow-bolt-sub011/internal/config"
)

func TestLocalEndpointCoversSyncServices(t *testing.T) {
	resolver := localEndpoint("http://localhost:4566", "us-east-1")
	for _, service := range []string{sqs.ServiceID, dynamodb.ServiceID, s3.ServiceID} {
		ep, err := resolver.ResolveEndpoint(service, "us-east-1")
		if err != nil {
			t.Fatalf("%s: %v", service, err)
		}
		if ep.URL != "http://localhost:4566" || ep.SigningRegion != "us-east-1" {
			t.Fatalf("%s: unexpected endpoint %+v", service, ep)
		}
	}

	_, err := resolver.ResolveEndpoint("Lambda", "us-east-1")
	var notFound *aws.EndpointNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected EndpointNotFoundError for other services, got %v", err)
	}
}

func TestArchiveClient(t *testing.T) {
	awsCfg := aws.Config{Region: "us-east-1"}
	if client := ArchiveClient(awsCfg, &appconfig.Config{}); client != nil {
		t.Fatalf("expected no archive client without a bucket")
	}
	if client := ArchiveClient(awsCfg, &appconfig.Config{SessionArchiveBucket: "sessions"}); client == nil {
		t.Fatalf("expected archive client")
	}

	var opts s3.Options
	archiveOptions(&appconfig.Config{AWSEndpointOverride: "http://localhost:4566"})(&opts)
	if !opts.UsePathStyle {
		t.Fatalf("expected path-style addressing against LocalStack")
	}
	opts = s3.Options{}
	archiveOptions(&appconfig.Config{})(&opts)
	if opts.UsePathStyle {
		t.Fatalf("expected virtual-hosted addressing against AWS")
	}
}

func TestRunsClient(t *testing.T) {
	awsCfg := aws.Config{Region: "us-east-1"}
	if RunsClient(awsCfg, &appconfig.Config{}) != nil {
		t.Fatalf("expected no ledger client without a table")
	}
	if RunsClient(awsCfg, &appconfig.Config{SyncRunsTable: "sync-runs"}) == nil {
		t.Fatalf("expected ledger client")
	}
}
