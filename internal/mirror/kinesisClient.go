// SPDX-FileCopyrightText: 2025 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0
package mirror

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	"github.com/aws/aws-sdk-go-v2/service/kinesis/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"go.uber.org/zap"

	"github.com/xmidt-org/culvert/internal/batch"
)

// MaxPutRecordsBatchSize is the Kinesis PutRecords API limit.
const MaxPutRecordsBatchSize = 500

// KinesisAPI is the slice of the AWS SDK the mirror uses.
type KinesisAPI interface {
	PutRecords(context.Context, *kinesis.PutRecordsInput, ...func(*kinesis.Options)) (*kinesis.PutRecordsOutput, error)
}

// Item is one record bound for the stream.
type Item struct {
	PartitionKey string
	Data         []byte
}

// PutRecorder is the mirror's view of the stream client.
type PutRecorder interface {
	PutRecords(items []Item, stream string) (int, error)
}

// Config describes the mirrored Kinesis stream.  Role and static credentials
// are mutually exclusive; when Role is set the client authenticates through
// STS and refreshes the assumed role credentials before they expire.
type Config struct {
	Enabled     bool        `mapstructure:"enabled"`
	Stream      string      `mapstructure:"stream"`
	Region      string      `mapstructure:"region"`
	Endpoint    string      `mapstructure:"endpoint"`
	Role        string      `mapstructure:"role"`
	Credentials Credentials `mapstructure:"credentials"`
}

type Credentials struct {
	AccessKey    string `mapstructure:"access_key"`
	SecretKey    string `mapstructure:"secret_key"`
	SessionToken string `mapstructure:"session_token"`
}

// Client wraps the AWS Kinesis SDK with batch splitting and credential
// refresh.
type Client struct {
	mutex         sync.Mutex
	svc           KinesisAPI
	logger        *zap.Logger
	config        Config
	credsExpireAt time.Time
}

func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	svc, credsExpireAt, err := buildService(cfg, logger)
	if err != nil {
		return nil, err
	}

	return &Client{
		svc:           svc,
		logger:        logger,
		config:        cfg,
		credsExpireAt: credsExpireAt,
	}, nil
}

func buildService(cfg Config, logger *zap.Logger) (KinesisAPI, time.Time, error) {
	ctx := context.Background()

	if cfg.Role != "" &&
		(cfg.Credentials.AccessKey != "" ||
			cfg.Credentials.SecretKey != "" ||
			cfg.Credentials.SessionToken != "") {
		return nil, time.Time{}, fmt.Errorf("cannot specify both role and credentials")
	}

	var credsExpireAt time.Time
	var awsConfig aws.Config
	var err error

	if cfg.Role != "" {
		// authenticate with aws and assume a cross-account role
		awsConfig, err = config.LoadDefaultConfig(
			ctx,
			config.WithRegion(cfg.Region),
			config.WithRetryMaxAttempts(3),
			config.WithHTTPClient(
				&http.Client{Timeout: 10 * time.Second},
			),
		)
		if err != nil {
			logger.Error("unable to load aws config for sts credentials", zap.String("role", cfg.Role), zap.Error(err))
			return nil, time.Time{}, err
		}

		client := sts.NewFromConfig(awsConfig)
		creds := stscreds.NewAssumeRoleProvider(client, cfg.Role)
		stsResponse, err := creds.Retrieve(ctx)
		if err != nil {
			logger.Error("unable to authenticate assumed role", zap.String("role", cfg.Role), zap.Error(err))
			return nil, time.Time{}, err
		}

		awsConfig, err = config.LoadDefaultConfig(
			ctx,
			config.WithRegion(cfg.Region),
			config.WithBaseEndpoint(cfg.Endpoint),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				stsResponse.AccessKeyID,
				stsResponse.SecretAccessKey,
				stsResponse.SessionToken),
			),
		)
		if err != nil {
			logger.Error("unable to create kinesis client config", zap.String("role", cfg.Role), zap.Error(err))
			return nil, time.Time{}, err
		}

		credsExpireAt = stsResponse.Expires
	} else {
		awsConfig, err = config.LoadDefaultConfig(
			ctx,
			config.WithRegion(cfg.Region),
			config.WithBaseEndpoint(cfg.Endpoint),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.Credentials.AccessKey,
				cfg.Credentials.SecretKey,
				cfg.Credentials.SessionToken,
			),
			),
		)
		if err != nil {
			logger.Error("unable to create kinesis client config", zap.Error(err))
			return nil, time.Time{}, err
		}
	}

	return kinesis.NewFromConfig(awsConfig), credsExpireAt, nil
}

// PutRecords writes items to the stream in API sized chunks and returns the
// number of records the service rejected.
func (c *Client) PutRecords(items []Item, stream string) (int, error) {
	failedRecordCount := int32(0)

	for _, chunk := range batch.GetBatches(MaxPutRecordsBatchSize, items) {
		records := make([]types.PutRecordsRequestEntry, 0, len(chunk))
		for _, item := range chunk {
			records = append(records, types.PutRecordsRequestEntry{
				Data:         item.Data,
				PartitionKey: aws.String(item.PartitionKey),
			})
		}

		c.refresh()
		putOutput, err := c.svc.PutRecords(context.Background(), &kinesis.PutRecordsInput{
			Records:    records,
			StreamName: &stream,
		})

		if putOutput != nil && putOutput.FailedRecordCount != nil {
			failedRecordCount += *putOutput.FailedRecordCount
		}

		if err != nil {
			c.logger.Error("PutRecords failed", zap.Error(err))
			return int(failedRecordCount), err
		}
	}

	return int(failedRecordCount), nil
}

// refresh rebuilds the client when assumed role credentials are close to
// expiring.  The expiration is tracked locally because asking the metadata
// server on every call is too expensive.
func (c *Client) refresh() {
	if c.config.Role == "" {
		return
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.credsExpireAt.Unix() <= time.Now().Add(3*time.Minute).Unix() {
		svc, credsExpireAt, err := buildService(c.config, c.logger)
		if err != nil {
			c.logger.Error("error refreshing kinesis client", zap.Error(err))
			return
		}
		c.credsExpireAt = credsExpireAt
		c.svc = svc
	}
}
