package state

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/picklr-io/strata/internal/engine"
	"github.com/picklr-io/strata/internal/ir"
	"github.com/picklr-io/strata/internal/logging"
)

const defaultS3Key = "strata/" + ManifestFile

type objectAPI interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type lockAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// s3Backend stores the snapshot in S3 with optional DynamoDB locking.
type s3Backend struct {
	bucket        string
	key           string
	region        string
	dynamoDBTable string
	sse           bool
	profile       string

	sealer   *Sealer
	s3Client objectAPI
	dbClient lockAPI
	lockID   string
}

func parseS3Config(config map[string]string) (*s3Backend, error) {
	bucket := config["bucket"]
	if bucket == "" {
		return nil, fmt.Errorf("s3 backend requires 'bucket' configuration")
	}

	key := config["key"]
	switch {
	case key == "":
		key = defaultS3Key
	case strings.HasSuffix(key, "/"):
		key += ManifestFile
	}

	region := config["region"]
	if region == "" {
		region = "us-east-1"
	}

	return &s3Backend{
		bucket:        bucket,
		key:           key,
		region:        region,
		dynamoDBTable: config["dynamodb_table"],
		sse:           config["sse"] == "true",
		profile:       config["profile"],
		sealer:        SealerFromEnv(),
	}, nil
}

func newS3Backend(ctx context.Context, config map[string]string) (Backend, error) {
	b, err := parseS3Config(config)
	if err != nil {
		return nil, err
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(b.region)}
	if b.profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(b.profile))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}

	b.s3Client = s3.NewFromConfig(cfg)
	if b.dynamoDBTable != "" {
		b.dbClient = dynamodb.NewFromConfig(cfg)
	}
	return b, nil
}

func (b *s3Backend) Location() string {
	return fmt.Sprintf("s3://%s/%s", b.bucket, b.key)
}

func (b *s3Backend) Read(ctx context.Context) (*ir.Snapshot, error) {
	result, err := b.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, &engine.StateUnavailableError{Path: b.Location(), Err: os.ErrNotExist}
		}
		return nil, &engine.StateUnavailableError{Path: b.Location(), Err: err}
	}
	defer result.Body.Close()

	raw, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, &engine.StateUnavailableError{Path: b.Location(), Err: err}
	}
	content, err := b.sealer.Open(raw)
	if err != nil {
		return nil, &engine.StateUnavailableError{Path: b.Location(), Err: err}
	}
	snap, err := Decode(content)
	if err != nil {
		return nil, &engine.StateUnavailableError{Path: b.Location(), Err: err}
	}
	logging.Debug("snapshot loaded", "location", b.Location(), "nodes", len(snap.Nodes))
	return snap, nil
}

func (b *s3Backend) Write(ctx context.Context, snap *ir.Snapshot) error {
	content, err := Encode(snap)
	if err != nil {
		return err
	}
	sealed, err := b.sealer.Seal(content)
	if err != nil {
		return fmt.Errorf("failed to encrypt snapshot: %w", err)
	}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(b.key),
		Body:        bytes.NewReader(sealed),
		ContentType: aws.String("application/json"),
	}
	if b.sse {
		input.ServerSideEncryption = s3types.ServerSideEncryptionAes256
	}

	if _, err := b.s3Client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to write snapshot to %s: %w", b.Location(), err)
	}
	return nil
}

func (b *s3Backend) Lock(ctx context.Context) error {
	if b.dbClient == nil {
		return nil
	}

	owner := fmt.Sprintf("strata-%d-%d", os.Getpid(), time.Now().UnixNano())
	_, err := b.dbClient.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(b.dynamoDBTable),
		Item: map[string]dbtypes.AttributeValue{
			"LockID":  &dbtypes.AttributeValueMemberS{Value: b.key},
			"Info":    &dbtypes.AttributeValueMemberS{Value: owner},
			"Created": &dbtypes.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
		},
		ConditionExpression: aws.String("attribute_not_exists(LockID)"),
	})
	if err != nil {
		var ccf *dbtypes.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("%w. If this is an error, manually delete the lock item with LockID=%q from DynamoDB table %q",
				ErrLocked, b.key, b.dynamoDBTable)
		}
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	b.lockID = owner
	return nil
}

// Unlock deletes the lock item only while it still names this backend as owner.
func (b *s3Backend) Unlock(ctx context.Context) error {
	if b.dbClient == nil || b.lockID == "" {
		return nil
	}

	_, err := b.dbClient.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(b.dynamoDBTable),
		Key: map[string]dbtypes.AttributeValue{
			"LockID": &dbtypes.AttributeValueMemberS{Value: b.key},
		},
		ConditionExpression:       aws.String("Info = :owner"),
		ExpressionAttributeValues: map[string]dbtypes.AttributeValue{":owner": &dbtypes.AttributeValueMemberS{Value: b.lockID}},
	})
	if err != nil {
		var ccf *dbtypes.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			logging.FromContext(ctx).Warn("state lock was taken over by another invocation", "key", b.key, "table", b.dynamoDBTable)
			b.lockID = ""
			return nil
		}
		return fmt.Errorf("failed to release lock: %w", err)
	}
	b.lockID = ""
	return nil
}

func isNotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
