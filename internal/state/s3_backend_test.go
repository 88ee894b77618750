package state

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/picklr-io/strata/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeObjects struct {
	objects map[string][]byte
	getErr  error
}

func (f *fakeObjects) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &smithy.GenericAPIError{Code: "NoSuchKey", Message: "The specified key does not exist."}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeObjects) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

// fakeLocks maps LockID to the Info (owner) attribute.
type fakeLocks struct {
	held map[string]string
}

func conditionFailed() error {
	return &dbtypes.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
}

func (f *fakeLocks) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	key := in.Item["LockID"].(*dbtypes.AttributeValueMemberS).Value
	if _, ok := f.held[key]; ok {
		return nil, conditionFailed()
	}
	f.held[key] = in.Item["Info"].(*dbtypes.AttributeValueMemberS).Value
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeLocks) DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	key := in.Key["LockID"].(*dbtypes.AttributeValueMemberS).Value
	if owner, ok := in.ExpressionAttributeValues[":owner"]; ok {
		if f.held[key] != owner.(*dbtypes.AttributeValueMemberS).Value {
			return nil, conditionFailed()
		}
	}
	delete(f.held, key)
	return &dynamodb.DeleteItemOutput{}, nil
}

func fakeS3Backend(t *testing.T) *s3Backend {
	t.Helper()
	b, err := parseS3Config(map[string]string{"bucket": "snapshots", "key": "prod/", "dynamodb_table": "strata-locks"})
	require.NoError(t, err)
	b.s3Client = &fakeObjects{objects: map[string][]byte{}}
	b.dbClient = &fakeLocks{held: map[string]string{}}
	return b
}

func TestParseS3Config(t *testing.T) {
	_, err := parseS3Config(map[string]string{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket")

	b, err := parseS3Config(map[string]string{"bucket": "my-bucket"})
	require.NoError(t, err)
	assert.Equal(t, "strata/manifest.json", b.key)
	assert.Equal(t, "us-east-1", b.region)
	assert.Empty(t, b.dynamoDBTable)
	assert.False(t, b.sse)

	b, err = parseS3Config(map[string]string{
		"bucket": "custom-bucket", "key": "envs/prod/", "region": "eu-west-1",
		"dynamodb_table": "strata-locks", "sse": "true", "profile": "staging",
	})
	require.NoError(t, err)
	assert.Equal(t, "envs/prod/manifest.json", b.key)
	assert.Equal(t, "eu-west-1", b.region)
	assert.Equal(t, "strata-locks", b.dynamoDBTable)
	assert.True(t, b.sse)
	assert.Equal(t, "s3://custom-bucket/envs/prod/manifest.json", b.Location())
}

func TestS3Backend_ReadWrite(t *testing.T) {
	t.Setenv(EncryptionKeyEnvVar, "")
	b := fakeS3Backend(t)
	ctx := context.Background()

	_, err := b.Read(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, engine.ErrStateUnavailable))

	require.NoError(t, b.Write(ctx, testSnapshot()))
	got, err := b.Read(ctx)
	require.NoError(t, err)
	assert.Len(t, got.Nodes, 2)
	assert.Equal(t, "shop", got.Metadata.Project)
}

func TestS3Backend_ReadFailure(t *testing.T) {
	b := fakeS3Backend(t)
	b.s3Client.(*fakeObjects).getErr = errors.New("access denied")

	_, err := b.Read(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, engine.ErrStateUnavailable))
	assert.Contains(t, err.Error(), "access denied")
}

func TestS3Backend_Lock(t *testing.T) {
	b := fakeS3Backend(t)
	ctx := context.Background()

	require.NoError(t, b.Lock(ctx))
	err := b.Lock(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLocked))
	require.NoError(t, b.Unlock(ctx))
	require.NoError(t, b.Lock(ctx))
}

func TestS3Backend_UnlockKeepsForeignLock(t *testing.T) {
	b := fakeS3Backend(t)
	locks := b.dbClient.(*fakeLocks)
	ctx := context.Background()

	require.NoError(t, b.Unlock(ctx), "unlocking without holding the lock is a no-op")

	require.NoError(t, b.Lock(ctx))
	locks.held[b.key] = "strata-other"
	require.NoError(t, b.Unlock(ctx))
	assert.Equal(t, "strata-other", locks.held[b.key])
}

func TestNewBackend(t *testing.T) {
	ctx := context.Background()

	_, err := NewBackend(ctx, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nil")

	_, err = NewBackend(ctx, &BackendConfig{Type: "redis"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown backend type")

	_, err = NewBackend(ctx, &BackendConfig{Type: "local"})
	require.Error(t, err)

	dir := t.TempDir()
	b, err := Open(ctx, dir)
	require.NoError(t, err)
	assert.IsType(t, &Manager{}, b)
}
