package kinesis

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kinesis/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ajitpratap0/sqlstream/pkg/config"
	"github.com/ajitpratap0/sqlstream/pkg/errors"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		client  *fakeStreamClient
		wantErr bool
	}{
		{name: "active", client: &fakeStreamClient{status: types.StreamStatusActive}},
		{name: "updating", client: &fakeStreamClient{status: types.StreamStatusUpdating}},
		{name: "creating", client: &fakeStreamClient{status: types.StreamStatusCreating}, wantErr: true},
		{name: "describe fails", client: &fakeStreamClient{describeErr: &types.ResourceNotFoundException{Message: aws.String("not found")}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewConnection(tt.client, zap.NewNop()).Validate(context.Background(), "events")
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))
			assert.True(t, errors.IsFatal(err), "startup validation failures terminate the process")
		})
	}
}

func TestConnectionConfigFromSink(t *testing.T) {
	sink := config.Default().Sink
	sink.Region = "eu-west-1"
	sink.AWSKeyID = "AKID"
	sink.AWSSecKey = "SECRET"
	sink.Endpoint = "http://localhost:4566"
	sink.Debug = true

	cfg := ConnectionConfigFromSink(sink)
	assert.Equal(t, ConnectionConfig{
		Region:          "eu-west-1",
		AccessKeyID:     "AKID",
		SecretAccessKey: "SECRET",
		Endpoint:        "http://localhost:4566",
		Debug:           true,
	}, cfg)

	assert.Len(t, cfg.loadOptions(zap.NewNop()), 4)
	assert.Empty(t, ConnectionConfig{}.loadOptions(nil))
}

func TestConnectUsesStaticCredentials(t *testing.T) {
	conn, err := Connect(context.Background(), ConnectionConfig{
		Region:          "us-east-1",
		AccessKeyID:     "AKID",
		SecretAccessKey: "SECRET",
		Endpoint:        "http://localhost:4566",
	}, zap.NewNop())
	require.NoError(t, err)
	assert.NotNil(t, conn.Client())
}
