package kinesis

import (
	"context"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	"github.com/aws/aws-sdk-go-v2/service/kinesis/types"
)

// fakeStreamClient records PutRecords calls. refuse decides, per call and
// partition key, which error code (if any) a record receives.
type fakeStreamClient struct {
	mu sync.Mutex

	status      types.StreamStatus
	describeErr error

	putErrs []error
	refuse  func(call int, key string) string

	calls [][]string
}

func (f *fakeStreamClient) DescribeStreamSummary(_ context.Context, params *kinesis.DescribeStreamSummaryInput, _ ...func(*kinesis.Options)) (*kinesis.DescribeStreamSummaryOutput, error) {
	if f.describeErr != nil {
		return nil, f.describeErr
	}
	return &kinesis.DescribeStreamSummaryOutput{
		StreamDescriptionSummary: &types.StreamDescriptionSummary{
			StreamName:   params.StreamName,
			StreamStatus: f.status,
		},
	}, nil
}

func (f *fakeStreamClient) PutRecords(_ context.Context, params *kinesis.PutRecordsInput, _ ...func(*kinesis.Options)) (*kinesis.PutRecordsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	call := len(f.calls)
	keys := make([]string, len(params.Records))
	for i, r := range params.Records {
		keys[i] = aws.ToString(r.PartitionKey)
	}
	f.calls = append(f.calls, keys)

	if call < len(f.putErrs) && f.putErrs[call] != nil {
		return nil, f.putErrs[call]
	}

	out := &kinesis.PutRecordsOutput{}
	var failed int32
	for _, key := range keys {
		code := ""
		if f.refuse != nil {
			code = f.refuse(call, key)
		}
		if code == "" {
			out.Records = append(out.Records, types.PutRecordsResultEntry{
				SequenceNumber: aws.String("1"),
				ShardId:        aws.String("shardId-000000000000"),
			})
			continue
		}
		failed++
		out.Records = append(out.Records, types.PutRecordsResultEntry{
			ErrorCode:    aws.String(code),
			ErrorMessage: aws.String("refused by fake"),
		})
	}
	out.FailedRecordCount = aws.Int32(failed)
	return out, nil
}

func (f *fakeStreamClient) callKeys() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.calls...)
}
