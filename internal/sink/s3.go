package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.opentelemetry.io/otel/attribute"
)

// S3API defines required S3 operations.
type S3API interface {
	PutObject(
		ctx context.Context,
		input *s3.PutObjectInput,
		optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3 writes metric batches to the hot tier of the metrics bucket as
// NDJSON objects. Lifecycle rules on the bucket move objects to warm and
// cold tiers; the writer only ever touches hot/.
type S3 struct {
	client S3API
	bucket string

	now func() time.Time
}

// NewS3 creates an S3 sink for the given bucket.
func NewS3(client S3API, bucket string) *S3 {
	return &S3{
		client: client,
		bucket: bucket,
		now:    time.Now,
	}
}

func (s *S3) Name() string {
	return "s3"
}

// Store groups documents by account and writes one object per account
// under hot/<account>/<yyyy>/<mm>/<dd>/metrics-<unix>.ndjson.
func (s *S3) Store(ctx context.Context, docs []Document) error {
	ctx, span := tracer.Start(ctx, "sink.s3")
	defer span.End()
	span.SetAttributes(attribute.String("s3.bucket", s.bucket))

	byAccount := make(map[string][]Document)
	for _, doc := range docs {
		byAccount[doc.AccountID] = append(byAccount[doc.AccountID], doc)
	}

	now := s.now().UTC()

	for accountID, accountDocs := range byAccount {
		body, err := encodeNDJSON(accountDocs)
		if err != nil {
			return fmt.Errorf("cannot encode batch for account %s: %w", accountID, err)
		}

		key := fmt.Sprintf("hot/%s/%s/metrics-%d.ndjson",
			accountID, now.Format("2006/01/02"), now.Unix())

		_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(body),
			ContentType: aws.String("application/x-ndjson"),
		})
		if err != nil {
			return fmt.Errorf("cannot put object %s: %w", key, err)
		}
	}

	return nil
}

func encodeNDJSON(docs []Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)

	for _, doc := range docs {
		if err := enc.Encode(doc); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}
