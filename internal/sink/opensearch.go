package sink

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"go.opentelemetry.io/otel/attribute"
)

const openSearchIndexPrefix = "lambda-metrics-"

// OpenSearch bulk-indexes documents into monthly indices. Requests are
// SigV4-signed with the monitoring account's credentials.
type OpenSearch struct {
	client   *http.Client
	endpoint string
	region   string
	creds    aws.CredentialsProvider
	signer   *v4.Signer

	now func() time.Time
}

// NewOpenSearch creates an OpenSearch sink for the given domain endpoint.
// The endpoint may omit the scheme; https is assumed.
func NewOpenSearch(client *http.Client, endpoint, region string, creds aws.CredentialsProvider) *OpenSearch {
	if !strings.Contains(endpoint, "://") {
		endpoint = "https://" + endpoint
	}

	return &OpenSearch{
		client:   client,
		endpoint: strings.TrimSuffix(endpoint, "/"),
		region:   region,
		creds:    creds,
		signer:   v4.NewSigner(),
		now:      time.Now,
	}
}

func (o *OpenSearch) Name() string {
	return "opensearch"
}

type bulkIndexAction struct {
	Index string `json:"_index"`
	ID    string `json:"_id"`
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		Status int `json:"status"`
	} `json:"items"`
}

// Store indexes the batch with one _bulk request. Document ids are
// deterministic, so retried windows upsert instead of duplicating.
func (o *OpenSearch) Store(ctx context.Context, docs []Document) error {
	ctx, span := tracer.Start(ctx, "sink.opensearch")
	defer span.End()
	span.SetAttributes(attribute.Int("opensearch.documents", len(docs)))

	body, err := encodeBulk(docs)
	if err != nil {
		return fmt.Errorf("cannot encode bulk request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint+"/_bulk", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("cannot create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-ndjson")

	if err = o.sign(ctx, req, body); err != nil {
		return fmt.Errorf("cannot sign request: %w", err)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("cannot execute bulk request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, payload)
	}

	var bulk bulkResponse
	if err = json.NewDecoder(resp.Body).Decode(&bulk); err != nil {
		return fmt.Errorf("cannot decode bulk response: %w", err)
	}

	if bulk.Errors {
		return fmt.Errorf("bulk indexing rejected %d of %d items",
			countFailedItems(bulk), len(docs))
	}

	return nil
}

func (o *OpenSearch) sign(ctx context.Context, req *http.Request, body []byte) error {
	creds, err := o.creds.Retrieve(ctx)
	if err != nil {
		return fmt.Errorf("cannot retrieve credentials: %w", err)
	}

	hash := sha256.Sum256(body)

	return o.signer.SignHTTP(ctx, creds, req, hex.EncodeToString(hash[:]), "es", o.region, o.now())
}

// encodeBulk builds the NDJSON _bulk payload: one action line and one
// document line per entry. Indices roll monthly by window timestamp.
func encodeBulk(docs []Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)

	for _, doc := range docs {
		action := map[string]bulkIndexAction{
			"index": {
				Index: openSearchIndexPrefix + doc.Timestamp.UTC().Format("2006-01"),
				ID:    doc.ID(),
			},
		}

		if err := enc.Encode(action); err != nil {
			return nil, err
		}
		if err := enc.Encode(doc); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

func countFailedItems(bulk bulkResponse) int {
	var failed int
	for _, item := range bulk.Items {
		for _, result := range item {
			if result.Status >= 300 {
				failed++
			}
		}
	}
	return failed
}
