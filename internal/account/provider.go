// Package account builds per-account AWS configurations by assuming the
// monitoring role in each target account.
package account

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/arn"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"

	"github.com/ab0utbla-k/lambda-fleet-monitor/internal/metrics"
)

const roleSessionName = "LambdaFleetMonitor"

// AssumeRoleError indicates that credentials for one account could not be
// obtained. The run skips the account and continues.
type AssumeRoleError struct {
	AccountID string
	RoleARN   string
	Err       error
}

func (e *AssumeRoleError) Error() string {
	return fmt.Sprintf("cannot assume role %s in account %s: %v", e.RoleARN, e.AccountID, e.Err)
}

func (e *AssumeRoleError) Unwrap() error {
	return e.Err
}

// Provider hands out per-account aws.Configs with temporary credentials.
// Credentials are cached per account for their validity window and
// refreshed transparently on expiry. There is no global session state;
// every account gets its own credential chain.
type Provider struct {
	base   aws.Config
	sts    stscreds.AssumeRoleAPIClient
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string]aws.CredentialsProvider
}

// NewProvider creates a Provider. The base config supplies the SDK options
// (retryer, middleware) shared by all per-account clients; stsClient is
// the monitoring account's STS client used for every AssumeRole call.
func NewProvider(base aws.Config, stsClient stscreds.AssumeRoleAPIClient, logger *slog.Logger) *Provider {
	return &Provider{
		base:   base,
		sts:    stsClient,
		logger: logger,
		cache:  make(map[string]aws.CredentialsProvider),
	}
}

// Config returns an aws.Config scoped to the monitored account's region
// and role. Credentials are retrieved eagerly so trust-policy rejections
// and malformed ARNs surface here as *AssumeRoleError.
func (p *Provider) Config(ctx context.Context, account metrics.MonitoredAccount) (aws.Config, error) {
	if !arn.IsARN(account.RoleARN) {
		return aws.Config{}, &AssumeRoleError{
			AccountID: account.AccountID,
			RoleARN:   account.RoleARN,
			Err:       fmt.Errorf("malformed role ARN"),
		}
	}

	creds := p.credentials(account)

	if _, err := creds.Retrieve(ctx); err != nil {
		return aws.Config{}, &AssumeRoleError{
			AccountID: account.AccountID,
			RoleARN:   account.RoleARN,
			Err:       err,
		}
	}

	cfg := p.base.Copy()
	cfg.Region = account.Region
	cfg.Credentials = creds

	return cfg, nil
}

// credentials returns the cached credential provider for the account,
// creating it on first use. The cache itself refreshes expired
// credentials; entries live for the process lifetime.
func (p *Provider) credentials(account metrics.MonitoredAccount) aws.CredentialsProvider {
	p.mu.Lock()
	defer p.mu.Unlock()

	if creds, ok := p.cache[account.AccountID]; ok {
		return creds
	}

	provider := stscreds.NewAssumeRoleProvider(p.sts, account.RoleARN, func(o *stscreds.AssumeRoleOptions) {
		o.RoleSessionName = roleSessionName
	})

	creds := aws.NewCredentialsCache(provider)
	p.cache[account.AccountID] = creds

	p.logger.Debug("created credential provider",
		slog.String("accountId", account.AccountID),
		slog.String("roleArn", account.RoleARN))

	return creds
}
