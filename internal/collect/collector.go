// Package collect queries per-account Lambda function inventories and
// CloudWatch metric statistics for one collection window.
package collect

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/ab0utbla-k/lambda-fleet-monitor/internal/metrics"
)

var tracer = otel.Tracer("github.com/ab0utbla-k/lambda-fleet-monitor/internal/collect")

// CloudWatchAPI defines the CloudWatch operations required for collection.
type CloudWatchAPI interface {
	GetMetricData(
		ctx context.Context,
		input *cloudwatch.GetMetricDataInput,
		optFns ...func(*cloudwatch.Options)) (*cloudwatch.GetMetricDataOutput, error)
}

// LambdaAPI defines the Lambda operations required for collection.
type LambdaAPI interface {
	ListFunctions(
		ctx context.Context,
		input *lambda.ListFunctionsInput,
		optFns ...func(*lambda.Options)) (*lambda.ListFunctionsOutput, error)
}

// LogsAPI defines the CloudWatch Logs operations required for collection.
type LogsAPI interface {
	FilterLogEvents(
		ctx context.Context,
		input *cloudwatchlogs.FilterLogEventsInput,
		optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.FilterLogEventsOutput, error)
}

// lambdaMetric describes one CloudWatch query issued per function and how
// multiple period datapoints fold into a single window value.
type lambdaMetric struct {
	key        string
	metricName string
	stat       string
	fold       func(values []float64) float64
}

func sum(values []float64) float64 {
	var total float64
	for _, v := range values {
		total += v
	}
	return total
}

func maxOf(values []float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func avg(values []float64) float64 {
	return sum(values) / float64(len(values))
}

var lambdaMetrics = []lambdaMetric{
	{key: "invocations", metricName: "Invocations", stat: "Sum", fold: sum},
	{key: "errors", metricName: "Errors", stat: "Sum", fold: sum},
	{key: "duravg", metricName: "Duration", stat: "Average", fold: avg},
	{key: "durp95", metricName: "Duration", stat: "p95", fold: maxOf},
	{key: "throttles", metricName: "Throttles", stat: "Sum", fold: sum},
	{key: "concurrent", metricName: "ConcurrentExecutions", stat: "Maximum", fold: maxOf},
	{key: "iterage", metricName: "IteratorAge", stat: "Maximum", fold: maxOf},
}

// Collector fetches one window of metrics for every function in one
// account. Clients are account-scoped; the orchestrator creates a
// Collector per account from the assumed-role config.
type Collector struct {
	lambda   LambdaAPI
	cw       CloudWatchAPI
	logs     LogsAPI
	period   time.Duration
	lookback time.Duration
	limiter  *rate.Limiter
	logger   *slog.Logger

	now func() time.Time
}

// NewCollector creates a Collector. The limiter bounds metric and log API
// call rate and is shared across accounts to respect the provider-side
// quota.
func NewCollector(
	lambdaClient LambdaAPI,
	cwClient CloudWatchAPI,
	logsClient LogsAPI,
	period, lookback time.Duration,
	limiter *rate.Limiter,
	logger *slog.Logger,
) *Collector {
	return &Collector{
		lambda:   lambdaClient,
		cw:       cwClient,
		logs:     logsClient,
		period:   period,
		lookback: lookback,
		limiter:  limiter,
		logger:   logger,
		now:      time.Now,
	}
}

// Collect lists the account's functions and queries their metrics for the
// lookback window aligned to period boundaries. Returns one FunctionWindow
// per function; a function with no traffic still yields a window with zero
// counters.
func (c *Collector) Collect(ctx context.Context, account metrics.MonitoredAccount) ([]metrics.FunctionWindow, error) {
	ctx, span := tracer.Start(ctx, "collect.account")
	defer span.End()
	span.SetAttributes(attribute.String("account.id", account.AccountID))

	functions, err := c.listFunctions(ctx)
	if err != nil {
		return nil, fmt.Errorf("cannot list functions in account %s: %w", account.AccountID, err)
	}

	span.SetAttributes(attribute.Int("account.functions", len(functions)))

	if len(functions) == 0 {
		return nil, nil
	}

	endTime := alignToPeriodBoundary(c.now(), c.period)
	startTime := endTime.Add(-c.lookback)

	windows := make([]metrics.FunctionWindow, len(functions))
	for i, fn := range functions {
		windows[i] = metrics.FunctionWindow{
			FunctionName: aws.ToString(fn.FunctionName),
			AccountID:    account.AccountID,
			Region:       account.Region,
			Runtime:      string(fn.Runtime),
			LastModified: aws.ToString(fn.LastModified),
			MemoryMB:     aws.ToInt32(fn.MemorySize),
			TimeoutSec:   aws.ToInt32(fn.Timeout),
			WindowStart:  startTime,
			WindowEnd:    endTime,
		}
	}

	if err := c.queryMetrics(ctx, windows, startTime, endTime); err != nil {
		return nil, fmt.Errorf("cannot query metrics in account %s: %w", account.AccountID, err)
	}

	c.collectMemoryUsage(ctx, windows)

	return windows, nil
}

func (c *Collector) listFunctions(ctx context.Context) ([]lambdatypes.FunctionConfiguration, error) {
	paginator := lambda.NewListFunctionsPaginator(c.lambda, &lambda.ListFunctionsInput{})

	var functions []lambdatypes.FunctionConfiguration

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("cannot list functions on next page: %w", err)
		}
		functions = append(functions, page.Functions...)
	}

	return functions, nil
}

// queryMetrics issues batched GetMetricData calls for all functions and
// folds the results into the windows in place.
func (c *Collector) queryMetrics(
	ctx context.Context,
	windows []metrics.FunctionWindow,
	startTime, endTime time.Time,
) error {
	period := int32(c.period.Seconds())

	queries := make([]cwtypes.MetricDataQuery, 0, len(windows)*len(lambdaMetrics))
	for i, w := range windows {
		for _, lm := range lambdaMetrics {
			queries = append(queries, cwtypes.MetricDataQuery{
				Id: aws.String(fmt.Sprintf("m%d_%s", i, lm.key)),
				MetricStat: &cwtypes.MetricStat{
					Metric: &cwtypes.Metric{
						Namespace:  aws.String("AWS/Lambda"),
						MetricName: aws.String(lm.metricName),
						Dimensions: []cwtypes.Dimension{{
							Name:  aws.String("FunctionName"),
							Value: aws.String(w.FunctionName),
						}},
					},
					Period: aws.Int32(period),
					Stat:   aws.String(lm.stat),
				},
				ReturnData: aws.Bool(true),
			})
		}
	}

	// CloudWatch caps GetMetricData at 500 queries per call.
	const batchSize = 500

	for i := 0; i < len(queries); i += batchSize {
		end := i + batchSize
		if end > len(queries) {
			end = len(queries)
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("cannot wait for metrics rate limit: %w", err)
		}

		output, err := c.cw.GetMetricData(ctx, &cloudwatch.GetMetricDataInput{
			MetricDataQueries: queries[i:end],
			StartTime:         aws.Time(startTime),
			EndTime:           aws.Time(endTime),
		})
		if err != nil {
			return fmt.Errorf("cannot get metric data: %w", err)
		}

		for _, result := range output.MetricDataResults {
			c.applyResult(windows, result)
		}
	}

	return nil
}

// applyResult matches one query result back to its window by id.
func (c *Collector) applyResult(windows []metrics.FunctionWindow, result cwtypes.MetricDataResult) {
	id := aws.ToString(result.Id)

	idx, key, ok := parseQueryID(id)
	if !ok || idx >= len(windows) {
		c.logger.Warn("unexpected metric data result id", slog.String("id", id))
		return
	}

	if len(result.Values) == 0 {
		return
	}

	var folded float64
	for _, lm := range lambdaMetrics {
		if lm.key == key {
			folded = lm.fold(result.Values)
			break
		}
	}

	w := &windows[idx]
	switch key {
	case "invocations":
		w.Invocations = folded
	case "errors":
		w.Errors = folded
	case "duravg":
		w.DurationAvgMS = folded
	case "durp95":
		w.DurationP95MS = folded
	case "throttles":
		w.Throttles = folded
	case "concurrent":
		w.ConcurrentMax = folded
	case "iterage":
		// Only stream-triggered functions report IteratorAge at all.
		w.IteratorAgeMaxMS = folded
		w.HasIteratorAge = true
	}
}

// reportMemoryPattern matches the max-memory figure in Lambda REPORT log
// lines. CloudWatch publishes no memory metric for Lambda; the REPORT
// line is the only place the platform exposes per-invocation memory use.
var reportMemoryPattern = regexp.MustCompile(`Max Memory Used: (\d+) MB`)

// collectMemoryUsage scans each active function's REPORT log lines for
// the window and records the highest max-memory-used figure. A log access
// failure leaves the window without a memory reading; it never fails the
// account.
func (c *Collector) collectMemoryUsage(ctx context.Context, windows []metrics.FunctionWindow) {
	for i := range windows {
		w := &windows[i]
		if w.Invocations == 0 {
			continue
		}

		used, found, err := c.maxMemoryUsed(ctx, w.FunctionName, w.WindowStart, w.WindowEnd)
		if err != nil {
			c.logger.Warn("cannot read memory usage from logs",
				slog.String("functionName", w.FunctionName),
				slog.Any("error", err))
			continue
		}

		if found {
			w.MemoryUsedMaxMB = used
			w.HasMemoryUsed = true
		}
	}
}

func (c *Collector) maxMemoryUsed(ctx context.Context, functionName string, start, end time.Time) (float64, bool, error) {
	logGroup := "/aws/lambda/" + functionName

	var (
		highest float64
		found   bool
		token   *string
	)

	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, false, fmt.Errorf("cannot wait for metrics rate limit: %w", err)
		}

		out, err := c.logs.FilterLogEvents(ctx, &cloudwatchlogs.FilterLogEventsInput{
			LogGroupName:  aws.String(logGroup),
			FilterPattern: aws.String("REPORT"),
			StartTime:     aws.Int64(start.UnixMilli()),
			EndTime:       aws.Int64(end.UnixMilli()),
			NextToken:     token,
		})
		if err != nil {
			return 0, false, fmt.Errorf("cannot filter log events for %s: %w", logGroup, err)
		}

		for _, event := range out.Events {
			m := reportMemoryPattern.FindStringSubmatch(aws.ToString(event.Message))
			if m == nil {
				continue
			}

			used, err := strconv.ParseFloat(m[1], 64)
			if err != nil {
				continue
			}

			if !found || used > highest {
				highest = used
				found = true
			}
		}

		token = out.NextToken
		if token == nil {
			return highest, found, nil
		}
	}
}

func parseQueryID(id string) (int, string, bool) {
	if !strings.HasPrefix(id, "m") {
		return 0, "", false
	}

	rest, key, found := strings.Cut(id[1:], "_")
	if !found {
		return 0, "", false
	}

	idx, err := strconv.Atoi(rest)
	if err != nil {
		return 0, "", false
	}

	return idx, key, true
}

// alignToPeriodBoundary rounds a timestamp down to the nearest period
// boundary. CloudWatch returns sparse data for misaligned windows.
func alignToPeriodBoundary(t time.Time, period time.Duration) time.Time {
	periodSeconds := int64(period.Seconds())
	alignedUnix := (t.Unix() / periodSeconds) * periodSeconds
	return time.Unix(alignedUnix, 0).UTC()
}
