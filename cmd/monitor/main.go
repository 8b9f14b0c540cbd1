package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	lambdasvc "github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-lambda-go/otellambda"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"
	"golang.org/x/time/rate"

	"github.com/ab0utbla-k/lambda-fleet-monitor/internal/account"
	"github.com/ab0utbla-k/lambda-fleet-monitor/internal/alert"
	"github.com/ab0utbla-k/lambda-fleet-monitor/internal/collect"
	"github.com/ab0utbla-k/lambda-fleet-monitor/internal/config"
	"github.com/ab0utbla-k/lambda-fleet-monitor/internal/handler"
	"github.com/ab0utbla-k/lambda-fleet-monitor/internal/monitor"
	"github.com/ab0utbla-k/lambda-fleet-monitor/internal/notify"
	"github.com/ab0utbla-k/lambda-fleet-monitor/internal/report"
	"github.com/ab0utbla-k/lambda-fleet-monitor/internal/sink"
	"github.com/ab0utbla-k/lambda-fleet-monitor/internal/telemetry"
)

func main() {
	startTime := time.Now()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	logger.Info("starting lambda fleet monitor")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("cannot load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		logger.Error("cannot load aws config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	otelaws.AppendMiddlewares(&awsCfg.APIOptions)

	httpClient := &http.Client{Timeout: 10 * time.Second}

	provider := account.NewProvider(awsCfg, sts.NewFromConfig(awsCfg), logger)

	// One limiter across all accounts; GetMetricData quotas are per
	// monitoring account, not per target account.
	limiter := rate.NewLimiter(rate.Limit(cfg.CloudWatchRPS), int(cfg.CloudWatchRPS)+1)

	newCollector := func(accountCfg aws.Config) monitor.Collector {
		return collect.NewCollector(
			lambdasvc.NewFromConfig(accountCfg),
			cloudwatch.NewFromConfig(accountCfg),
			cloudwatchlogs.NewFromConfig(accountCfg),
			cfg.MetricPeriod,
			cfg.ScheduleInterval,
			limiter,
			logger,
		)
	}

	store := alert.NewDynamoStore(dynamodb.NewFromConfig(awsCfg), cfg.AlertStateTable)
	evaluator := alert.NewEvaluator(cfg.Thresholds, store, cfg.Cooldown(), logger)

	var channels []notify.Channel
	if cfg.SlackWebhookURL != "" {
		channels = append(channels, notify.NewSlack(httpClient, cfg.SlackWebhookURL))
	}
	if cfg.PagerDutyRoutingKey != "" {
		channels = append(channels, notify.NewPagerDuty(httpClient, cfg.PagerDutyRoutingKey))
	}
	if cfg.SNSTopicARN != "" {
		channels = append(channels, notify.NewSNS(sns.NewFromConfig(awsCfg), cfg.SNSTopicARN))
	}
	dispatcher := notify.NewDispatcher(channels, logger)

	var sinks []sink.Sink
	if cfg.MetricsBucket != "" {
		sinks = append(sinks, sink.NewS3(s3.NewFromConfig(awsCfg), cfg.MetricsBucket))
	}
	if cfg.OpenSearchEndpoint != "" {
		sinks = append(sinks, sink.NewOpenSearch(httpClient, cfg.OpenSearchEndpoint, cfg.AWSRegion, awsCfg.Credentials))
	}
	multi := sink.NewMulti(sinks, logger)

	reporter := report.NewPublisher(eventbridge.NewFromConfig(awsCfg), cfg.EventBusName)

	runner := monitor.NewRunner(cfg, provider, newCollector, evaluator, dispatcher, multi, reporter, logger)

	tp, err := telemetry.NewTracerProvider(ctx)
	if err != nil {
		logger.Error("cannot initialize tracer provider", slog.String("error", err.Error()))
		os.Exit(1)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Error("cannot shutdown tracer provider", slog.String("error", err.Error()))
		}
	}()

	logger.Info(
		"started lambda fleet monitor",
		slog.Int("accounts", len(cfg.Accounts)),
		slog.Int("channels", len(channels)),
		slog.Int("sinks", len(sinks)),
		slog.String("region", cfg.AWSRegion),
		slog.Float64("initDurationSec", time.Since(startTime).Seconds()),
	)

	h := handler.NewHandler(runner, provider, cfg.Accounts,
		channelNames(channels), sinkNames(sinks), logger)

	lambda.Start(
		otellambda.InstrumentHandler(
			h.HandleRequest,
			otellambda.WithTracerProvider(tp),
			otellambda.WithFlusher(tp)),
	)
}

func channelNames(channels []notify.Channel) []string {
	names := make([]string, 0, len(channels))
	for _, ch := range channels {
		names = append(names, ch.Name())
	}
	return names
}

func sinkNames(sinks []sink.Sink) []string {
	names := make([]string, 0, len(sinks))
	for _, s := range sinks {
		names = append(names, s.Name())
	}
	return names
}
