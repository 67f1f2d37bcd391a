// Package app assembles the orchestrator from configuration. Both binaries
// build through here so the wiring lives in one place.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/mr1hm/go-disaster-response/internal/allocator"
	"github.com/mr1hm/go-disaster-response/internal/assessment"
	"github.com/mr1hm/go-disaster-response/internal/config"
	"github.com/mr1hm/go-disaster-response/internal/inference"
	"github.com/mr1hm/go-disaster-response/internal/notify"
	"github.com/mr1hm/go-disaster-response/internal/orchestrator"
	"github.com/mr1hm/go-disaster-response/internal/pipeline"
	"github.com/mr1hm/go-disaster-response/internal/pubsub"
	"github.com/mr1hm/go-disaster-response/internal/queue"
	"github.com/mr1hm/go-disaster-response/internal/report"
	"github.com/mr1hm/go-disaster-response/internal/repository"
	"github.com/mr1hm/go-disaster-response/internal/workflow"
)

type App struct {
	Config  *config.Config
	Store   repository.Store
	Bus     *pubsub.Broadcaster
	Stages  pipeline.Stages
	Service *orchestrator.Service
	// Runner is the local workflow engine; nil when executions run on
	// Step Functions.
	Runner *pipeline.Runner

	closers []func() error
}

// Build connects every collaborator cfg selects. On error anything already
// opened is closed again.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{
		Config: cfg,
		Bus:    pubsub.NewBroadcaster(),
	}
	a.closers = append(a.closers, func() error { a.Bus.Close(); return nil })
	if err := a.build(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) (err error) {
	cfg := a.Config

	var awsCfg aws.Config
	if cfg.UsesAWS() {
		awsCfg, err = loadAWS(ctx, cfg.AWS)
		if err != nil {
			return err
		}
	}

	if a.Store, err = openStore(cfg.Store, awsCfg); err != nil {
		return err
	}
	a.closers = append(a.closers, a.Store.Close)

	publisher, err := a.buildPublisher(cfg.PubSub, awsCfg)
	if err != nil {
		return err
	}
	tasks, err := a.buildQueue(cfg.Queue, awsCfg)
	if err != nil {
		return err
	}

	var (
		assessOpts []assessment.Option
		allocOpts  []allocator.Option
		completer  inference.Completer
	)
	if cfg.Inference.BedrockEnabled {
		completer = inference.NewBedrock(bedrockruntime.NewFromConfig(awsCfg), cfg.Inference.ModelID)
		assessOpts = append(assessOpts, assessment.WithCompleter(completer))
	}
	if cfg.Inference.AnalysisFunctionARN != "" || cfg.Inference.RecommendationFunctionARN != "" {
		fn := lambda.NewFromConfig(awsCfg)
		if arn := cfg.Inference.AnalysisFunctionARN; arn != "" {
			assessOpts = append(assessOpts, assessment.WithAnalyzer(inference.NewLambdaAnalyzer(fn, arn)))
		}
		if arn := cfg.Inference.RecommendationFunctionARN; arn != "" {
			rec := inference.NewLambdaRecommender(fn, arn)
			assessOpts = append(assessOpts, assessment.WithRecommender(rec))
			allocOpts = append(allocOpts, allocator.WithRecommender(rec))
		}
	}

	a.Stages = pipeline.Stages{
		Assessment: assessment.New(a.Store, assessOpts...),
		Allocation: allocator.New(a.Store, allocOpts...),
		Notification: notify.New(a.Store, publisher, tasks, notify.Topics{
			Alert:     cfg.PubSub.AlertTopic,
			Critical:  cfg.PubSub.CriticalTopic,
			Team:      cfg.PubSub.TeamTopic,
			TaskQueue: cfg.Queue.TaskQueue,
		}),
		Report: report.New(a.Store, completer),
	}

	var events workflow.EventPublisher = workflow.NewTopicEvents(a.Bus, cfg.Events.Topic)
	if cfg.Events.EventBridgeEnabled {
		events = workflow.MultiEvents{
			events,
			workflow.NewEventBridge(eventbridge.NewFromConfig(awsCfg), cfg.Events.BusName),
		}
	}

	var starter workflow.Starter
	switch cfg.Workflow.Engine {
	case config.EngineStepFunctions:
		starter = workflow.NewStepFunctions(sfn.NewFromConfig(awsCfg))
	default:
		a.Runner = pipeline.NewRunner(a.Stages, events, pipeline.Config{
			Workers:    cfg.Worker.Count,
			BufferSize: cfg.Worker.BufferSize,
		})
		starter = a.Runner
	}

	dispatcher := workflow.NewDispatcher(cfg.Workflow.Mapping(), starter, events)
	a.Service = orchestrator.NewService(a.Store, dispatcher, a.Stages)

	slog.Info("orchestrator assembled",
		"store", cfg.Store.Driver,
		"engine", cfg.Workflow.Engine,
		"pubsub", cfg.PubSub.Driver,
		"queue", cfg.Queue.Driver,
		"bedrock", cfg.Inference.BedrockEnabled,
		"eventbridge", cfg.Events.EventBridgeEnabled,
	)
	return nil
}

// Start runs the local workflow engine, if there is one.
func (a *App) Start(ctx context.Context) {
	if a.Runner != nil {
		a.Runner.Start(ctx)
	}
}

// Close drains the local engine and then closes collaborators in reverse
// order of opening.
func (a *App) Close() error {
	if a.Runner != nil {
		a.Runner.Stop()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func loadAWS(ctx context.Context, cfg config.AWSConfig) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.Endpoint != "" {
		opts = append(opts, awsconfig.WithBaseEndpoint(cfg.Endpoint))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return awsCfg, nil
}

// OpenStore opens only the configured store, for tools that need no
// workflow engine or transports.
func OpenStore(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	var awsCfg aws.Config
	if cfg.Store.Driver == config.StoreDynamoDB {
		var err error
		if awsCfg, err = loadAWS(ctx, cfg.AWS); err != nil {
			return nil, err
		}
	}
	return openStore(cfg.Store, awsCfg)
}

func openStore(cfg config.StoreConfig, awsCfg aws.Config) (repository.Store, error) {
	switch cfg.Driver {
	case config.StoreDynamoDB:
		store, err := repository.NewDynamoStore(dynamodb.NewFromConfig(awsCfg), repository.DynamoTables{
			Emergencies: cfg.EmergencyTable,
			Resources:   cfg.ResourceTable,
			Teams:       cfg.TeamTable,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		db, err := repository.NewSQLiteDB(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		return db, nil
	}
}

func (a *App) buildPublisher(cfg config.PubSubConfig, awsCfg aws.Config) (pubsub.Publisher, error) {
	switch cfg.Driver {
	case config.PubSubNATS:
		n, err := pubsub.NewNATS(pubsub.NATSConfig{
			URL:            cfg.NATSURL,
			Name:           "emergency-orchestrator",
			ReconnectWait:  2 * time.Second,
			MaxReconnects:  60,
			ConnectTimeout: 5 * time.Second,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, n.Close)
		return n, nil
	case config.PubSubSNS:
		return pubsub.NewSNS(sns.NewFromConfig(awsCfg)), nil
	default:
		return a.Bus, nil
	}
}

func (a *App) buildQueue(cfg config.QueueConfig, awsCfg aws.Config) (queue.Enqueuer, error) {
	switch cfg.Driver {
	case config.QueueKafka:
		k, err := queue.NewKafka(cfg.KafkaBrokers, cfg.WriteTimeout)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, k.Close)
		return k, nil
	case config.QueueSQS:
		return queue.NewSQS(sqs.NewFromConfig(awsCfg)), nil
	default:
		return queue.NewMemory(), nil
	}
}
