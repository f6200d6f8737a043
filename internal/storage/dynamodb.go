package storage

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/agnox/callcore/internal/types"
	"github.com/rs/zerolog"
)

// DynamoDBStore implements Store using AWS DynamoDB
type DynamoDBStore struct {
	client *dynamodb.Client
	config DynamoConfig
	logger zerolog.Logger
}

// NewDynamoDBStore creates a new DynamoDB store
func NewDynamoDBStore(ctx context.Context, cfg DynamoConfig, logger zerolog.Logger) (*DynamoDBStore, error) {
	var client *dynamodb.Client

	if cfg.Mode == DynamoModeLocal {
		// For local mode, build the client directly without LoadDefaultConfig.
		// LoadDefaultConfig probes the EC2 IMDS endpoint which hangs on EC2
		// instances when static credentials are intended.
		client = dynamodb.New(dynamodb.Options{
			Region:       cfg.Region,
			BaseEndpoint: aws.String(cfg.Endpoint),
			Credentials:  credentials.NewStaticCredentialsProvider("local", "local", ""),
		})
	} else {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		client = dynamodb.NewFromConfig(awsCfg)
	}

	store := &DynamoDBStore{
		client: client,
		config: cfg,
		logger: logger,
	}

	// Create tables in local mode
	if cfg.Mode == DynamoModeLocal {
		if err := CreateTablesIfNotExist(ctx, client, cfg, logger); err != nil {
			return nil, err
		}
	}

	logger.Info().
		Str("mode", string(cfg.Mode)).
		Str("region", cfg.Region).
		Msg("DynamoDB store initialized")

	return store, nil
}

func (s *DynamoDBStore) putItem(table string, entity any, what string) error {
	item, err := attributevalue.MarshalMap(entity)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", what, err)
	}

	_, err = s.client.PutItem(context.Background(), &dynamodb.PutItemInput{
		TableName: aws.String(table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to save %s: %w", what, err)
	}
	return nil
}

func (s *DynamoDBStore) SaveCustomer(c types.Customer) error {
	return s.putItem(s.config.CustomersTable, c, "customer")
}

func (s *DynamoDBStore) SaveAgent(a types.Agent) error {
	return s.putItem(s.config.AgentsTable, a, "agent")
}

func (s *DynamoDBStore) SaveQueueEntry(e types.QueueEntry) error {
	return s.putItem(s.config.QueueTable, e, "queue entry")
}

func (s *DynamoDBStore) SaveSession(rec types.SessionRecord) error {
	return s.putItem(s.config.SessionsTable, rec, "session record")
}

func (s *DynamoDBStore) AppendTranscript(rec types.TranscriptRecord) error {
	return s.putItem(s.config.TranscriptsTable, rec, "transcript record")
}

func (s *DynamoDBStore) SaveTransfer(tr types.TransferRequest) error {
	return s.putItem(s.config.TransfersTable, tr, "transfer request")
}

func (s *DynamoDBStore) SaveCallback(cb types.Callback) error {
	return s.putItem(s.config.CallbacksTable, cb, "callback")
}

func (s *DynamoDBStore) LoadCustomers() ([]types.Customer, error) {
	var customers []types.Customer
	if err := s.scanAll(s.config.CustomersTable, &customers); err != nil {
		return nil, fmt.Errorf("failed to load customers: %w", err)
	}
	return customers, nil
}

func (s *DynamoDBStore) LoadAgents() ([]types.Agent, error) {
	var agents []types.Agent
	if err := s.scanAll(s.config.AgentsTable, &agents); err != nil {
		return nil, fmt.Errorf("failed to load agents: %w", err)
	}
	return agents, nil
}

func (s *DynamoDBStore) LoadWaitingEntries() ([]types.QueueEntry, error) {
	filter := expression.Name("Status").Equal(expression.Value(string(types.EntryWaiting)))
	expr, err := expression.NewBuilder().WithFilter(filter).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression: %w", err)
	}

	result, err := s.client.Scan(context.Background(), &dynamodb.ScanInput{
		TableName:                 aws.String(s.config.QueueTable),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan waiting entries: %w", err)
	}

	var entries []types.QueueEntry
	if err := attributevalue.UnmarshalListOfMaps(result.Items, &entries); err != nil {
		return nil, fmt.Errorf("failed to unmarshal queue entries: %w", err)
	}
	return entries, nil
}

func (s *DynamoDBStore) LoadCallbacks() ([]types.Callback, error) {
	var callbacks []types.Callback
	if err := s.scanAll(s.config.CallbacksTable, &callbacks); err != nil {
		return nil, fmt.Errorf("failed to load callbacks: %w", err)
	}
	return callbacks, nil
}

func (s *DynamoDBStore) GetSessions(dateKey string) ([]types.SessionRecord, error) {
	keyCond := expression.Key("DateKey").Equal(expression.Value(dateKey))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression: %w", err)
	}

	result, err := s.client.Query(context.Background(), &dynamodb.QueryInput{
		TableName:                 aws.String(s.config.SessionsTable),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}

	var records []types.SessionRecord
	if err := attributevalue.UnmarshalListOfMaps(result.Items, &records); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session records: %w", err)
	}
	return records, nil
}

func (s *DynamoDBStore) GetTranscript(sessionID string) ([]types.TranscriptRecord, error) {
	keyCond := expression.Key("SessionID").Equal(expression.Value(sessionID))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression: %w", err)
	}

	result, err := s.client.Query(context.Background(), &dynamodb.QueryInput{
		TableName:                 aws.String(s.config.TranscriptsTable),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query transcript: %w", err)
	}

	var records []types.TranscriptRecord
	if err := attributevalue.UnmarshalListOfMaps(result.Items, &records); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transcript records: %w", err)
	}
	return records, nil
}

func (s *DynamoDBStore) scanAll(table string, out any) error {
	result, err := s.client.Scan(context.Background(), &dynamodb.ScanInput{
		TableName: aws.String(table),
	})
	if err != nil {
		return err
	}
	return attributevalue.UnmarshalListOfMaps(result.Items, out)
}
