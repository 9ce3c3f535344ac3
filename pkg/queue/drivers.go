package queue

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmamqp "github.com/ThreeDotsLabs/watermill-amqp/pkg/amqp"
	wmhttp "github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	wmkafka "github.com/ThreeDotsLabs/watermill-kafka/pkg/kafka"
	wmnats "github.com/ThreeDotsLabs/watermill-nats/pkg/nats"
	wmsql "github.com/ThreeDotsLabs/watermill-sql/pkg/sql"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	stan "github.com/nats-io/stan.go"

	// Database drivers for the SQL queue backend.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"

	"prmonitor/internal"
)

func openBuiltin(cfg internal.QueueConfig, logger watermill.LoggerAdapter, driver string) (*Queue, error) {
	switch driver {
	case "gochannel":
		ch := gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: cfg.GoChannel.OutputChannelBuffer,
			Persistent:          cfg.GoChannel.Persistent,
		}, logger)
		return &Queue{pub: ch, sub: ch, shared: true}, nil

	case "amqp":
		if cfg.AMQP.URL == "" {
			return nil, errors.New("amqp url is required")
		}
		amqpCfg, err := amqpConfigFromMode(cfg.AMQP.URL, cfg.AMQP.Mode)
		if err != nil {
			return nil, err
		}
		pub, err := retryBuild(func() (message.Publisher, error) {
			return wmamqp.NewPublisher(amqpCfg, logger)
		})
		if err != nil {
			return nil, err
		}
		sub, err := wmamqp.NewSubscriber(amqpCfg, logger)
		if err != nil {
			return nil, err
		}
		return &Queue{pub: pub, sub: sub}, nil

	case "kafka":
		if len(cfg.Kafka.Brokers) == 0 {
			return nil, errors.New("kafka brokers are required")
		}
		pub, err := retryBuild(func() (message.Publisher, error) {
			return wmkafka.NewPublisher(cfg.Kafka.Brokers, wmkafka.DefaultMarshaler{}, nil, logger)
		})
		if err != nil {
			return nil, err
		}
		sub, err := wmkafka.NewSubscriber(wmkafka.SubscriberConfig{
			Brokers:       cfg.Kafka.Brokers,
			ConsumerGroup: cfg.Kafka.ConsumerGroup,
		}, nil, wmkafka.DefaultMarshaler{}, logger)
		if err != nil {
			return nil, err
		}
		return &Queue{pub: pub, sub: sub}, nil

	case "nats":
		if cfg.NATS.ClusterID == "" || cfg.NATS.ClientID == "" {
			return nil, errors.New("nats cluster_id and client_id are required")
		}
		var stanOpts []stan.Option
		if cfg.NATS.URL != "" {
			stanOpts = append(stanOpts, stan.NatsURL(cfg.NATS.URL))
		}
		pub, err := wmnats.NewStreamingPublisher(wmnats.StreamingPublisherConfig{
			ClusterID:   cfg.NATS.ClusterID,
			ClientID:    cfg.NATS.ClientID + "-pub",
			Marshaler:   wmnats.GobMarshaler{},
			StanOptions: stanOpts,
		}, logger)
		if err != nil {
			return nil, err
		}
		sub, err := wmnats.NewStreamingSubscriber(wmnats.StreamingSubscriberConfig{
			ClusterID:   cfg.NATS.ClusterID,
			ClientID:    cfg.NATS.ClientID + "-sub",
			DurableName: cfg.NATS.Durable,
			Unmarshaler: wmnats.GobMarshaler{},
			StanOptions: stanOpts,
		}, logger)
		if err != nil {
			return nil, err
		}
		return &Queue{pub: pub, sub: sub}, nil

	case "sql":
		if cfg.SQL.Driver == "" || cfg.SQL.DSN == "" {
			return nil, errors.New("sql driver and dsn are required")
		}
		schemaAdapter, offsetsAdapter, err := sqlAdapters(cfg.SQL.Dialect)
		if err != nil {
			return nil, err
		}
		db, err := sql.Open(cfg.SQL.Driver, cfg.SQL.DSN)
		if err != nil {
			return nil, err
		}
		pub, err := wmsql.NewPublisher(db, wmsql.PublisherConfig{
			SchemaAdapter:        schemaAdapter,
			AutoInitializeSchema: cfg.SQL.InitializeSchema,
		}, logger)
		if err != nil {
			db.Close()
			return nil, err
		}
		sub, err := wmsql.NewSubscriber(db, wmsql.SubscriberConfig{
			SchemaAdapter:    schemaAdapter,
			OffsetsAdapter:   offsetsAdapter,
			InitializeSchema: cfg.SQL.InitializeSchema,
		}, logger)
		if err != nil {
			db.Close()
			return nil, err
		}
		return &Queue{pub: pub, sub: sub, closeFn: db.Close}, nil

	case "http":
		// Forwarding driver: jobs are POSTed to an external worker.
		pub, err := wmhttp.NewPublisher(wmhttp.PublisherConfig{
			MarshalMessageFunc: func(topic string, msg *message.Message) (*http.Request, error) {
				target, err := httpTargetURL(cfg.HTTP, topic)
				if err != nil {
					return nil, err
				}
				return wmhttp.DefaultMarshalMessageFunc(target, msg)
			},
		}, logger)
		if err != nil {
			return nil, err
		}
		return &Queue{pub: pub}, nil

	default:
		return nil, fmt.Errorf("unsupported queue driver: %s", driver)
	}
}

func amqpConfigFromMode(url, mode string) (wmamqp.Config, error) {
	switch strings.ToLower(mode) {
	case "", "durable_queue":
		return wmamqp.NewDurableQueueConfig(url), nil
	case "nondurable_queue":
		return wmamqp.NewNonDurableQueueConfig(url), nil
	case "durable_pubsub":
		return wmamqp.NewDurablePubSubConfig(url, nil), nil
	case "nondurable_pubsub":
		return wmamqp.NewNonDurablePubSubConfig(url, nil), nil
	default:
		return wmamqp.Config{}, fmt.Errorf("unsupported amqp mode: %s", mode)
	}
}

func sqlAdapters(dialect string) (wmsql.SchemaAdapter, wmsql.OffsetsAdapter, error) {
	switch strings.ToLower(dialect) {
	case "postgres", "postgresql":
		return wmsql.DefaultPostgreSQLSchema{}, wmsql.DefaultPostgreSQLOffsetsAdapter{}, nil
	case "mysql":
		return wmsql.DefaultMySQLSchema{}, wmsql.DefaultMySQLOffsetsAdapter{}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported sql dialect: %s", dialect)
	}
}

func httpTargetURL(cfg internal.HTTPConfig, topic string) (string, error) {
	switch strings.ToLower(cfg.Mode) {
	case "topic_url":
		if topic == "" {
			return "", fmt.Errorf("http topic url is empty")
		}
		return topic, nil
	case "base_url":
		if cfg.BaseURL == "" {
			return "", fmt.Errorf("http base_url is empty")
		}
		if topic == "" {
			return strings.TrimRight(cfg.BaseURL, "/"), nil
		}
		return strings.TrimRight(cfg.BaseURL, "/") + "/" + strings.TrimLeft(topic, "/"), nil
	default:
		return "", fmt.Errorf("unsupported http mode: %s", cfg.Mode)
	}
}

func retryBuild(build func() (message.Publisher, error)) (message.Publisher, error) {
	const attempts = 5
	const delay = 2 * time.Second

	var lastErr error
	for i := 0; i < attempts; i++ {
		pub, err := build()
		if err == nil {
			return pub, nil
		}
		lastErr = err
		time.Sleep(delay)
	}
	return nil, lastErr
}
