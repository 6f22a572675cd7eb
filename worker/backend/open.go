package backend

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"imgbatch/internal/counter"
	"imgbatch/worker/cache"
	"imgbatch/worker/kafka"
	"imgbatch/worker/repository"
)

type Kind string

const (
	KindLocal  Kind = "local"
	KindRedis  Kind = "redis"
	KindRemote Kind = "remote"
	KindKafka  Kind = "kafka"
	KindNone   Kind = "none"
)

type Config struct {
	Kind Kind

	// local
	Repo *repository.SQLiteRepo

	// redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// remote
	URL   string
	Token string

	// kafka
	KafkaBrokers []string
	KafkaTopic   string
}

// Backend is an opened counter plus whatever must be closed with it.
type Backend struct {
	counter.Counter
	Kind    Kind
	closers []func() error
}

func (b *Backend) Close() error {
	var first error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Subscriber returns the push side of the backend when it has one.
func (b *Backend) Subscriber() (counter.Subscriber, bool) {
	s, ok := b.Counter.(counter.Subscriber)
	return s, ok
}

func ParseKind(value string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(value)))
	switch k {
	case KindLocal, KindRedis, KindRemote, KindKafka, KindNone:
		return k, nil
	case "":
		return KindLocal, nil
	}
	return "", fmt.Errorf("unknown counter backend %q", value)
}

// Open connects the configured backend.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Backend, error) {
	switch cfg.Kind {
	case KindLocal, "":
		if cfg.Repo == nil {
			return nil, fmt.Errorf("local counter requires a database")
		}
		return &Backend{Counter: cfg.Repo, Kind: KindLocal}, nil

	case KindRedis:
		client, err := cache.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		c := cache.NewRedisCounter(client, "", "", logger)
		return &Backend{Counter: c, Kind: KindRedis, closers: []func() error{client.Close}}, nil

	case KindRemote:
		if cfg.URL == "" {
			return nil, fmt.Errorf("remote counter requires a url")
		}
		return &Backend{Counter: NewRemote(cfg.URL, RemoteOptions{Token: cfg.Token}, logger), Kind: KindRemote}, nil

	case KindKafka:
		p, err := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		if err != nil {
			return nil, err
		}
		return &Backend{Counter: p.Counter(clientID()), Kind: KindKafka, closers: []func() error{p.Close}}, nil

	case KindNone:
		return &Backend{Counter: counter.Noop{}, Kind: KindNone}, nil
	}
	return nil, fmt.Errorf("unknown counter backend %q", cfg.Kind)
}

func clientID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
