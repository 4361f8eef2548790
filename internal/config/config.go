package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Redis struct {
	Host     string // e.g. localhost
	Port     string // e.g. 6379
	Password string
	DB       int // broker/backend database
	SideDB   int // side-channel database, kept separate from the broker
}

type Queue struct {
	Name            string        // default task queue name
	ResultsExpireIn int           // seconds before the backend drops results
	Concurrency     int           // worker goroutines
	ConsumerTag     string        // worker identity reported to the broker
	LockRetries     int           // redis lock acquisition retries
	PollPeriod      time.Duration // broker poll period for normal tasks
}

type Worker struct {
	HTTPPort string // metrics/health port
}

type Probes struct {
	EchoKey  string // list key echo probes append to
	CountKey string // counter key count probes increment
	GroupKey string // list key group-id probes append to
}

type Config struct {
	AppName string
	Redis   Redis
	Queue   Queue
	Worker  Worker
	Probes  Probes
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func FromEnv() Config {
	return Config{
		AppName: getenv("APP_NAME", "queueprobe"),
		Redis: Redis{
			Host:     getenv("REDIS_HOST", "localhost"),
			Port:     getenv("REDIS_PORT", "6379"),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getenvInt("REDIS_DB", 0),
			SideDB:   getenvInt("REDIS_SIDE_DB", 0),
		},
		Queue: Queue{
			Name:            getenv("QUEUE_NAME", "queueprobe_tasks"),
			ResultsExpireIn: getenvInt("RESULTS_EXPIRE_IN", 3600),
			Concurrency:     getenvInt("WORKER_CONCURRENCY", 10),
			ConsumerTag:     getenv("WORKER_TAG", "queueprobe_worker"),
			LockRetries:     getenvInt("LOCK_RETRIES", 3),
			PollPeriod:      getenvDuration("BROKER_POLL_PERIOD", time.Second),
		},
		Worker: Worker{
			HTTPPort: ":" + getenv("WORKER_HTTP_PORT", "8082"),
		},
		Probes: Probes{
			EchoKey:  getenv("PROBE_ECHO_KEY", "redis-echo"),
			CountKey: getenv("PROBE_COUNT_KEY", "redis-count"),
			GroupKey: getenv("PROBE_GROUP_KEY", "redis-group-ids"),
		},
	}
}

// Addr returns the host:port the broker, backend and side channel share.
func (r Redis) Addr() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}
