// Package worker assembles the framework server around the probe suite:
// broker, result backend, distributed lock and task registration.
package worker

import (
	"fmt"

	machinery "github.com/RichardKnop/machinery/v2"
	eagerbackend "github.com/RichardKnop/machinery/v2/backends/eager"
	redisbackend "github.com/RichardKnop/machinery/v2/backends/redis"
	eagerbroker "github.com/RichardKnop/machinery/v2/brokers/eager"
	redisbroker "github.com/RichardKnop/machinery/v2/brokers/redis"
	machineryconfig "github.com/RichardKnop/machinery/v2/config"
	eagerlock "github.com/RichardKnop/machinery/v2/locks/eager"
	redislock "github.com/RichardKnop/machinery/v2/locks/redis"

	"github.com/queueprobe/queueprobe/internal/config"
	"github.com/queueprobe/queueprobe/internal/probes"
)

// frameworkConfig maps the env-driven config onto the framework's own.
func frameworkConfig(cfg config.Config) *machineryconfig.Config {
	return &machineryconfig.Config{
		DefaultQueue:    cfg.Queue.Name,
		ResultsExpireIn: cfg.Queue.ResultsExpireIn,
		Redis: &machineryconfig.RedisConfig{
			NormalTasksPollPeriod: int(cfg.Queue.PollPeriod.Milliseconds()),
		},
	}
}

// redisAddr renders the address in the password@host:port form the redis
// broker and backend constructors parse.
func redisAddr(r config.Redis) string {
	addr := r.Addr()
	if r.Password != "" {
		addr = r.Password + "@" + addr
	}
	return addr
}

// BuildServer wires the redis broker, result backend and lock into a server.
func BuildServer(cfg config.Config) *machinery.Server {
	cnf := frameworkConfig(cfg)
	addr := redisAddr(cfg.Redis)
	broker := redisbroker.NewGR(cnf, []string{addr}, cfg.Redis.DB)
	backend := redisbackend.NewGR(cnf, []string{addr}, cfg.Redis.DB)
	lock := redislock.New(cnf, []string{addr}, cfg.Redis.DB, cfg.Queue.LockRetries)
	return machinery.NewServer(cnf, broker, backend, lock)
}

// RegisterSuite registers every probe on the server and hands the suite a
// dispatcher so the replacement probes can send substitute canvases.
func RegisterSuite(server *machinery.Server, suite *probes.Suite) error {
	if err := server.RegisterTasks(suite.Registry()); err != nil {
		return fmt.Errorf("register probes: %w", err)
	}
	suite.AttachDispatcher(server)
	return nil
}

// NewEagerRig builds an in-process server whose broker executes sends
// synchronously on an assigned worker. Tests use it to drive full
// send-execute-settle cycles without a live broker.
func NewEagerRig(cfg config.Config, suite *probes.Suite) (*machinery.Server, *machinery.Worker, error) {
	broker := eagerbroker.New()
	server := machinery.NewServer(frameworkConfig(cfg), broker, eagerbackend.New(), eagerlock.New())
	if err := RegisterSuite(server, suite); err != nil {
		return nil, nil, err
	}
	worker := server.NewWorker(cfg.Queue.ConsumerTag, cfg.Queue.Concurrency)
	mode, ok := broker.(eagerbroker.Mode)
	if !ok {
		return nil, nil, fmt.Errorf("eager broker does not support worker assignment")
	}
	mode.AssignWorker(worker)
	return server, worker, nil
}
