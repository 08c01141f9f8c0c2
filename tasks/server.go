package tasks

import (
	"github.com/RichardKnop/machinery/v1"
	"github.com/RichardKnop/machinery/v1/config"
	"github.com/RichardKnop/machinery/v1/log"
	"github.com/pkg/errors"
	"reflect"
	"runtime"
	"sync"
)

// ExecuteTaskName is the name of the task that executes a workertypes.RequestPayload.
const ExecuteTaskName = "execute"

var (
	registeredTasksMutex sync.Mutex
	registeredTasks      = make(map[string]any)
)

// machineryConfig converts the Config to the config.Config used by machinery.
func machineryConfig(tasksConfig Config) *config.Config {
	cnf := &config.Config{
		DefaultQueue:    tasksConfig.TasksDefaultQueue(),
		ResultsExpireIn: tasksConfig.TasksResultsExpireIn(),
		Broker:          tasksConfig.TasksBroker(),
		ResultBackend:   tasksConfig.TasksResultBackend(),
	}

	if redis := tasksConfig.TasksRedis(); redis != nil {
		cnf.Redis = &config.RedisConfig{
			MaxIdle:                redis.RedisMaxIdle(),
			IdleTimeout:            redis.RedisIdleTimeout(),
			ReadTimeout:            redis.RedisReadTimeout(),
			WriteTimeout:           redis.RedisWriteTimeout(),
			ConnectTimeout:         redis.RedisConnectTimeout(),
			NormalTasksPollPeriod:  redis.RedisNormalTasksPollPeriod(),
			DelayedTasksPollPeriod: redis.RedisDelayedTasksPollPeriod(),
		}
	}

	if amqp := tasksConfig.TasksAMQP(); amqp != nil {
		cnf.AMQP = &config.AMQPConfig{
			Exchange:      amqp.AMQPExchange(),
			ExchangeType:  amqp.AMQPExchangeType(),
			BindingKey:    amqp.AMQPBindingKey(),
			PrefetchCount: amqp.AMQPPrefetchCount(),
		}
	}
	return cnf
}

// StartServer creates a machinery.Server from the Config and registers all the tasks that have been registered using
// RegisterTask.
func StartServer(tasksConfig Config) (server *machinery.Server, err error) {
	if server, err = machinery.NewServer(machineryConfig(tasksConfig)); err != nil {
		err = errors.Wrap(err, "could not create new machinery server")
		return
	}

	registeredTasksMutex.Lock()
	defer registeredTasksMutex.Unlock()
	if err = server.RegisterTasks(registeredTasks); err != nil {
		err = errors.Wrapf(err, "could not register %d tasks", len(registeredTasks))
		return
	}

	log.INFO.Printf("Tasks that were registered:")
	for i, name := range server.GetRegisteredTaskNames() {
		task, _ := server.GetRegisteredTask(name)
		log.INFO.Printf("\tTask %d: %s (%v)", i+1, name, runtime.FuncForPC(reflect.ValueOf(task).Pointer()).Name())
	}
	return
}

// RegisterTask registers a task function under the given name. Tasks must be registered before StartServer is called
// for them to be run by workers.
func RegisterTask(name string, function any) {
	registeredTasksMutex.Lock()
	defer registeredTasksMutex.Unlock()
	registeredTasks[name] = function
}
