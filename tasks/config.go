package tasks

type RedisConfig interface {
	RedisMaxIdle() int
	RedisIdleTimeout() int
	RedisReadTimeout() int
	RedisWriteTimeout() int
	RedisConnectTimeout() int
	RedisNormalTasksPollPeriod() int
	RedisDelayedTasksPollPeriod() int
}

type AMQPConfig interface {
	AMQPExchange() string
	AMQPExchangeType() string
	AMQPBindingKey() string
	AMQPPrefetchCount() int
}

type Config interface {
	TasksDefaultQueue() string
	TasksResultsExpireIn() int
	TasksBroker() string
	TasksResultBackend() string
	TasksRedis() RedisConfig
	// TasksAMQP can return nil when the broker is not AMQP.
	TasksAMQP() AMQPConfig
}
