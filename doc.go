/*
Package otworld is a single-process game server runtime.

All world state is owned by one dispatcher goroutine. Network connections,
timers and database jobs never touch that state directly: they post work items
to the dispatcher and get their results back as callbacks on the same
goroutine.

# Components

	engine/dispatcher  the task dispatcher and its ownership checks
	engine/scheduler   one-shot and repeating timers that fire on the dispatcher
	engine/crontab     minute resolution schedules built on the scheduler
	engine/dbtasks     database jobs run on worker goroutines with bounded retries
	engine/storage     key value storage engines (sqlite, redis, redis cluster, mongodb)
	engine/handshake   RSA keypair and the session key exchange
	engine/netutil     frame codec with optional checksum, the session cipher and listeners
	engine/proto       message types and the vocabulary of each protocol variant
	engine/service     listeners, connections and the service manager
	components/game    accounts, players and the request handlers
	components/server  wires everything together and shuts down in order

# Run the server

	otworld genkey -o key.pem
	otworld account add alice secret Alice
	otworld serve -c otworld.ini

# Configuration

otworld uses `otworld.ini` as the default config file. Every value can be
overridden by an OTWORLD_ prefixed environment variable.
*/
package otworld
