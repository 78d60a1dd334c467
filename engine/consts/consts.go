package consts

import "time"

// Tunable Options
const (
	// For Underlying Networking
	// BUFFERED_READ_BUFFSIZE is the read buffer size for client connections
	BUFFERED_READ_BUFFSIZE = 16384
	// BUFFERED_WRITE_BUFFSIZE is the write buffer size for client connections
	BUFFERED_WRITE_BUFFSIZE = 16384
	// CLIENT_SET_TCP_NO_DELAY = true sets client connections to TcpNoDelay
	CLIENT_SET_TCP_NO_DELAY = true
	// CONNECTION_READ_TIMEOUT closes client connections which send nothing for this long
	CONNECTION_READ_TIMEOUT = time.Minute * 2
	// CONNECTION_SEND_QUEUE_SIZE is the max number of pending outgoing frames per connection
	CONNECTION_SEND_QUEUE_SIZE = 1024
	// HANDSHAKE_TIMEOUT is the time a new login/game connection has to complete the handshake
	HANDSHAKE_TIMEOUT = time.Second * 10

	// For Frames
	// FRAME_LENGTH_SIZE is the size of the frame length prefix
	FRAME_LENGTH_SIZE = 2
	// FRAME_CHECKSUM_SIZE is the size of the optional frame checksum
	FRAME_CHECKSUM_SIZE = 4
	// MAX_FRAME_BODY_LENGTH is the maximum number of bytes covered by the length prefix
	MAX_FRAME_BODY_LENGTH = 0xFFFF
	// MAX_PAYLOAD_LENGTH is the maximum payload of one frame (with checksum and cipher overhead accounted)
	MAX_PAYLOAD_LENGTH = MAX_FRAME_BODY_LENGTH - FRAME_CHECKSUM_SIZE - CIPHER_OVERHEAD
	// CIPHER_OVERHEAD is the authentication tag size appended by the session cipher
	CIPHER_OVERHEAD = 16

	// For Handshake
	// SYMMETRIC_KEY_SIZE is the size of client chosen session keys
	SYMMETRIC_KEY_SIZE = 32
	// DEFAULT_RSA_KEY_BITS is the key size used by genkey
	DEFAULT_RSA_KEY_BITS = 2048

	// For Task Dispatcher
	// DISPATCHER_QUEUE_WARN_LEN is the queue length that triggers warnings
	DISPATCHER_QUEUE_WARN_LEN = 1000
	// DISPATCHER_SLOW_ITEM_THRESHOLD is the execution time of one item that triggers warnings
	DISPATCHER_SLOW_ITEM_THRESHOLD = time.Millisecond * 100

	// For Database Task Queue
	// DBTASKS_DEFAULT_WORKERS is the default number of database workers
	DBTASKS_DEFAULT_WORKERS = 4
	// DBTASKS_DEFAULT_MAX_ATTEMPTS is the default number of attempts for jobs failing transiently
	DBTASKS_DEFAULT_MAX_ATTEMPTS = 3
	// DBTASKS_RETRY_INITIAL_INTERVAL is the first backoff interval of a retried job
	DBTASKS_RETRY_INITIAL_INTERVAL = time.Millisecond * 50
	// DBTASKS_RETRY_MAX_INTERVAL caps the backoff interval of a retried job
	DBTASKS_RETRY_MAX_INTERVAL = time.Second
	// DBTASKS_QUEUE_WARN_LEN is the queue length that triggers warnings
	DBTASKS_QUEUE_WARN_LEN = 100
	// DBTASKS_SLOW_JOB_THRESHOLD is the duration of one job that triggers warnings
	DBTASKS_SLOW_JOB_THRESHOLD = time.Millisecond * 100

	// For Game
	// WORLD_SAVE_INTERVAL is the interval to save online players
	WORLD_SAVE_INTERVAL = time.Minute * 5
	// STATUS_REFRESH_INTERVAL is the interval to refresh process stats for the status protocol
	STATUS_REFRESH_INTERVAL = time.Second * 30
)

// Debug Options
const (
	// DEBUG_PACKETS prints frame send/recv debug logs
	DEBUG_PACKETS = false
	// DEBUG_CLIENTS prints client connect/disconnect debug logs
	DEBUG_CLIENTS = false
	// DEBUG_DISPATCHER prints every executed work item
	DEBUG_DISPATCHER = false
	// DEBUG_TIMERS prints scheduler debug logs
	DEBUG_TIMERS = false
	// DEBUG_SAVE_LOAD prints database job debug logs
	DEBUG_SAVE_LOAD = false
)
