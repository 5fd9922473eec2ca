package core

import "time"

// Queue keys and visibility timeout shared between API and fulfillment worker.
const (
	PendingQueueKey    = "pending_orders"
	ProcessingQueueKey = "processing_orders"
	// DefaultVisibilityTimeout is how long a worker may hold an order job
	// before it becomes eligible for requeue.
	DefaultVisibilityTimeout = 30 * time.Second
)
