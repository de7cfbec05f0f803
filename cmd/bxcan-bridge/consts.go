package main

import "time"

const (
	txQueueSize = 1024 // capacity of the async TX queue
	// receive polling backoff while both FIFOs stay empty; a FIFO holds
	// three frames, about 150us of traffic at 1 Mbit/s
	rxBackoffMin = 50 * time.Microsecond
	rxBackoffMax = 200 * time.Microsecond
	// bring-up retries while the controller acknowledges init mode
	bringUpBackoffMin = time.Millisecond
	bringUpBackoffMax = 100 * time.Millisecond
	bringUpTimeout    = 2 * time.Second
)
