package main

import "time"

const (
	txQueueSize       = 64   // capacity of async TX ring; polls are spaced, so this rarely fills
	serialReadBufSize = 4096 // per read() buffer for the slcan backend
	// largeBufferReclaimThreshold is the capacity above which the slcan RX
	// accumulation buffer is discarded and reallocated once drained.
	largeBufferReclaimThreshold = 16 * 1024
	rxBackoffMin                = 20 * time.Millisecond
	rxBackoffMax                = 500 * time.Millisecond
	mqttPublishTimeout          = 5 * time.Second
)
