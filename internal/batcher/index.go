// Package batcher coalesces REST calls into batch-rest envelopes.
//
// Calls enqueued within one debounce window are deduplicated by checksum,
// packed into a single JSON-RPC envelope and posted to the backend's batch
// endpoint. Per-key results are fanned back to every caller, so a caller
// sees the same result whether its call was batched or sent on its own.
//
// Example configuration:
//
//	{
//	  "batching": {
//	    "enabled": true,
//	    "maxSize": 10,
//	    "maxWait": 5,
//	    "singleDirect": false
//	  }
//	}
package batcher
