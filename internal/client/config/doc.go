// Package config loads runtime configuration for the memovault client.
//
// Sources & precedence
//
//  1. Built-in defaults from struct tags (creasty/defaults).
//  2. Optional JSON file selected via -c/-config or MEMOVAULT_CONFIG.
//  3. Command-line flags, which override earlier values.
//
// # JSON schema
//
// Intervals use timex.Duration, so values can be strings like "30s" or
// integer nanoseconds:
//
//	{
//	  "data_dir": "/home/me/.memovault",
//	  "remote_type": "s3",
//	  "s3_endpoint": "http://127.0.0.1:9000",
//	  "s3_bucket": "memovault",
//	  "remote_timeout": "30s",
//	  "queue_base_backoff": "2s",
//	  "queue_max_retries": 5,
//	  "auto_sync_schedule": "@every 5m"
//	}
package config
