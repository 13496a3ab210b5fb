// Package config provides the configuration system for debugmate.
//
// Settings are organized in layers with higher layers overriding lower:
//
//	┌─────────────────────────────┐
//	│  3. Environment Variables   │  ← DEBUGMATE_<SECTION>_<KEY>
//	├─────────────────────────────┤
//	│  2. Config File             │  ← --config debugmate.toml / .yaml
//	├─────────────────────────────┤
//	│  1. Built-in Defaults       │  ← Lowest priority
//	└─────────────────────────────┘
//
// Each layer is a generic map; layers are combined with DeepMerge and the
// result is decoded into Config, rejecting unknown keys.
//
// # Basic Usage
//
//	cfg, err := config.Load("debugmate.toml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	reader := memory.NewReader(session, cfg.ReaderConfig(), logger)
//
// Durations are written as strings:
//
//	[memory]
//	chunk_size = 1048576
//	request_timeout = "5s"
//
//	[sync]
//	throttle_interval = "33ms"
package config
