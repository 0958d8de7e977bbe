package main

import (
	"time"

	"github.com/spf13/viper"
)

func initViperDefaults() {
	// Logging
	viper.SetDefault("logging.format", "text")
	viper.SetDefault("logging.add_source", false)
	viper.SetDefault("trace", false)

	// Global
	viper.SetDefault("file_state_dir", "~/.negotiant")
	viper.SetDefault("engine.dir_name", "engine")

	// Session deadlines (per-state, 6-12h range)
	viper.SetDefault("engine.waiting_response_ttl", 12*time.Hour)
	viper.SetDefault("engine.negotiating_ttl", 6*time.Hour)
	viper.SetDefault("engine.waiting_execution_ttl", 6*time.Hour)
	viper.SetDefault("engine.verifying_ttl", 12*time.Hour)
	viper.SetDefault("engine.sweep_interval", 10*time.Minute)

	// Negotiation policy ceilings and round limit
	viper.SetDefault("policy.max_likes", 10)
	viper.SetDefault("policy.max_subs", 2)
	viper.SetDefault("policy.max_comments", 3)
	viper.SetDefault("policy.max_watch_seconds", 300)
	viper.SetDefault("policy.max_rounds", 3)

	// Execution service
	viper.SetDefault("execution.url", "")
	viper.SetDefault("execution.auth_token", "")
	viper.SetDefault("execution.timeout", 2*time.Minute)
	viper.SetDefault("execution.retry_delay", 5*time.Second)

	// Messaging gateway (websocket bridge); empty runs send-to-log mode
	viper.SetDefault("gateway.url", "")
	viper.SetDefault("gateway.auth_token", "")

	// Admin server
	viper.SetDefault("server.bind", "127.0.0.1")
	viper.SetDefault("server.port", 8791)
	viper.SetDefault("server.auth_token", "")

	// Classifier pattern table override
	viper.SetDefault("classify.patterns_path", "")
}
