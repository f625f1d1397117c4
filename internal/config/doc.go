// Package config handles configuration loading for sable.
//
// # Overview
//
// Configuration is loaded from a YAML file with environment variable
// expansion. The package provides validation and sensible defaults; a .env
// file in the working directory is loaded before expansion so secrets can
// live outside the YAML.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	assist:
//	  api_key: "${ASSIST_API_KEY}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	assist:
//	  timeout: "30s"
//	platforms:
//	  devnet:
//	    rate_limit_window: "1m"
//	    chunk_delay: "300ms"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Bot persona:
//
//	bot:
//	  name: "Sable"
//	  system_prompt: "You are Sable, a helpful assistant."
//	  history_limit: 20
//
// Completion API:
//
//	assist:
//	  api_key: "${ASSIST_API_KEY}"
//	  api_url: "https://api.openai.com"
//	  model: "gpt-4o-mini"
//	  temperature: 0.7
//	  max_tokens: 1024
//
// Platform connectors:
//
//	platforms:
//	  devnet:
//	    enabled: true
//	    api_url: "https://devnet.example"
//	    bot_token: "${DEVNET_BOT_TOKEN}"
//	    respond_to_dms: true
//	    respond_to_groups: true
//	    require_mention_in_groups: true
//	    rate_limit_messages: 10
//	    rate_limit_window: "1m"
//	    message_limit: 1900
//
// Persistence:
//
//	memory:
//	  path: "data/sable.db"
//
// Management API:
//
//	server:
//	  enabled: true
//	  addr: ":8090"
//	  api_key: "${SABLE_API_KEY}"   # open when empty
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
//	cfg, err := config.Load("config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
