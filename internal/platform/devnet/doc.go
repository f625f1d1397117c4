// Package devnet implements the platform.Connector for DevNet, a network
// where bots receive messages over a websocket duplex channel and send
// everything back over REST.
//
// The session lifecycle is: fetch the bot identity over REST, open the duplex
// channel, authenticate with the bot token, re-subscribe previously approved
// groups, then listen. When the channel breaks the connector reconnects with
// exponential backoff, starting at five seconds and capping at two minutes.
//
// Inbound frames pass through a self-filter, a mention gate for groups,
// per-sender rate limiting, and duplicate suppression before reaching the
// command router or the conversational handler.
package devnet
