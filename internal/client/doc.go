// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package client provides the HTTP client for the chat service.
//
// It submits messages and consumes the streamed reply, and lists a
// session's message history. Every request carries a bearer credential; a
// 401 from any endpoint surfaces as ErrCredentialInvalid.
//
// # Key Types
//
//   - Client: Thread-safe HTTP client with a shared rate limiter
//   - ClientConfig: URL, timeouts, rate limit and paging settings
//   - ClientError: Typed error with ErrorType and optional HTTP status
//   - StreamError: Failure after the reply started, with partial text
//   - MessagePage: One page of history
//
// # Endpoints
//
//	POST {base}/api/v1/sessions/{id}/messages   body {"content": "..."}
//	GET  {base}/api/v1/sessions/{id}/messages?page=N&page_size=M
//
// # Usage
//
//	c := client.NewClient(client.DefaultConfig(), logger)
//	final, err := c.SendMessage(ctx, sessionID, token, "hi", func(text string) {
//	    render(text)
//	})
//	if client.IsCredentialInvalid(err) {
//	    // ask for a new token
//	}
//	history, err := c.ListAllMessages(ctx, sessionID, token)
package client
