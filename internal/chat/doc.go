// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat drives message sends through the session cache.
//
// A send inserts the user's message optimistically, streams the reply into
// a single in-progress bot message and then either replaces the session
// with the server's authoritative list or turns the in-progress message
// into an error message.
//
// # Usage
//
//	store := cache.NewStore(logger)
//	orch := chat.New(httpClient, store, chat.Options{
//	    OnCredentialInvalid: func(error) { tokens.Clear() },
//	}, logger)
//	defer orch.Close()
//
//	if err := orch.SwitchSession(ctx, 42, token); err != nil {
//	    return err
//	}
//	err := orch.SendMessage(ctx, 42, token, "hello")
package chat
