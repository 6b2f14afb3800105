// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package auth stores the bearer token used to talk to the chat service.
//
// Signing in is out of scope: the token is pasted by the user (evalchat
// token set) or supplied through EVALCHAT_TOKEN. When the server rejects
// it the stored token is cleared.
package auth
