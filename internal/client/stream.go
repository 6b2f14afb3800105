// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/jeranaias/evalchat/internal/metrics"
	"github.com/jeranaias/evalchat/internal/model"
	"github.com/jeranaias/evalchat/internal/stream"
)

// sendRequest is the body of a message submission.
type sendRequest struct {
	Content string `json:"content"`
}

// =============================================================================
// STREAMING SEND
// =============================================================================

// SendMessage submits text to a session and consumes the streamed reply.
//
// The reply body is read in fragments; every fragment is fed to a decoder
// that drains all complete objects before the next read. Each usable object
// updates the accumulated reply and onText receives the full text so far.
// Objects that cannot be used are logged and skipped.
//
// On end of stream the final bot message is returned. Its id is the
// server's when a legacy complete message supplied one; otherwise it is a
// provisional local id. The text is the accumulated reply.
//
// A 401 yields an error matching ErrCredentialInvalid. A failure after the
// stream started yields a *StreamError carrying the partial text.
func (c *Client) SendMessage(ctx context.Context, sessionID int64, credential, text string, onText func(string)) (*model.Message, error) {
	if err := validate(sessionID, credential); err != nil {
		return nil, err
	}

	start := time.Now()
	msg, err := c.sendMessage(ctx, sessionID, credential, text, onText)
	c.logRequest("SendMessage", sessionID, credential, start, err)
	return msg, err
}

func (c *Client) sendMessage(ctx context.Context, sessionID int64, credential, text string, onText func(string)) (*model.Message, error) {
	body, err := json.Marshal(sendRequest{Content: text})
	if err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidRequest, Message: "failed to encode request", Cause: err}
	}

	req, err := c.newRequest(ctx, http.MethodPost, c.messagesURL(sessionID), credential, body)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(ctx, c.streamClient, req)
	if err != nil {
		return nil, err
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		if resp.Body != nil {
			resp.Body.Close()
		}
		return nil, ErrReaderUnavailable
	}
	defer resp.Body.Close()

	acc, err := c.consume(ctx, resp.Body, sessionID, onText)
	metrics.ObserveFirstEvent(acc.TimeToFirstEvent())
	if err != nil {
		return nil, &StreamError{Partial: acc.Text(), Err: err}
	}

	final := model.Message{
		Sender:    model.SenderBot,
		Text:      acc.Text(),
		Timestamp: time.Now(),
	}
	if id, ok := acc.ResolvedID(); ok {
		final.ID = id
	} else {
		final.ID = model.NewLocalID()
		final.Provisional = true
	}
	return &final, nil
}

// consume reads r until EOF, decoding and accumulating the reply.
func (c *Client) consume(ctx context.Context, r io.Reader, sessionID int64, onText func(string)) (*stream.Accumulator, error) {
	dec := stream.NewDecoder()
	acc := stream.NewAccumulator()
	log := c.logger.With().Int64("session_id", sessionID).Logger()

	emit := func(ev stream.Event) {
		switch e := ev.(type) {
		case stream.ContentDelta:
			metrics.ObserveObject(metrics.KindDelta)
		case stream.Resolved:
			metrics.ObserveObject(metrics.KindResolved)
		case stream.Unclassified:
			metrics.ObserveObject(metrics.KindUnclassified)
			log.Debug().Str("reason", e.Reason).Int("raw_bytes", len(e.Raw)).Msg("skipping stream object")
			return
		}
		if update, ok := acc.Apply(ev); ok && onText != nil {
			onText(update.Text)
		}
	}

	buf := make([]byte, readBufferSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if ferr := dec.Feed(buf[:n], emit); ferr != nil {
				return acc, &ClientError{Type: ErrTypeInvalidResponse, Message: "reply stream cannot be decoded", Cause: ferr}
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return acc, transportError(ctx, err)
			}
			return acc, &ClientError{Type: ErrTypeConnection, Message: "reply stream interrupted", Cause: err}
		}
	}

	if pending := dec.Pending(); pending != "" {
		log.Debug().Int("pending_bytes", len(pending)).Msg("stream ended inside an object")
	}
	log.Debug().
		Int("objects", dec.Objects()).
		Int("deltas", acc.DeltaCount()).
		Dur("first_event", acc.TimeToFirstEvent()).
		Msg("stream complete")
	return acc, nil
}
