package responder

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chat-relay/pkg/chat"
)

// SafeClient is the failure boundary around an engine client. Respond never
// returns an error: failures become a degraded result flagged with Error.
type SafeClient struct {
	inner Client
}

func NewSafeClient(inner Client) *SafeClient {
	return &SafeClient{inner: inner}
}

// Respond calls the wrapped client and applies result defaults.
func (s *SafeClient) Respond(ctx context.Context, req Request) (res Result, _ error) {
	if s == nil || s.inner == nil {
		return Degraded(), nil
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("component", "responder").
				Str("session_id", req.SessionID).
				Str("panic", fmt.Sprint(r)).
				Msg("response engine panicked")
			res = Degraded()
		}
	}()

	out, err := s.inner.Respond(ctx, req)
	if err != nil {
		log.Warn().
			Err(err).
			Str("component", "responder").
			Str("session_id", req.SessionID).
			Msg("response engine failed, substituting apology")
		return Degraded(), nil
	}
	return WithDefaults(out), nil
}

// Degraded is the result substituted for a failed engine call.
func Degraded() Result {
	return Result{Response: ApologyText, Error: true}
}

// WithDefaults fills the confidence, action list and text defaults of a
// successful engine result.
func WithDefaults(r Result) Result {
	if r.Response == "" {
		r.Response = FallbackText
	}
	if r.Confidence == nil {
		c := DefaultConfidence
		r.Confidence = &c
	}
	if r.Actions == nil {
		r.Actions = []chat.Action{}
	}
	return r
}
