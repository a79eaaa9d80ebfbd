package inbound

import (
	"context"

	"github.com/labbridge/labbridge/internal/platform/hl7v2"
	"github.com/labbridge/labbridge/internal/platform/metrics"
)

// MLLPHandler adapts the HL7 pipeline to the MLLP transport. MLLP carries
// no headers, so the listener is bound to a single configured API key and
// every framed message is processed under that integration. Unlike HTTP,
// MLLP has no status channel, so even unsupported message types get a NACK.
func (h *Handler) MLLPHandler(apiKey string) hl7v2.MessageHandler {
	return func(raw []byte) []byte {
		ctx := context.Background()

		in, err := h.auth.Authenticate(ctx, apiKey)
		if err != nil {
			metrics.InboundMessages.WithLabelValues("mllp", "unauthorized").Inc()
			return hl7v2.GenerateACK(hl7v2.RecoverControlID(raw), "AE", "Authentication failed", "")
		}

		msg, err := hl7v2.Parse(raw)
		if err != nil {
			metrics.InboundMessages.WithLabelValues("mllp", "malformed").Inc()
			return hl7v2.GenerateACK(hl7v2.RecoverControlID(raw), "AE", "Malformed HL7 message", "")
		}

		parsed, err := hl7v2.Decode(msg)
		if err != nil {
			metrics.InboundMessages.WithLabelValues("mllp", "malformed").Inc()
			return hl7v2.GenerateACK(msg.ControlID, "AE", err.Error(), msg.SendingApp)
		}

		_, resp := h.routeHL7(ctx, in, msg, parsed)
		if resp == nil {
			return hl7v2.GenerateACK(msg.ControlID, "AE", "Unsupported message type", msg.SendingApp)
		}
		return resp
	}
}
