package httpapi

import (
	"io"
	"net/http"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// maxWebhookBody caps the notification payload size.
const maxWebhookBody = 64 << 10

// PaymentWebhook receives asynchronous payment notifications from the
// processor. Per the processor contract it always acknowledges with 200:
// a non-2xx answer only triggers a retry storm. Failures are logged, and the
// reconciler's compare-and-set keeps duplicate deliveries harmless.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	lg := zctx.From(r.Context())

	topic, resourceID := notificationParams(r)
	if topic == "" || resourceID == "" {
		lg.Warn("webhook without topic or resource id", zap.String("query", r.URL.RawQuery))
		w.WriteHeader(http.StatusOK)
		return
	}

	outcome, err := h.reconciler.HandleNotification(r.Context(), topic, resourceID)
	if err != nil {
		lg.Error("webhook reconciliation failed",
			zap.String("topic", topic),
			zap.String("resource_id", resourceID),
			zap.Error(err),
		)
		w.WriteHeader(http.StatusOK)
		return
	}

	if outcome.Transitioned {
		lg.Info("order status transitioned",
			zap.String("resource_id", resourceID),
			zap.String("from", string(outcome.From)),
			zap.String("to", string(outcome.To)),
			zap.Int("email_failures", len(outcome.EmailErrors)),
		)
	}

	w.WriteHeader(http.StatusOK)
}

// notificationParams extracts the topic and resource id from a notification.
// The processor uses two naming conventions in query parameters (topic/id
// and type/data.id) and may instead deliver a JSON body; all three are
// accepted.
func notificationParams(r *http.Request) (topic, resourceID string) {
	q := r.URL.Query()

	topic = q.Get("topic")
	if topic == "" {
		topic = q.Get("type")
	}
	resourceID = q.Get("id")
	if resourceID == "" {
		resourceID = q.Get("data.id")
	}
	if topic != "" && resourceID != "" {
		return topic, resourceID
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil || len(body) == 0 {
		return topic, resourceID
	}

	bodyTopic, bodyID := decodeNotificationBody(body)
	if topic == "" {
		topic = bodyTopic
	}
	if resourceID == "" {
		resourceID = bodyID
	}
	return topic, resourceID
}

// decodeNotificationBody leniently pulls type/topic and data.id out of a
// JSON notification body. The id arrives as either a string or a number;
// unknown fields are skipped.
func decodeNotificationBody(body []byte) (topic, resourceID string) {
	d := jx.DecodeBytes(body)
	_ = d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "type", "topic":
			v, err := d.Str()
			if err != nil {
				return err
			}
			topic = v
		case "data":
			return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
				if string(key) != "id" {
					return d.Skip()
				}
				switch d.Next() {
				case jx.String:
					v, err := d.Str()
					if err != nil {
						return err
					}
					resourceID = v
				case jx.Number:
					n, err := d.Num()
					if err != nil {
						return err
					}
					resourceID = n.String()
				default:
					return d.Skip()
				}
				return nil
			})
		case "resource":
			v, err := d.Str()
			if err != nil {
				return err
			}
			if resourceID == "" {
				resourceID = v
			}
		default:
			return d.Skip()
		}
		return nil
	})
	return topic, resourceID
}
