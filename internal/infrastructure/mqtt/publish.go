package mqtt

import (
	"fmt"

	"github.com/nerrad567/meshbridge/internal/transport"
)

// maxPayloadSize is the largest payload accepted for publish.
// Bridge frames are far smaller; status messages are a few hundred bytes.
const maxPayloadSize = 64 * 1024

// Publish sends a message and waits for the client to hand it off.
//
// Waiting makes the call synchronous even at QoS 0, so the caller may
// reuse payload as soon as Publish returns.
//
// Returns:
//   - transport.ErrNotConnected without a session
//   - transport.ErrTimeout if the publish is not completed in time
//   - transport.ErrPublishFailed for any other failure
func (s *Session) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := validatePublish(topic, payload, qos); err != nil {
		return err
	}

	client, err := s.currentClient()
	if err != nil {
		return err
	}

	timeout := publishTimeout(s.cfg)
	token := client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("%w: publish to %s after %v", transport.ErrTimeout, topic, timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", transport.ErrPublishFailed, err)
	}

	return nil
}

// validatePublish checks publish arguments before touching the client.
func validatePublish(topic string, payload []byte, qos byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, len(payload), maxPayloadSize)
	}
	return nil
}
