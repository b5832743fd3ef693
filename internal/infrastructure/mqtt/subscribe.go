package mqtt

import (
	"fmt"
	"time"

	"github.com/nerrad567/meshbridge/internal/transport"
)

// defaultSubscribeTimeout is the maximum time to wait for a SUBACK.
const defaultSubscribeTimeout = 5 * time.Second

// Subscribe registers a handler for messages on the specified topic.
//
// Topics can include MQTT wildcards:
//   - + (single-level): "meshcore/bridge/+" matches every node's topic
//   - # (multi-level): "meshcore/#" matches everything under the base
//
// The handler is called on paho's delivery goroutine and must not block.
// Subscriptions do not survive a new Connect; the connection manager
// subscribes again once the session is up.
func (s *Session) Subscribe(topic string, qos byte, handler transport.MessageHandler) error {
	// Validate inputs
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if handler == nil {
		return fmt.Errorf("%w: %w", transport.ErrSubscribeFailed, ErrNilHandler)
	}

	client, err := s.currentClient()
	if err != nil {
		return err
	}

	token := client.Subscribe(topic, qos, s.wrapHandler(handler))
	if !token.WaitTimeout(defaultSubscribeTimeout) {
		return fmt.Errorf("%w: %w: timeout after %v", transport.ErrSubscribeFailed, transport.ErrTimeout, defaultSubscribeTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", transport.ErrSubscribeFailed, err)
	}

	return nil
}
