package topic

import "github.com/chris-alexander-pop/relaymq/pkg/broker/queue"

// Config is per-topic configuration, proposed once by LoadTopic and held
// verbatim in TopicData and its snapshots.
type Config struct {
	Overflow queue.OverflowConfig
}
