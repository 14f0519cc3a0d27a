package testutil

import "github.com/c360/asyncflow/pipeline"

// MakeItem builds a minimal item for tests. The payload doubles as the
// message body; stream and partition are fixed.
func MakeItem(offset int64, payload string) pipeline.Item {
	return pipeline.Item{
		Stream:    "test-input",
		Partition: 0,
		Offset:    offset,
		Payload:   []byte(payload),
	}
}

// MakeKeyedItem builds an item carrying a routing key.
func MakeKeyedItem(offset int64, key, payload string) pipeline.Item {
	item := MakeItem(offset, payload)
	item.Key = []byte(key)
	return item
}
