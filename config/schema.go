package config

// configSchema is the draft-07 JSON Schema every config file is checked
// against before unmarshaling. additionalProperties is false throughout
// so typos fail loudly instead of being silently ignored.
const configSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "asyncflow configuration",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "pipeline": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "workers": {"type": "integer", "minimum": 0},
        "queue_size": {"type": "integer", "minimum": 0},
        "max_inflight": {"type": "integer", "minimum": 0},
        "drain_timeout": {"type": "integer", "minimum": 0},
        "destination_key": {"type": "string"}
      }
    },
    "source": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "kind": {"type": "string", "enum": ["kafka", "jetstream"]},
        "kafka": {
          "type": "object",
          "additionalProperties": false,
          "properties": {
            "brokers": {"type": "array", "items": {"type": "string"}, "minItems": 1},
            "group_id": {"type": "string"},
            "topic": {"type": "string"},
            "min_bytes": {"type": "integer", "minimum": 0},
            "max_bytes": {"type": "integer", "minimum": 0},
            "max_wait": {"type": "integer", "minimum": 0}
          }
        },
        "jetstream": {
          "type": "object",
          "additionalProperties": false,
          "properties": {
            "url": {"type": "string"},
            "stream": {"type": "string"},
            "subject": {"type": "string"},
            "durable": {"type": "string"}
          }
        }
      }
    },
    "sink": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "kind": {"type": "string", "enum": ["kafka", "jetstream", "httppost", "websocket"]},
        "kafka": {
          "type": "object",
          "additionalProperties": false,
          "properties": {
            "brokers": {"type": "array", "items": {"type": "string"}, "minItems": 1},
            "topic": {"type": "string"},
            "write_timeout": {"type": "integer", "minimum": 0}
          }
        },
        "jetstream": {
          "type": "object",
          "additionalProperties": false,
          "properties": {
            "url": {"type": "string"},
            "stream": {"type": "string"},
            "subject": {"type": "string"}
          }
        },
        "httppost": {
          "type": "object",
          "additionalProperties": false,
          "properties": {
            "url": {"type": "string"},
            "content_type": {"type": "string"},
            "headers": {"type": "object", "additionalProperties": {"type": "string"}},
            "max_retries": {"type": "integer", "minimum": 0},
            "timeout": {"type": "integer", "minimum": 0}
          }
        },
        "websocket": {
          "type": "object",
          "additionalProperties": false,
          "properties": {
            "listen_addr": {"type": "string"},
            "path": {"type": "string"},
            "send_buffer": {"type": "integer", "minimum": 0}
          }
        }
      }
    },
    "log": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "level": {"type": "string", "enum": ["debug", "info", "warn", "error"]},
        "format": {"type": "string", "enum": ["json", "text"]}
      }
    },
    "metrics": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "enabled": {"type": "boolean"},
        "port": {"type": "integer", "minimum": 0, "maximum": 65535}
      }
    }
  }
}`
