package outbox

const activityLoggedSchema = `{
  "type": "object",
  "title": "ActivityLogged",
  "properties": {
    "activity_id": {"type": "string"},
    "user_id": {"type": "string"},
    "activity_type": {"type": "string"},
    "occurred_at": {"type": "string", "format": "date-time"},
    "duration_min": {"type": "integer"},
    "exp_gained": {"type": "number"}
  },
  "required": ["activity_id", "user_id", "activity_type", "occurred_at", "duration_min", "exp_gained"],
  "additionalProperties": false
}`

const activityReversedSchema = `{
  "type": "object",
  "title": "ActivityReversed",
  "properties": {
    "activity_id": {"type": "string"},
    "user_id": {"type": "string"},
    "activity_type": {"type": "string"},
    "exp_reversed": {"type": "number"},
    "occurred_at": {"type": "string", "format": "date-time"}
  },
  "required": ["activity_id", "user_id", "activity_type", "exp_reversed", "occurred_at"],
  "additionalProperties": false
}`

const levelChangedSchema = `{
  "type": "object",
  "title": "LevelChanged",
  "properties": {
    "user_id": {"type": "string"},
    "direction": {"type": "string", "enum": ["up", "down"]},
    "from_level": {"type": "integer"},
    "to_level": {"type": "integer"},
    "occurred_at": {"type": "string", "format": "date-time"}
  },
  "required": ["user_id", "direction", "from_level", "to_level", "occurred_at"],
  "additionalProperties": false
}`

const statsDegradedSchema = `{
  "type": "object",
  "title": "StatsDegraded",
  "properties": {
    "user_id": {"type": "string"},
    "amounts": {"type": "object", "additionalProperties": {"type": "number"}},
    "occurred_at": {"type": "string", "format": "date-time"}
  },
  "required": ["user_id", "amounts", "occurred_at"],
  "additionalProperties": false
}`
