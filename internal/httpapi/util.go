package httpapi

import "github.com/google/uuid"

// zeroUUID tags events that are not scoped to a particular workflow/node,
// e.g. server registry lifecycle events.
var zeroUUID = uuid.Nil
