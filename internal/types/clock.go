package types

import "time"

// Clock is an injectable wall-clock source. Production code passes time.Now;
// tests pass a fixed function so transitions and trial math are
// deterministic.
type Clock func() time.Time
