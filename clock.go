package pulse

import "time"

// timeNow is the package clock. Indirection keeps flush intervals and timer
// tokens deterministic in tests.
var timeNow = time.Now
