package observability

import "github.com/tphakala/storefront/internal/logger"

// Package-level cached logger; all logging in this package goes through it.
var log = logger.Global().Module("telemetry")
