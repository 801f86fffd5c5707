package main

// Poll loop defaults
const (
	defaultIntervalMS   = 150  // Poll period (ms)
	defaultHysteresisMS = 1000 // Low-pass averaging window (ms)
	defaultDelayMS      = 350  // Time a new rotation must hold before it is reported (ms)
	defaultSensitivity  = 5.0  // Higher is less sensitive to tilt out of the screen plane
)

// Output and service defaults
const (
	defaultSpinFile     = "/run/spinnrd/spinnrd.spin"
	defaultStatusSocket = "/tmp/spinnrd.sock"
	defaultWSPath       = "/ws"
	defaultMQTTTopic    = "spinnrd/rotation"
	defaultMQTTClientID = "spinnrd"
)

// Process exit statuses
const (
	exitOK            = 0
	exitConfig        = 1
	exitLogger        = 2
	exitNoBackend     = 3
	exitSendError     = 4
	exitNoFrontend    = 5
	exitReadError     = 6
	exitService       = 7
	exitSignalWatcher = 17
)
