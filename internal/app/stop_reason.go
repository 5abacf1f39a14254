package app

// StopReason explains why the app is shutting down. It is logged and passed
// to the service manager as the stopping status.
type StopReason string

const (
	StopUnknown      StopReason = "unknown"
	StopSIGINT       StopReason = "sigint"
	StopSIGTERM      StopReason = "sigterm"
	StopFatalError   StopReason = "fatal_error"
	StopPeerClosed   StopReason = "peer_closed"
	StopAppStop      StopReason = "app_stop"
	StopConfigReload StopReason = "config_reload"
)
