package errors

import (
	"fmt"
	"strings"
)

// UserFriendlyError carries an operator-facing message with context and hints
type UserFriendlyError struct {
	Message string
	Reason  string
	Hint    string
	Try     string
	Err     error
}

func (e UserFriendlyError) Error() string {
	var buf strings.Builder
	buf.WriteString(e.Message)
	if e.Reason != "" {
		buf.WriteString("\n  Reason: " + e.Reason)
	}
	if e.Hint != "" {
		buf.WriteString("\n  Hint: " + e.Hint)
	}
	if e.Try != "" {
		buf.WriteString("\n  Try: " + e.Try)
	}
	if e.Err != nil {
		buf.WriteString("\n  Details: " + e.Err.Error())
	}
	return buf.String()
}

func (e UserFriendlyError) Unwrap() error {
	return e.Err
}

// WrapUplinkError wraps a failure to reach the fulfillment server.
func WrapUplinkError(err error, uri string) error {
	if err == nil {
		return nil
	}

	return UserFriendlyError{
		Message: fmt.Sprintf("Failed to reach uplink server at %s", uri),
		Reason:  extractNetworkReason(err),
		Hint:    "The server may be down, or the uplink URI/origin may be wrong",
		Try:     "Check uplink.uri in your config: sitecon config validate --config <path>",
		Err:     err,
	}
}

// WrapRadioError wraps a failure to open or use the radio gateway.
func WrapRadioError(err error, port string) error {
	if err == nil {
		return nil
	}

	return UserFriendlyError{
		Message: fmt.Sprintf("Radio gateway error on %s", port),
		Reason:  extractRadioReason(err),
		Hint:    "Check that the gateway is plugged in and no other process holds the port",
		Try:     "Record traffic for inspection: set radio.capture_file and run sitecon capture dump",
		Err:     err,
	}
}

// WrapConfigError wraps configuration errors with user-friendly context
func WrapConfigError(err error, configPath string) error {
	if err == nil {
		return nil
	}

	return UserFriendlyError{
		Message: fmt.Sprintf("Configuration error in %s", configPath),
		Reason:  err.Error(),
		Hint:    "Print a complete example with: sitecon config print-default",
		Try:     fmt.Sprintf("sitecon config validate --config %s", configPath),
		Err:     err,
	}
}

func extractNetworkReason(err error) string {
	errStr := err.Error()

	if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline exceeded") {
		return "Connection timeout - server may be offline or unreachable"
	}
	if strings.Contains(errStr, "connection refused") {
		return "Connection refused - server may not be listening on this port"
	}
	if strings.Contains(errStr, "no route to host") {
		return "No route to host - network routing issue or server unreachable"
	}
	if strings.Contains(errStr, "connection reset") {
		return "Connection reset - server closed the connection unexpectedly"
	}
	if strings.Contains(errStr, "bad status") || strings.Contains(errStr, "handshake") {
		return "WebSocket handshake rejected by the server"
	}

	return "Network communication failed"
}

func extractRadioReason(err error) string {
	errStr := err.Error()

	if strings.Contains(errStr, "no such file") {
		return "Serial port does not exist"
	}
	if strings.Contains(errStr, "permission denied") {
		return "No permission to open the serial port"
	}
	if strings.Contains(errStr, "busy") {
		return "Serial port is in use by another process"
	}
	if strings.Contains(errStr, "truncated") || strings.Contains(errStr, "unknown type") {
		return "Received a malformed frame from the gateway"
	}
	if strings.Contains(errStr, "connection refused") || strings.Contains(errStr, "timeout") {
		return "Network gateway is not reachable"
	}

	return "Radio transport failed"
}
