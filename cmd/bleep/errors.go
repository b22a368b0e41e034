package main

// FormatUserError renders err for a terminal. bleeperr.DeviceError's own
// Error() already includes kind, device, and context, so there is nothing
// to add here beyond what err.Error() gives every caller.
func FormatUserError(err error) string {
	return err.Error()
}
