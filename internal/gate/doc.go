// Package gate evaluates a policy snapshot's rubric against submitted
// signals and produces one decision per call.
//
// Evaluation is a pure function of (inputs, snapshot, config) except for
// the per-entity hysteresis table: escalations take effect immediately,
// de-escalations are held until the calmer status has been re-confirmed for
// the configured dwell time. That asymmetry stops a flapping signal from
// repeatedly opening and closing a gate without ever delaying detection of
// a real regression.
package gate
