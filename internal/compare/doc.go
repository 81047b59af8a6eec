// Package compare checks a produced artifact against a reference artifact
// under a numeric tolerance. It key-aligns entities or rows, reports keys
// present on one side only, and records the maximum observed deviation
// even when everything is within tolerance. The engine only reports;
// whether a mismatch fails the run is the caller's decision.
package compare
