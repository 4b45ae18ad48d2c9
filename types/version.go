package types

// Version is the canonical project version.
// The agent binary and the wire client share this version; the frame
// format carries no version field, so peers must come from compatible builds.
const Version = "0.3.0"
