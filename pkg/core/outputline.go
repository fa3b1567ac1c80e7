package core

// Stream tags the origin of an output line.
const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
)

// OutputLine is a single line of worker output.
//
// Seq is strictly increasing and gapless per slot, assigned in the
// order bytes were read. Lines from one stream preserve program order;
// interleaving between stdout and stderr follows whichever pipe was
// readable first, so cross-stream order is a relaxed guarantee only.
type OutputLine struct {
	Slot     string `json:"slot"`
	Stream   string `json:"stream"` // "stdout" or "stderr"
	Text     string `json:"text"`
	Seq      uint64 `json:"seq"`
	TsUnixMs int64  `json:"ts_unix_ms"`
}
