package uds

import (
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/poidh-tools/bountydeck/pkg/audit"
	"github.com/poidh-tools/bountydeck/pkg/core"
)

var msgCounter atomic.Uint64

// MsgType identifies the kind of message.
type MsgType string

const (
	MsgTypeReq MsgType = "req"
	MsgTypeRes MsgType = "res"
	MsgTypeEvt MsgType = "evt"
)

// Message is the NDJSON envelope for all communication.
type Message struct {
	Type   MsgType         `json:"type"`
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// UnmarshalData decodes the message payload into v.
func (m Message) UnmarshalData(v any) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("%s: message has no data", m.Method)
	}
	return json.Unmarshal(m.Data, v)
}

// NewRequest creates a new request message with a unique ID.
func NewRequest(method string, data any) (Message, error) {
	id := fmt.Sprintf("req-%d", msgCounter.Add(1))
	raw, err := marshalData(data)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: MsgTypeReq, ID: id, Method: method, Data: raw}, nil
}

// NewResponse creates a response to a request.
func NewResponse(reqID, method string, data any) (Message, error) {
	raw, err := marshalData(data)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: MsgTypeRes, ID: reqID, Method: method, Data: raw}, nil
}

// NewErrorResponse creates an error response.
func NewErrorResponse(reqID, method, errMsg string) Message {
	return Message{Type: MsgTypeRes, ID: reqID, Method: method, Error: errMsg}
}

// NewEvent creates a server-pushed event.
func NewEvent(method string, data any) (Message, error) {
	id := fmt.Sprintf("evt-%d", msgCounter.Add(1))
	raw, err := marshalData(data)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: MsgTypeEvt, ID: id, Method: method, Data: raw}, nil
}

func marshalData(data any) (json.RawMessage, error) {
	if data == nil {
		return nil, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Methods
const (
	MethodPing          = "Ping"
	MethodLaunch        = "Launch"
	MethodCancel        = "Cancel"
	MethodStatus        = "Status"
	MethodListJobs      = "ListJobs"
	MethodListBounties  = "ListBounties"
	MethodJobOutput     = "JobOutput"
	MethodTailLogs      = "TailLogs"
	MethodAuditRecent   = "AuditRecent"
	MethodConfigGet     = "ConfigGet"
	MethodConfigSet     = "ConfigSet"
	MethodWalletCreate  = "WalletCreate"
	MethodWalletBalance = "WalletBalance"
	MethodHealth        = "Health"
)

// Events pushed by the daemon to every connected client.
const (
	EventJobStatus  = "job.status"
	EventJobOutput  = "job.output"
	EventLogsBatch  = "logs.batch"
	EventAuditBatch = "audit.batch"
)

// PingResponse is the response to a Ping request.
type PingResponse struct {
	Pong    bool   `json:"pong"`
	Version string `json:"version,omitempty"`
}

// LaunchRequest starts a worker run. Either Bounty names a manifest
// preset, or Command carries a raw command line; Slot defaults to the
// bounty name.
type LaunchRequest struct {
	Slot       string `json:"slot,omitempty"`
	Bounty     string `json:"bounty,omitempty"`
	Command    string `json:"command,omitempty"`
	TimeoutSec int    `json:"timeout_sec,omitempty"`
}

// LaunchResponse carries the launched job's initial snapshot.
type LaunchResponse struct {
	Job core.Job `json:"job"`
}

// CancelRequest stops the job in a slot.
type CancelRequest struct {
	Slot  string `json:"slot"`
	Force bool   `json:"force,omitempty"`
}

// StatusRequest asks for one slot's job snapshot.
type StatusRequest struct {
	Slot string `json:"slot"`
}

// StatusResponse is the slot's job snapshot.
type StatusResponse struct {
	Job core.Job `json:"job"`
}

// ListJobsResponse is every slot's snapshot, sorted by slot.
type ListJobsResponse struct {
	Jobs []core.Job `json:"jobs"`
}

// BountyInfo is one launchable preset from the manifest.
type BountyInfo struct {
	Name    string  `json:"name"`
	Command string  `json:"command"`
	Title   string  `json:"title,omitempty"`
	Reward  float64 `json:"reward,omitempty"`
	Chain   string  `json:"chain,omitempty"`
}

// ListBountiesResponse lists the manifest's bounty presets.
type ListBountiesResponse struct {
	Bounties []BountyInfo `json:"bounties"`
}

// JobOutputRequest asks for a slot's recent output.
type JobOutputRequest struct {
	Slot  string `json:"slot"`
	Lines int    `json:"lines,omitempty"`
}

// JobOutputResponse carries recent output lines, oldest first.
type JobOutputResponse struct {
	Lines []core.OutputLine `json:"lines"`
}

// TailLogsRequest asks for the tail of the worker's bot log.
type TailLogsRequest struct {
	Lines int `json:"lines,omitempty"`
}

// TailLogsResponse carries bot log lines, oldest first.
type TailLogsResponse struct {
	Path  string   `json:"path"`
	Lines []string `json:"lines"`
}

// AuditRecentRequest asks for the most recent audit entries.
type AuditRecentRequest struct {
	Limit int `json:"limit,omitempty"`
}

// AuditRecentResponse carries audit entries, oldest first.
type AuditRecentResponse struct {
	Entries []audit.Entry `json:"entries"`
}

// ConfigEntry is one worker .env key. Secret values arrive masked.
type ConfigEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ConfigGetResponse is the worker's .env contents.
type ConfigGetResponse struct {
	Path    string        `json:"path"`
	Entries []ConfigEntry `json:"entries"`
}

// ConfigSetRequest writes one .env key.
type ConfigSetRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// WalletCreateResponse is the generated key pair plus the script's
// verbatim output.
type WalletCreateResponse struct {
	Address    string   `json:"address"`
	PrivateKey string   `json:"private_key"`
	Output     []string `json:"output"`
}

// WalletBalanceResponse is the balance script's verbatim output.
type WalletBalanceResponse struct {
	Output []string `json:"output"`
}

// HealthResponse reports chain RPC reachability.
type HealthResponse struct {
	RPCURL  string `json:"rpc_url"`
	ChainID int64  `json:"chain_id"`
}

// LogsBatchEvent is a batch of new bot log lines.
type LogsBatchEvent struct {
	Path  string   `json:"path"`
	Lines []string `json:"lines"`
}

// AuditBatchEvent is pushed when the audit document grows.
type AuditBatchEvent struct {
	Entries []audit.Entry `json:"entries"`
}
