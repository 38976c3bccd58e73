package node

import "github.com/google/uuid"

// Options is the embedding surface for a Boson node: the CLI launcher that
// would parse --address4/--address6/--port/--data-dir/--bootstrap/
// --developerMode into this struct, and --config into the *config.Config
// passed alongside it to New, is out of scope; only the struct itself is
// exposed here.
type Options struct {
	Address4      string
	Address6      string
	Port          int
	DataDir       string
	Bootstrap     []string // "id:addr:port" entries
	DeveloperMode bool

	// SessionId tags this node's log lines so an embedding application
	// running several Nodes in one process can tell them apart. New
	// generates one if left zero.
	SessionId uuid.UUID
}
