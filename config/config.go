// Package config loads the named tunables of SPEC_FULL.md §6 from a TOML
// document, falling back to the spec's literal defaults for anything the
// document omits. naoina/toml is used the way delida-xchain and
// ethereum-go-ethereum load their node configuration; the teacher itself has
// no config loader of its own.
package config

import (
	"bytes"
	"io"
	"os"
	"time"

	"github.com/naoina/toml"
)

// Config holds every tunable named in SPEC_FULL.md §6 plus the bootstrap
// parameters needed to join a network.
type Config struct {
	// K is the bucket capacity and default result width.
	K int `toml:"k"`
	// Alpha is the per-round lookup parallelism.
	Alpha int `toml:"alpha"`
	// RPCIDLength is the width, in bytes, of an RPC correlation ID.
	RPCIDLength int `toml:"rpc_id_length"`
	// RPCTimeout is the single-request deadline.
	RPCTimeout time.Duration `toml:"rpc_timeout"`
	// RPCAttemptsPruningWindow is the rolling window for address failure counting.
	RPCAttemptsPruningWindow time.Duration `toml:"rpc_attempts_pruning_window"`
	// RefreshInterval is the bucket refresh age.
	RefreshInterval time.Duration `toml:"refresh_interval"`
	// CheckRefreshInterval is the liveness freshness window (refresh_interval / 5).
	CheckRefreshInterval time.Duration `toml:"check_refresh_interval"`
	// DataExpiration is announcement validity (24h default).
	DataExpiration time.Duration `toml:"data_expiration"`
	// TokenSecretRefreshInterval governs token secret rotation.
	TokenSecretRefreshInterval time.Duration `toml:"token_secret_refresh_interval"`
	// BottomOutLimit is consecutive no-progress rounds before a lookup terminates.
	BottomOutLimit int `toml:"bottom_out_limit"`
	// MaxDatagramSize is the UDP-safe payload ceiling.
	MaxDatagramSize int `toml:"max_datagram_size"`
	// MsgSizeLimit is the usable payload after the header reserve.
	MsgSizeLimit int `toml:"msg_size_limit"`
	// IterativeLookupDelay is the delay between lookup rounds (rpc_timeout / 2).
	IterativeLookupDelay time.Duration `toml:"iterative_lookup_delay"`
	// AnnouncerInterval is the blob announcer's cycle period (default 60s).
	AnnouncerInterval time.Duration `toml:"announcer_interval"`
	// AnnouncerConcurrency bounds in-flight store calls per announcer cycle.
	AnnouncerConcurrency int `toml:"announcer_concurrency"`
	// IgnoredAddressFailureThreshold is how many failures in the pruning
	// window mark an address ignored.
	IgnoredAddressFailureThreshold int `toml:"ignored_address_failure_threshold"`

	// ListenAddress is the local UDP bind address, e.g. "0.0.0.0:4444".
	ListenAddress string `toml:"listen_address"`
	// ExternalIP, if set, is advertised to peers instead of the bind address.
	ExternalIP string `toml:"external_ip"`
	// BootstrapHosts are "host:port" pairs resolved once at join time; host
	// is resolved via DNS, port is the bootstrap node's listening UDP port.
	BootstrapHosts []string `toml:"bootstrap_hosts"`
}

// Default returns the compiled-in defaults from SPEC_FULL.md §6.
func Default() Config {
	return Config{
		K:                              8,
		Alpha:                          5,
		RPCIDLength:                    20,
		RPCTimeout:                     5 * time.Second,
		RPCAttemptsPruningWindow:       600 * time.Second,
		RefreshInterval:                3600 * time.Second,
		CheckRefreshInterval:           (3600 * time.Second) / 5,
		DataExpiration:                 86400 * time.Second,
		TokenSecretRefreshInterval:     300 * time.Second,
		BottomOutLimit:                 3,
		MaxDatagramSize:                8192,
		MsgSizeLimit:                   8166,
		IterativeLookupDelay:           (5 * time.Second) / 2,
		AnnouncerInterval:              60 * time.Second,
		AnnouncerConcurrency:           10,
		IgnoredAddressFailureThreshold: 3,
		ListenAddress:                  "0.0.0.0:4444",
		BootstrapHosts:                 nil,
	}
}

// Load decodes a TOML document from r on top of Default(), so an empty
// document (or any document omitting a field) still yields a working
// configuration.
func Load(r io.Reader) (Config, error) {
	cfg := Default()
	data, err := io.ReadAll(r)
	if err != nil {
		return Config{}, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return cfg, nil
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile opens path and decodes it via Load.
func LoadFile(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer f.Close()
	return Load(f)
}
