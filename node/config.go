// Copyright 2025 The go-lucid Authors
// This file is part of the go-lucid library.
//
// The go-lucid library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-lucid library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-lucid library. If not, see <http://www.gnu.org/licenses/>.

package node

import (
	"encoding/hex"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"

	"github.com/lucid-rdp/go-lucid/common"
	"github.com/lucid-rdp/go-lucid/lucerr"
	"github.com/lucid-rdp/go-lucid/session/encryptor"
	"github.com/lucid-rdp/go-lucid/tron"
)

// Config collects every deployment-specific value the node needs. All of it
// is injected through the environment; nothing here is hardcoded into the
// services. Consensus timing, cooldown and window parameters are deliberately
// absent: they are protocol constants and live in params.
type Config struct {
	// Document store.
	MongoURL            string        `envconfig:"MONGO_URL" required:"true"`
	MongoDatabase       string        `envconfig:"MONGO_DB" default:"lucid"`
	MongoConnectTimeout time.Duration `envconfig:"MONGO_CONNECT_TIMEOUT" default:"10s"`
	MongoMaxPoolSize    uint64        `envconfig:"MONGO_MAX_POOL_SIZE" default:"64"`

	// Local artifact root. Chunks, encrypted chunks, Merkle summaries and
	// the block mirror live in subdirectories.
	DataDir string `envconfig:"LUCID_DATA_DIR" default:"lucid-data"`

	// Primary chain.
	ChainRPCURL        string `envconfig:"ON_CHAIN_RPC_URL" required:"true"`
	ChainWSURL         string `envconfig:"ON_CHAIN_WS_URL"`
	AnchorsContract    string `envconfig:"LUCID_ANCHORS_ADDRESS" required:"true"`
	ChunkStoreContract string `envconfig:"LUCID_CHUNK_STORE_ADDRESS" required:"true"`
	FromAddress        string `envconfig:"LUCID_FROM_ADDRESS"`

	// Session pipeline.
	MasterKey       string `envconfig:"LUCID_MASTER_KEY" required:"true"`
	MasterKeyID     string `envconfig:"LUCID_MASTER_KEY_ID" default:"key-001"`
	ChunkTargetSize int64  `envconfig:"CHUNK_TARGET_SIZE"`
	EncryptWorkers  int    `envconfig:"ENCRYPT_WORKERS"`

	// Consensus. NodeID empty means the node observes slots without
	// producing blocks.
	NodeID      string `envconfig:"LUCID_NODE_ID"`
	ClusterSize int    `envconfig:"POOT_CLUSTER_SIZE"`
	VRFSeed     string `envconfig:"POOT_VRF_SEED" default:"lucid-vrf-seed-1"`

	// Payment chain. Endpoint and USDT contract default per network.
	TronNetwork      string `envconfig:"TRON_NETWORK" default:"nile"`
	TronPrivateKey   string `envconfig:"TRON_PRIVATE_KEY" required:"true"`
	TronEndpoint     string `envconfig:"TRON_ENDPOINT"`
	USDTContract     string `envconfig:"USDT_CONTRACT"`
	RouterV0Address  string `envconfig:"PAYOUT_ROUTER_V0_ADDRESS" required:"true"`
	RouterKYCAddress string `envconfig:"PAYOUT_ROUTER_KYC_ADDRESS" required:"true"`

	// Peer to pull missing blocks from. Empty disables synchronization.
	PeerRPCURL string `envconfig:"PEER_RPC_URL"`

	// Background loop cadence.
	AnchorSweepInterval time.Duration `envconfig:"ANCHOR_SWEEP_INTERVAL" default:"30s"`
	PayoutInterval      time.Duration `envconfig:"PAYOUT_INTERVAL" default:"60s"`
	SyncInterval        time.Duration `envconfig:"SYNC_INTERVAL" default:"60s"`

	// Observability. MetricsAddr empty disables the Prometheus listener.
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	MetricsAddr string `envconfig:"METRICS_ADDR"`
}

// ConfigFromEnv reads and validates the node configuration from the
// environment. Any failure here is fatal to the process; the caller exits
// non-zero instead of running with a partial config.
func ConfigFromEnv() (*Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, lucerr.Wrap(lucerr.Validation, err, "reading node environment")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// placeholderMarkers flag values that were copied from a template instead of
// being filled in.
var placeholderMarkers = []string{
	"changeme", "change-me", "placeholder", "your-", "your_", "example", "<", "todo", "xxxx",
}

// Validate rejects configurations that would start a node against the wrong
// backends: missing values, template placeholders left in place, loopback
// hosts for services that must be remote, and malformed keys or addresses.
func (c *Config) Validate() error {
	// envconfig only enforces required tags for unset variables; a value
	// explicitly set to "" slips through.
	required := []struct{ name, value string }{
		{"MONGO_URL", c.MongoURL},
		{"MONGO_DB", c.MongoDatabase},
		{"ON_CHAIN_RPC_URL", c.ChainRPCURL},
		{"LUCID_ANCHORS_ADDRESS", c.AnchorsContract},
		{"LUCID_CHUNK_STORE_ADDRESS", c.ChunkStoreContract},
		{"LUCID_MASTER_KEY", c.MasterKey},
		{"TRON_PRIVATE_KEY", c.TronPrivateKey},
		{"PAYOUT_ROUTER_V0_ADDRESS", c.RouterV0Address},
		{"PAYOUT_ROUTER_KYC_ADDRESS", c.RouterKYCAddress},
	}
	for _, f := range required {
		if f.value == "" {
			return lucerr.Newf(lucerr.Validation, "required key %s missing value", f.name)
		}
	}

	// Address fields are exempt: their checksum validation below already
	// rejects template values, and base58 text can contain marker
	// substrings by accident.
	scanned := []struct{ name, value string }{
		{"MONGO_URL", c.MongoURL},
		{"ON_CHAIN_RPC_URL", c.ChainRPCURL},
		{"ON_CHAIN_WS_URL", c.ChainWSURL},
		{"LUCID_MASTER_KEY", c.MasterKey},
		{"TRON_PRIVATE_KEY", c.TronPrivateKey},
		{"TRON_ENDPOINT", c.TronEndpoint},
		{"PEER_RPC_URL", c.PeerRPCURL},
	}
	for _, f := range scanned {
		if marker := placeholderValue(f.value); marker != "" {
			return lucerr.Newf(lucerr.Validation, "%s looks like a template placeholder (%q)", f.name, marker)
		}
	}

	remote := []struct{ name, value string }{
		{"MONGO_URL", c.MongoURL},
		{"ON_CHAIN_RPC_URL", c.ChainRPCURL},
		{"ON_CHAIN_WS_URL", c.ChainWSURL},
		{"TRON_ENDPOINT", c.TronEndpoint},
		{"PEER_RPC_URL", c.PeerRPCURL},
	}
	for _, f := range remote {
		if f.value == "" {
			continue
		}
		if host := unsafeHost(f.value); host != "" {
			return lucerr.Newf(lucerr.Validation, "%s points at unsafe host %q", f.name, host)
		}
	}

	key, err := hex.DecodeString(strings.TrimPrefix(c.MasterKey, "0x"))
	if err != nil || len(key) != encryptor.MasterKeySize {
		return lucerr.Newf(lucerr.Validation, "LUCID_MASTER_KEY must be %d hex-encoded bytes", encryptor.MasterKeySize)
	}

	tronKey, err := hex.DecodeString(strings.TrimPrefix(c.TronPrivateKey, "0x"))
	if err != nil || len(tronKey) != 32 {
		return lucerr.New(lucerr.Validation, "TRON_PRIVATE_KEY must be 32 hex-encoded bytes")
	}
	allZero := true
	for _, b := range tronKey {
		if b != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		return lucerr.New(lucerr.Validation, "TRON_PRIVATE_KEY is zero")
	}

	switch tron.Network(c.TronNetwork) {
	case tron.Mainnet, tron.Shasta, tron.Nile:
	default:
		return lucerr.Newf(lucerr.Validation, "TRON_NETWORK %q is not one of mainnet, shasta, nile", c.TronNetwork)
	}

	contracts := []struct{ name, value string }{
		{"LUCID_ANCHORS_ADDRESS", c.AnchorsContract},
		{"LUCID_CHUNK_STORE_ADDRESS", c.ChunkStoreContract},
	}
	for _, f := range contracts {
		if !common.IsHexAddress(f.value) || common.HexToAddress(f.value).IsZero() {
			return lucerr.Newf(lucerr.Validation, "%s is not a deployed contract address", f.name)
		}
	}
	if c.FromAddress != "" && !common.IsHexAddress(c.FromAddress) {
		return lucerr.New(lucerr.Validation, "LUCID_FROM_ADDRESS is not a hex address")
	}

	if _, err := tron.ParseAddress(c.RouterV0Address); err != nil {
		return lucerr.Wrap(lucerr.Validation, err, "PAYOUT_ROUTER_V0_ADDRESS")
	}
	if _, err := tron.ParseAddress(c.RouterKYCAddress); err != nil {
		return lucerr.Wrap(lucerr.Validation, err, "PAYOUT_ROUTER_KYC_ADDRESS")
	}
	if c.USDTContract != "" {
		if _, err := tron.ParseAddress(c.USDTContract); err != nil {
			return lucerr.Wrap(lucerr.Validation, err, "USDT_CONTRACT")
		}
	}

	intervals := []struct {
		name  string
		value time.Duration
	}{
		{"ANCHOR_SWEEP_INTERVAL", c.AnchorSweepInterval},
		{"PAYOUT_INTERVAL", c.PayoutInterval},
		{"SYNC_INTERVAL", c.SyncInterval},
	}
	for _, f := range intervals {
		if f.value <= 0 {
			return lucerr.Newf(lucerr.Validation, "%s must be positive", f.name)
		}
	}

	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return lucerr.Newf(lucerr.Validation, "LOG_LEVEL %q is not a log level", c.LogLevel)
	}
	return nil
}

// masterKeyBytes returns the decoded master key. Validate has already
// checked length and encoding.
func (c *Config) masterKeyBytes() []byte {
	key, _ := hex.DecodeString(strings.TrimPrefix(c.MasterKey, "0x"))
	return key
}

func placeholderValue(value string) string {
	lower := strings.ToLower(value)
	for _, marker := range placeholderMarkers {
		if strings.Contains(lower, marker) {
			return marker
		}
	}
	return ""
}

// unsafeHost reports the loopback or wildcard host a URL points at, or ""
// when the host is acceptable. Values without a scheme are checked as raw
// host strings.
func unsafeHost(raw string) string {
	host := raw
	if u, err := url.Parse(raw); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	host = strings.ToLower(strings.Trim(host, "[]"))
	switch {
	case host == "localhost" || strings.HasPrefix(host, "localhost:"):
		return "localhost"
	case strings.HasPrefix(host, "127."):
		return "127.0.0.0/8"
	case host == "::1":
		return "::1"
	case host == "0.0.0.0" || strings.HasPrefix(host, "0.0.0.0:"):
		return "0.0.0.0"
	}
	return ""
}
