// SPDX-License-Identifier: MPL-2.0

package config

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Render formats cfg in the given format.
func Render(cfg *Config, format Format) ([]byte, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	switch format {
	case FormatTOML:
		return toml.Marshal(cfg)
	case FormatYAML:
		return yaml.Marshal(cfg)
	default:
		return []byte(GenerateCUE(cfg)), nil
	}
}

// GenerateCUE returns cfg as a CUE document accepted by Load.
func GenerateCUE(cfg *Config) string {
	var sb strings.Builder

	sb.WriteString("// Cougar venue configuration.\n")
	sb.WriteString("// Durations are milliseconds; 0 disables a limit.\n\n")

	sb.WriteString("venue: {\n")
	fmt.Fprintf(&sb, "\tdefault_max_execution_time_ms: %d\n", cfg.Venue.DefaultMaxExecutionTimeMs)
	fmt.Fprintf(&sb, "\tdrain_timeout_ms: %d\n", cfg.Venue.DrainTimeoutMs)
	sb.WriteString("}\n")

	if len(cfg.Timeouts) > 0 {
		keys := make([]string, 0, len(cfg.Timeouts))
		for k := range cfg.Timeouts {
			keys = append(keys, k)
		}
		slices.Sort(keys)

		sb.WriteString("\ntimeouts: {\n")
		for _, k := range keys {
			fmt.Fprintf(&sb, "\t%s: %d\n", strconv.Quote(k), cfg.Timeouts[k])
		}
		sb.WriteString("}\n")
	}

	sb.WriteString("\nexecutor: {\n")
	fmt.Fprintf(&sb, "\tworkers: %d\n", cfg.Executor.Workers)
	fmt.Fprintf(&sb, "\tqueue_size: %d\n", cfg.Executor.QueueSize)
	sb.WriteString("}\n")

	sb.WriteString("\nqos: {\n")
	fmt.Fprintf(&sb, "\tenabled: %v\n", cfg.QoS.Enabled)
	fmt.Fprintf(&sb, "\trps: %s\n", strconv.FormatFloat(cfg.QoS.RPS, 'f', -1, 64))
	fmt.Fprintf(&sb, "\tburst: %d\n", cfg.QoS.Burst)
	fmt.Fprintf(&sb, "\tper_caller: %v\n", cfg.QoS.PerCaller)
	sb.WriteString("}\n")

	sb.WriteString("\nidentity: {\n")
	fmt.Fprintf(&sb, "\tcache_ttl_ms: %d\n", cfg.Identity.CacheTTLMs)
	fmt.Fprintf(&sb, "\tcache_capacity: %d\n", cfg.Identity.CacheCapacity)
	sb.WriteString("}\n")

	sb.WriteString("\ntransport: {\n")
	fmt.Fprintf(&sb, "\thttp_addr: %q\n", cfg.Transport.HTTPAddr)
	fmt.Fprintf(&sb, "\tssh_addr: %q\n", cfg.Transport.SSHAddr)
	sb.WriteString("}\n")

	fmt.Fprintf(&sb, "\nlogging: level: %q\n", cfg.Logging.Level)
	fmt.Fprintf(&sb, "\nmetrics: enabled: %v\n", cfg.Metrics.Enabled)

	return sb.String()
}
