package xodus

import (
	"os"
	"time"

	"github.com/magiconair/properties"

	"github.com/leventov/xodus/bindings"
	"github.com/leventov/xodus/xcache"
)

// EnvironmentConfig holds the configuration keys consumed by the environment
// core, loaded from an exodus.properties file located alongside the log.
type EnvironmentConfig struct {
	// MonitorTxnsTimeout is envMonitorTxnsTimeout: zero disables the StuckTransactionMonitor.
	MonitorTxnsTimeout time.Duration
	// CloseForcedly is envCloseForcedly: allows Close to proceed with live transactions.
	CloseForcedly bool
	// TreeMaxPageSize is treeMaxPageSize: passed to the tree's balance policy.
	TreeMaxPageSize int
	// Interner is bindings.interner: selects the string-interning strategy.
	Interner bindings.InternerKind
	// CacheBackend selects the xcache backend used by the bindings interner and
	// the GC utilization-profile cache.
	CacheBackend xcache.Backend
	// RedisAddr is the Redis address used when CacheBackend is xcache.BackendRedis.
	RedisAddr string
	// GCEnabled turns the background garbage collector worker on or off.
	GCEnabled bool
}

// DefaultEnvironmentConfig returns the documented defaults for all keys.
func DefaultEnvironmentConfig() EnvironmentConfig {
	return EnvironmentConfig{
		MonitorTxnsTimeout: 0,
		CloseForcedly:      false,
		TreeMaxPageSize:    128,
		Interner:           bindings.InternerNone,
		CacheBackend:       xcache.BackendMemory,
		GCEnabled:          true,
	}
}

// LoadEnvironmentConfig looks for <dir>/exodus.properties and overlays any
// keys it finds onto DefaultEnvironmentConfig. A missing file is not an
// error; the defaults apply as-is.
func LoadEnvironmentConfig(dir string) (EnvironmentConfig, error) {
	cfg := DefaultEnvironmentConfig()

	path := dir + string(os.PathSeparator) + "exodus.properties"
	p, err := properties.LoadFile(path, properties.UTF8)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, NewError(Unknown, "", err)
	}

	if v := p.GetInt64("envMonitorTxnsTimeout", 0); v > 0 {
		cfg.MonitorTxnsTimeout = time.Duration(v) * time.Millisecond
	}
	if v, ok := p.Get("envCloseForcedly"); ok {
		cfg.CloseForcedly = v == "true" || v == "1"
	}
	cfg.TreeMaxPageSize = p.GetInt("treeMaxPageSize", cfg.TreeMaxPageSize)
	if v, ok := p.Get("bindings.interner"); ok {
		switch v {
		case "java":
			cfg.Interner = bindings.InternerJava
		case "xodus":
			cfg.Interner = bindings.InternerXodus
		default:
			cfg.Interner = bindings.InternerNone
		}
	}
	if v, ok := p.Get("cache.backend"); ok && v == "redis" {
		cfg.CacheBackend = xcache.BackendRedis
	}
	if v, ok := p.Get("cache.redisAddr"); ok {
		cfg.RedisAddr = v
	}
	if v, ok := p.Get("gc.enabled"); ok {
		cfg.GCEnabled = v != "false" && v != "0"
	}

	return cfg, nil
}
