// Package config loads and hot-reloads GC tuning options and gates the
// host runtime interface version.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/orizon-lang/orizon-gc/env"
)

// Option keys recognized from the process environment and .env files.
const (
	KeyGCThreadCount        = "ORIZON_GC_THREAD_COUNT"
	KeyGCThreadCountForced  = "ORIZON_GC_THREAD_COUNT_FORCED"
	KeyTLHInitialSize       = "ORIZON_GC_TLH_INITIAL_SIZE"
	KeyTLHMinimumSize       = "ORIZON_GC_TLH_MINIMUM_SIZE"
	KeyTLHMaximumSize       = "ORIZON_GC_TLH_MAXIMUM_SIZE"
	KeyTLHIncrementSize     = "ORIZON_GC_TLH_INCREMENT_SIZE"
	KeyBatchClearTLH        = "ORIZON_GC_BATCH_CLEAR_TLH"
	KeyParSweepChunkSize    = "ORIZON_GC_SWEEP_CHUNK_SIZE"
	KeyHybridNotifyBound    = "ORIZON_GC_HYBRID_NOTIFY_BOUND"
	KeyMinimumHeapPerThread = "ORIZON_GC_MINIMUM_HEAP_PER_THREAD"
	KeySamplingRate         = "ORIZON_GC_FREQUENT_SAMPLING_RATE"
)

// Load applies overrides from an optional .env file and the process
// environment on top of base, returning a new option set. File values
// lose to process environment values.
func Load(path string, base *env.Options) (*env.Options, error) {
	values := map[string]string{}
	if path != "" {
		fileValues, err := godotenv.Read(path)
		if err != nil {
			return nil, fmt.Errorf("%w: reading %s: %v", env.ErrInitializationError, path, err)
		}
		for k, v := range fileValues {
			values[k] = v
		}
	}
	for _, key := range allKeys() {
		if v, ok := os.LookupEnv(key); ok {
			values[key] = v
		}
	}
	return apply(base, values, false)
}

// readFileValues reads every key/value pair of a .env-format file;
// apply picks out the recognized keys.
func readFileValues(path string) (map[string]string, error) {
	return godotenv.Read(path)
}

func allKeys() []string {
	return []string{
		KeyGCThreadCount, KeyGCThreadCountForced,
		KeyTLHInitialSize, KeyTLHMinimumSize, KeyTLHMaximumSize, KeyTLHIncrementSize,
		KeyBatchClearTLH, KeyParSweepChunkSize, KeyHybridNotifyBound,
		KeyMinimumHeapPerThread, KeySamplingRate,
	}
}

// apply copies base and overlays the recognized values. With
// dynamicOnly set, keys that cannot change mid-run (thread counts) are
// ignored, which is the contract of the hot-reload path.
func apply(base *env.Options, values map[string]string, dynamicOnly bool) (*env.Options, error) {
	options := *base

	parseSize := func(key string, target *uintptr) error {
		v, ok := values[key]
		if !ok {
			return nil
		}
		parsed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %v", env.ErrInitializationError, key, v, err)
		}
		*target = uintptr(parsed)
		return nil
	}
	parseInt := func(key string, target *int) error {
		v, ok := values[key]
		if !ok {
			return nil
		}
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %v", env.ErrInitializationError, key, v, err)
		}
		*target = parsed
		return nil
	}
	parseBool := func(key string, target *bool) error {
		v, ok := values[key]
		if !ok {
			return nil
		}
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %v", env.ErrInitializationError, key, v, err)
		}
		*target = parsed
		return nil
	}

	if !dynamicOnly {
		if err := parseInt(KeyGCThreadCount, &options.GCThreadCount); err != nil {
			return nil, err
		}
		if err := parseBool(KeyGCThreadCountForced, &options.GCThreadCountForced); err != nil {
			return nil, err
		}
		if err := parseSize(KeyMinimumHeapPerThread, &options.MinimumHeapPerThread); err != nil {
			return nil, err
		}
	}
	if err := parseSize(KeyTLHInitialSize, &options.TLHInitialSize); err != nil {
		return nil, err
	}
	if err := parseSize(KeyTLHMinimumSize, &options.TLHMinimumSize); err != nil {
		return nil, err
	}
	if err := parseSize(KeyTLHMaximumSize, &options.TLHMaximumSize); err != nil {
		return nil, err
	}
	if err := parseSize(KeyTLHIncrementSize, &options.TLHIncrementSize); err != nil {
		return nil, err
	}
	if err := parseBool(KeyBatchClearTLH, &options.BatchClearTLH); err != nil {
		return nil, err
	}
	if err := parseSize(KeyParSweepChunkSize, &options.ParSweepChunkSize); err != nil {
		return nil, err
	}
	if err := parseInt(KeyHybridNotifyBound, &options.DispatcherHybridNotifyThreadBound); err != nil {
		return nil, err
	}
	if err := parseInt(KeySamplingRate, &options.FrequentObjectAllocationSamplingRate); err != nil {
		return nil, err
	}

	return &options, nil
}
