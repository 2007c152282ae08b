// Copyright 2026 The InsertDest Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command insertbench drives concurrent insert load against the three
// insert-destination strategies and reports elapsed time and block
// counts, in the shape of the teacher's own tae/cmd sample programs
// (goroutine pool over a WaitGroup, wall-clock timing around the hot
// loop).
package main

import (
	"flag"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/matrixdb/insertdest/pkg/catalog"
	"github.com/matrixdb/insertdest/pkg/insertdest"
	"github.com/matrixdb/insertdest/pkg/logutil"
	"github.com/matrixdb/insertdest/pkg/pipeline"
	"github.com/matrixdb/insertdest/pkg/storage"
	"github.com/matrixdb/insertdest/pkg/threadid"
	"github.com/matrixdb/insertdest/pkg/tuple"
	"go.uber.org/zap"
)

// Config is the benchmark's TOML configuration, following the teacher's
// mo-service convention of one flat config struct per binary.
type Config struct {
	Strategy      string `toml:"strategy"`
	NumWorkers    int    `toml:"num_workers"`
	NumTuples     int    `toml:"num_tuples"`
	RowsPerBlock  uint32 `toml:"rows_per_block"`
	NumPartitions uint32 `toml:"num_partitions"`
	PebbleDir     string `toml:"pebble_dir"`
}

func defaultConfig() Config {
	return Config{
		Strategy:      "block_pool",
		NumWorkers:    8,
		NumTuples:     100000,
		RowsPerBlock:  1024,
		NumPartitions: 4,
	}
}

func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("decode config %q: %w", path, err)
	}
	return cfg, nil
}

func buildRelation() *catalog.RelationSchema {
	attrs := []catalog.Attribute{
		{ID: 0, Name: "id", Type: catalog.AttrInt64},
		{ID: 1, Name: "payload", Type: catalog.AttrVarChar},
	}
	return catalog.NewRelationSchema(1, "bench_relation", attrs, nil)
}

func buildManager(cfg Config) (storage.Manager, func(), error) {
	if cfg.PebbleDir == "" {
		return storage.NewMemManager(), func() {}, nil
	}
	pm, err := storage.OpenPebbleManager(cfg.PebbleDir)
	if err != nil {
		return nil, nil, err
	}
	return pm, func() { _ = pm.Close() }, nil
}

func buildDestination(cfg Config, relation *catalog.RelationSchema, layout *catalog.BlockLayout, manager storage.Manager, bus pipeline.Bus, schedulerID catalog.ClientID) insertdest.InsertDestination {
	switch cfg.Strategy {
	case "always_create":
		return insertdest.NewAlwaysCreateDestination(relation, layout, manager, 0, catalog.QueryID(1), schedulerID, bus)
	case "partition_aware":
		scheme := catalog.NewPartitionSchemeHeader([]catalog.AttributeID{0}, cfg.NumPartitions, nil)
		return insertdest.NewPartitionAwareDestination(relation, layout, manager, 0, catalog.QueryID(1), schedulerID, bus, scheme)
	default:
		return insertdest.NewBlockPoolDestination(relation, layout, manager, 0, catalog.QueryID(1), schedulerID, bus)
	}
}

func drainScheduler(mailbox <-chan pipeline.Envelope, count *int64, done <-chan struct{}) {
	for {
		select {
		case env, ok := <-mailbox:
			if !ok {
				return
			}
			if _, err := pipeline.UnmarshalDataPipelineMessage(env.Tagged.Payload); err != nil {
				logutil.Error("insertbench: failed to decode pipeline message", zap.Error(err))
				continue
			}
			*count++
		case <-done:
			return
		}
	}
}

func run(cfg Config) error {
	logutil.SetGlobalLogger(zap.NewExample())

	relation := buildRelation()
	layout := catalog.NewBlockLayout("bench_layout", cfg.RowsPerBlock)

	manager, closeManager, err := buildManager(cfg)
	if err != nil {
		return err
	}
	defer closeManager()

	bus := pipeline.NewInProcessBus()
	schedulerID := catalog.ClientID(1)
	mailbox := bus.Connect(schedulerID)

	dest := buildDestination(cfg, relation, layout, manager, bus, schedulerID)

	var fullBlocks int64
	done := make(chan struct{})
	go drainScheduler(mailbox, &fullBlocks, done)

	pool, err := ants.NewPool(cfg.NumWorkers)
	if err != nil {
		return fmt.Errorf("create worker pool: %w", err)
	}
	defer pool.Release()

	runID := uuid.New()
	logutil.GetGlobalLogger().Info("insertbench: starting run",
		zap.String("run_id", runID.String()),
		zap.String("strategy", cfg.Strategy),
		zap.Int("num_tuples", cfg.NumTuples))

	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < cfg.NumTuples; i++ {
		id := int64(i)
		wg.Add(1)
		task := func() {
			defer wg.Done()
			threadid.Global().AddValue(schedulerID + 1)
			t := tuple.NewTuple([]tuple.Value{id, fmt.Sprintf("row-%d", id)})
			dest.InsertTuple(t)
		}
		if err := pool.Submit(task); err != nil {
			wg.Done()
			return fmt.Errorf("submit task %d: %w", i, err)
		}
	}
	wg.Wait()
	elapsed := time.Since(start)

	partials, _ := dest.GetPartiallyFilledBlocks()
	for _, ref := range partials {
		ref.Release()
	}
	touched := dest.GetTouchedBlocks()

	close(done)
	bus.Disconnect(schedulerID)

	fmt.Printf("strategy=%s tuples=%d workers=%d elapsed=%s blocks_touched=%d full_notifications=%d\n",
		cfg.Strategy, cfg.NumTuples, cfg.NumWorkers, elapsed, len(touched), fullBlocks)
	return nil
}

func main() {
	configPath := flag.String("config", "", "path to a TOML benchmark configuration file")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
