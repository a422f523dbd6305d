package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"stablecore/internal/config"
	"stablecore/internal/core"
	"stablecore/internal/event"
	"stablecore/internal/ingestion"
	"stablecore/internal/ledger"
	"stablecore/internal/observability"
	"stablecore/internal/persistence"
	"stablecore/internal/projection"
	"stablecore/internal/query"
	"stablecore/internal/server"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("INFO: stablecore starting...")

	configPath := flag.String("config", "config.toml", "path to the TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("FATAL: load config: %v", err)
	}

	// --- Context with graceful shutdown ---
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		log.Fatalf("FATAL: postgres open: %v", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("FATAL: postgres ping: %v", err)
	}
	log.Println("INFO: Postgres connected")

	// --- Run SQL migrations ---
	migrator := persistence.NewMigrator(db, cfg.MigrationsDir)
	if err := migrator.Up(ctx); err != nil {
		log.Fatalf("FATAL: run migrations: %v", err)
	}
	log.Println("INFO: migrations applied")

	snapMgr := persistence.NewSnapshotManager(db)

	// --- Recovery: load snapshot + replay ---
	startSequence := int64(0)

	snap, err := snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		log.Printf("WARN: failed to load snapshot: %v", err)
	}
	if snap != nil {
		startSequence = snap.Sequence + 1
		log.Printf("INFO: loaded snapshot at sequence %d", snap.Sequence)
	} else {
		log.Println("INFO: no snapshot found, cold start from sequence 0")
	}

	// --- Channels ---
	// The persist channel blocks (backpressure), the projection channel drops.
	persistCoreChan := make(chan core.CoreOutput, cfg.PersistChanSize)
	projectionCoreChan := make(chan core.CoreOutput, cfg.ProjectionChanSize)

	// Bridge channels for the workers (avoids import cycles)
	persistWorkerChan := make(chan persistence.CoreOutput, cfg.PersistChanSize)
	projectionWorkerChan := make(chan projection.ProjectionOutput, cfg.ProjectionChanSize)

	dbChecker := persistence.NewPostgresIdempotencyChecker(db)

	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	// --- Deterministic Core ---
	deterministicCore := core.NewDeterministicCore(
		startSequence,
		persistCoreChan,
		projectionCoreChan,
		dbChecker,
		metrics,
	)

	// --- Collateral assets from config ---
	now := time.Now().Unix()
	for _, ac := range cfg.Assets {
		params, err := ac.Params()
		if err != nil {
			log.Fatalf("FATAL: asset config: %v", err)
		}
		if err := deterministicCore.ConfigureAsset(params, now); err != nil {
			log.Fatalf("FATAL: configure asset %s: %v", ac.Symbol, err)
		}
		log.Printf("INFO: configured asset %s", ac.Symbol)
	}

	if flashFee, err := cfg.FlashFee(); err != nil {
		log.Fatalf("FATAL: %v", err)
	} else if flashFee != nil {
		deterministicCore.SetFlashFeeRate(flashFee)
	}

	// --- Snapshot restore + LRU warming ---
	if snap != nil {
		coreSnap, err := snap.ToCore()
		if err != nil {
			log.Fatalf("FATAL: decode snapshot: %v", err)
		}
		if err := deterministicCore.RestoreFromSnapshot(coreSnap); err != nil {
			log.Fatalf("FATAL: restore snapshot: %v", err)
		}
		log.Printf("INFO: restored in-memory state from snapshot at sequence %d", snap.Sequence)

		if len(snap.IdempotencyKeys) > 0 {
			log.Printf("INFO: warming LRU with %d keys from snapshot", len(snap.IdempotencyKeys))
			deterministicCore.WarmLRU(snap.IdempotencyKeys)
		}
	}

	// --- Event replay from snapshot.sequence+1 to head ---
	replayCount, err := replayEventsFromLog(ctx, snapMgr, deterministicCore, startSequence)
	if err != nil {
		log.Fatalf("FATAL: event replay failed: %v", err)
	}
	if replayCount > 0 {
		log.Printf("INFO: replayed %d events (sequence now at %d)", replayCount, deterministicCore.GetSequence())
	}

	// When nothing was replayed, the restored hash must match the
	// snapshot's hash exactly.
	if snap != nil && replayCount == 0 {
		var expectedHash [32]byte
		copy(expectedHash[:], snap.StateHash)
		actualHash := deterministicCore.GetStateHash()
		if expectedHash != actualHash {
			log.Fatalf("FATAL: state hash mismatch after restore: expected %x, got %x", expectedHash, actualHash)
		}
		log.Println("INFO: state hash verified after snapshot restore")
	}

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATSURL)
	if err != nil {
		log.Fatalf("FATAL: nats connect: %v", err)
	}
	defer nc.Close()
	log.Println("INFO: NATS connected")

	if err := ingestion.EnsureStreams(ctx, js); err != nil {
		log.Fatalf("FATAL: ensure NATS streams: %v", err)
	}
	if err := ingestion.EnsureOutboundStream(ctx, js); err != nil {
		log.Fatalf("FATAL: ensure outbound stream: %v", err)
	}

	// --- Event channel from NATS to core ---
	rawEventChan := make(chan ingestion.RawEvent, 4096)
	natsSubscriber := ingestion.NewNATSSubscriber(js, rawEventChan)
	if err := natsSubscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
		log.Fatalf("FATAL: nats subscribe: %v", err)
	}

	// --- Outbound publisher ---
	publishChan := make(chan ingestion.PublishableEvent, 4096)
	outboundPublisher := ingestion.NewOutboundPublisher(js, publishChan)

	// --- Services ---
	queryService := query.NewQueryService(db, deterministicCore)
	eventChan := make(chan event.Event, 4096)
	ingestService := ingestion.NewGRPCIngestService(eventChan)

	grpcServer := server.NewGRPCServer(cfg.GRPCAddr, cfg.HTTPAddr, &server.ServerDeps{
		DB:            db,
		QueryService:  queryService,
		IngestService: ingestService,
		SnapshotMgr:   snapMgr,
		TakeSnapshot: func(ctx context.Context) (int64, error) {
			if err := takeSnapshot(ctx, deterministicCore, snapMgr, metrics); err != nil {
				return 0, err
			}
			return deterministicCore.GetSequence() - 1, nil
		},
		StartTime:     time.Now(),
		HealthChecker: healthChecker,
	})

	// --- Start goroutines ---
	errChan := make(chan error, 10)

	persistWorker := persistence.NewPersistenceWorker(db, persistWorkerChan, cfg.PersistBatchSize, cfg.PersistFlushTimeout(), metrics)
	go func() {
		errChan <- persistWorker.Run(ctx)
	}()

	projWorker := projection.NewProjectionWorker(db, projectionWorkerChan)
	go func() {
		errChan <- projWorker.Run(ctx)
	}()

	go func() {
		errChan <- outboundPublisher.Run(ctx)
	}()

	go func() {
		bridgeCoreOutputs(ctx, persistCoreChan, projectionCoreChan, persistWorkerChan, projectionWorkerChan, publishChan)
	}()

	go func() {
		runIngestionLoop(ctx, rawEventChan, deterministicCore)
	}()

	go func() {
		runGRPCIngestionLoop(ctx, eventChan, deterministicCore)
	}()

	go func() {
		errChan <- grpcServer.StartGRPC(ctx)
	}()

	go func() {
		errChan <- grpcServer.StartHTTP(ctx)
	}()

	go func() {
		runPeriodicSnapshots(ctx, deterministicCore, snapMgr, cfg.SnapshotInterval, metrics)
	}()

	healthChecker.SetReady(true)

	log.Printf("INFO: stablecore ready (sequence=%d, grpc=%s, http=%s)",
		startSequence, cfg.GRPCAddr, cfg.HTTPAddr)

	// --- Wait for shutdown signal ---
	select {
	case sig := <-sigChan:
		log.Printf("INFO: received signal %s, shutting down...", sig)
	case err := <-errChan:
		log.Printf("ERROR: goroutine failed: %v, shutting down...", err)
	}

	// --- Graceful shutdown: stop intake, drain, final snapshot ---
	cancel()

	natsSubscriber.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	close(persistWorkerChan)
	close(projectionWorkerChan)
	close(publishChan)

	if err := takeSnapshot(shutdownCtx, deterministicCore, snapMgr, metrics); err != nil {
		log.Printf("ERROR: final snapshot failed: %v", err)
	} else {
		log.Println("INFO: final snapshot saved")
	}

	log.Println("INFO: stablecore shutdown complete")
}

// bridgeCoreOutputs converts core.CoreOutput to the persistence and
// projection formats. The event payload is re-encoded with
// ingestion.MarshalEvent so the stored row parses back during replay.
func bridgeCoreOutputs(
	ctx context.Context,
	persistIn <-chan core.CoreOutput,
	projectionIn <-chan core.CoreOutput,
	persistOut chan<- persistence.CoreOutput,
	projectionOut chan<- projection.ProjectionOutput,
	publishOut chan<- ingestion.PublishableEvent,
) {
	for {
		select {
		case <-ctx.Done():
			return

		case output, ok := <-persistIn:
			if !ok {
				return
			}

			payload, err := ingestion.MarshalEvent(output.Event)
			if err != nil {
				log.Printf("ERROR: marshal event payload seq=%d: %v", output.Envelope.Sequence, err)
			}

			var assetID *string
			if output.Envelope.AssetID != nil {
				s := *output.Envelope.AssetID
				assetID = &s
			}

			stateHash := output.Envelope.StateHash[:]
			prevHash := output.Envelope.PrevHash[:]

			pOutput := persistence.CoreOutput{
				EventRow: persistence.EventRow{
					Sequence:       output.Envelope.Sequence,
					EventType:      output.Envelope.EventType.String(),
					IdempotencyKey: output.Envelope.IdempotencyKey,
					AssetID:        assetID,
					Payload:        payload,
					StateHash:      stateHash,
					PrevHash:       prevHash,
					Timestamp:      output.Envelope.Timestamp,
					SourceSequence: output.Envelope.SourceSequence,
				},
			}

			if output.Batch != nil {
				for _, j := range output.Batch.Journals {
					asset, _ := ledger.GetAssetName(j.AssetID)
					pOutput.JournalRows = append(pOutput.JournalRows, persistence.JournalRow{
						JournalID:     j.JournalID.String(),
						BatchID:       j.BatchID.String(),
						EventRef:      j.EventRef,
						Sequence:      j.Sequence,
						DebitAccount:  j.DebitAccount.AccountPath(),
						CreditAccount: j.CreditAccount.AccountPath(),
						Asset:         asset,
						Amount:        j.Amount.String(),
						JournalType:   int32(j.JournalType),
						Timestamp:     j.Timestamp,
					})
				}
			}

			persistOut <- pOutput

			select {
			case publishOut <- ingestion.PublishableEvent{
				Sequence:       output.Envelope.Sequence,
				EventType:      output.Envelope.EventType.String(),
				IdempotencyKey: output.Envelope.IdempotencyKey,
				AssetID:        assetID,
				Payload:        output.Batch,
				StateHash:      stateHash,
				Timestamp:      output.Envelope.Timestamp,
			}:
			default:
				// Drop if publish channel is full
			}

		case output, ok := <-projectionIn:
			if !ok {
				return
			}

			var assetID *string
			if output.Envelope.AssetID != nil {
				s := *output.Envelope.AssetID
				assetID = &s
			}

			pOutput := projection.ProjectionOutput{
				Sequence:  output.Envelope.Sequence,
				EventType: output.Envelope.EventType.String(),
				AssetID:   assetID,
				Timestamp: output.Envelope.Timestamp.UnixMicro(),
			}

			if output.Batch != nil {
				for _, j := range output.Batch.Journals {
					asset, _ := ledger.GetAssetName(j.AssetID)
					pOutput.JournalEntries = append(pOutput.JournalEntries, projection.JournalEntry{
						DebitAccount:  j.DebitAccount.AccountPath(),
						CreditAccount: j.CreditAccount.AccountPath(),
						Asset:         asset,
						Amount:        j.Amount.String(),
						JournalType:   int32(j.JournalType),
					})
				}
			}

			select {
			case projectionOut <- pOutput:
			default:
				// Drop if the projection channel is full; projections
				// rebuild from the event log.
			}
		}
	}
}

// runIngestionLoop reads raw events from NATS and feeds them to the
// core. The shell validates, parses, and converts raw operations
// before handing them to the deterministic core.
func runIngestionLoop(ctx context.Context, rawChan <-chan ingestion.RawEvent, deterministicCore *core.DeterministicCore) {
	// Build subject-prefix to event-type lookup from DefaultSubjects.
	// Subjects use ">" wildcard, so match by prefix (strip trailing ".>").
	subjectToType := make(map[string]string)
	for _, sc := range ingestion.DefaultSubjects() {
		prefix := sc.Subject
		if len(prefix) > 2 && prefix[len(prefix)-2:] == ".>" {
			prefix = prefix[:len(prefix)-2]
		}
		subjectToType[prefix] = sc.EventType
	}

	// Messages are acked after the parsed event is handed to the typed
	// channel, NOT after core processing. That keeps AckWait from
	// expiring under slow processing while the blocking channel send
	// still propagates backpressure.
	typedEventChan := make(chan event.Event, 4096)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-rawChan:
				if !ok {
					close(typedEventChan)
					return
				}

				eventType := resolveEventType(raw.Subject, subjectToType)
				if eventType == "" {
					log.Printf("WARN: unknown NATS subject: %s", raw.Subject)
					raw.AckFunc() // Ack to avoid a redelivery loop
					continue
				}

				evt, err := ingestion.ParseRawEvent(raw, eventType)
				if err != nil {
					log.Printf("WARN: parse event failed (subject=%s): %v", raw.Subject, err)
					raw.AckFunc() // Unparseable events are acked but not forwarded
					continue
				}

				select {
				case typedEventChan <- evt:
					raw.AckFunc() // Ack AFTER successful channel send
				case <-ctx.Done():
					raw.NakFunc()
					return
				}
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-typedEventChan:
			if !ok {
				return
			}

			if err := deterministicCore.ProcessEvent(evt); err != nil {
				// Already acked; rejections (dedup, gap, validation)
				// are final and logged, not retried via NATS.
				log.Printf("ERROR: core.ProcessEvent failed (type=%s, key=%s): %v",
					evt.EventType(), evt.IdempotencyKey(), err)
			}
		}
	}
}

// resolveEventType finds the event type for a NATS subject by matching
// the longest configured prefix.
func resolveEventType(subject string, prefixMap map[string]string) string {
	bestMatch := ""
	bestType := ""
	for prefix, evtType := range prefixMap {
		if len(subject) >= len(prefix) && subject[:len(prefix)] == prefix {
			if len(prefix) > len(bestMatch) {
				bestMatch = prefix
				bestType = evtType
			}
		}
	}
	return bestType
}

// runGRPCIngestionLoop feeds admin-injected events to the core.
func runGRPCIngestionLoop(ctx context.Context, eventChan <-chan event.Event, deterministicCore *core.DeterministicCore) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-eventChan:
			if !ok {
				return
			}

			if err := deterministicCore.ProcessEvent(evt); err != nil {
				log.Printf("ERROR: core.ProcessEvent (gRPC) failed (type=%s, key=%s): %v",
					evt.EventType(), evt.IdempotencyKey(), err)
			}
		}
	}
}

// replayEventsFromLog replays events from the event log starting at
// fromSequence. Used for warm restart (replay from snapshot) and cold
// restart (replay all).
func replayEventsFromLog(
	ctx context.Context,
	snapMgr *persistence.SnapshotManager,
	deterministicCore *core.DeterministicCore,
	fromSequence int64,
) (int64, error) {
	const batchSize = 1000
	var totalReplayed int64

	for {
		events, err := snapMgr.LoadEventsFrom(ctx, fromSequence, batchSize)
		if err != nil {
			return totalReplayed, fmt.Errorf("load events from seq %d: %w", fromSequence, err)
		}

		if len(events) == 0 {
			break
		}

		for _, evtRow := range events {
			raw := ingestion.RawEvent{
				Subject: evtRow.EventType,
				Data:    evtRow.Payload,
			}

			typedEvt, err := ingestion.ParseRawEvent(raw, evtRow.EventType)
			if err != nil {
				log.Printf("WARN: skip unparseable event at seq=%d type=%s: %v",
					evtRow.Sequence, evtRow.EventType, err)
				continue
			}

			if err := deterministicCore.ProcessEvent(typedEvt); err != nil {
				// Duplicates and sequence rejections are expected here
				log.Printf("DEBUG: replay skip seq=%d: %v", evtRow.Sequence, err)
			}

			totalReplayed++
		}

		fromSequence = events[len(events)-1].Sequence + 1
	}

	return totalReplayed, nil
}

// runPeriodicSnapshots takes a snapshot every interval events,
// checking progress on a coarse ticker.
func runPeriodicSnapshots(
	ctx context.Context,
	deterministicCore *core.DeterministicCore,
	snapMgr *persistence.SnapshotManager,
	interval int64,
	metrics *observability.Metrics,
) {
	if interval <= 0 {
		interval = 100_000
	}

	lastSnapshotSeq := deterministicCore.GetSequence()
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			currentSeq := deterministicCore.GetSequence()
			if currentSeq-lastSnapshotSeq >= interval {
				if err := takeSnapshot(ctx, deterministicCore, snapMgr, metrics); err != nil {
					log.Printf("WARN: periodic snapshot failed: %v", err)
				} else {
					lastSnapshotSeq = currentSeq
					log.Printf("INFO: periodic snapshot at sequence %d", currentSeq)
				}
			}
		}
	}
}

// takeSnapshot captures the core's in-memory state and persists it.
// The snapshot is marked verified immediately since it comes from
// live state.
func takeSnapshot(
	ctx context.Context,
	deterministicCore *core.DeterministicCore,
	snapMgr *persistence.SnapshotManager,
	metrics *observability.Metrics,
) error {
	start := time.Now()

	coreSnap := deterministicCore.CreateSnapshotState()
	snapData, err := persistence.SnapshotFromCore(coreSnap)
	if err != nil {
		return fmt.Errorf("convert snapshot: %w", err)
	}

	if err := snapMgr.SaveSnapshot(ctx, snapData); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	if err := snapMgr.MarkVerified(ctx, snapData.Sequence); err != nil {
		log.Printf("WARN: mark snapshot verified failed: %v", err)
	}

	if metrics != nil {
		metrics.SnapshotTaken.Inc()
		metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		metrics.SnapshotLastSeq.Set(float64(snapData.Sequence))
	}

	return nil
}
