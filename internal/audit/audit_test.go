package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rankgate/rankgate/internal/db"
	"github.com/rankgate/rankgate/internal/engine"
	"github.com/rankgate/rankgate/internal/models"
	"github.com/rankgate/rankgate/internal/rule"
	"github.com/rankgate/rankgate/internal/store"
)

func TestRecordBlockPersistsEvent(t *testing.T) {
	conn, errOpen := db.Open(filepath.Join(t.TempDir(), "audit.db"))
	if errOpen != nil {
		t.Fatalf("Open() error = %v", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("Migrate() error = %v", errMigrate)
	}

	sink := NewGormSink(conn)
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sink.RecordBlock(context.Background(), engine.BlockRecord{
		Key:       store.Key{Endpoint: "GET /api", Group: "default", CallerID: "ip:10.0.0.1"},
		RankIndex: 1,
		Rule: rule.Snapshot{
			Mode:      rule.ModeCount,
			Hits:      5,
			BlockTime: time.Minute,
			Reason:    "max hits per time exceeded",
		},
		At: at,
	})

	var row models.BlockEvent
	if errFind := conn.Take(&row).Error; errFind != nil {
		t.Fatalf("Take() error = %v", errFind)
	}
	if row.EndpointKey != "GET /api" || row.CallerID != "ip:10.0.0.1" {
		t.Fatalf("row = %+v", row)
	}
	if row.RankIndex != 1 || row.Mode != string(rule.ModeCount) {
		t.Fatalf("row = %+v", row)
	}
	if row.BlockMillis != time.Minute.Milliseconds() {
		t.Fatalf("BlockMillis = %d, want %d", row.BlockMillis, time.Minute.Milliseconds())
	}
	if len(row.Rule) == 0 {
		t.Fatal("rule snapshot should be persisted")
	}
}

func TestRecordBlockNilSinkIsSafe(t *testing.T) {
	var sink *GormSink
	sink.RecordBlock(context.Background(), engine.BlockRecord{})
}
