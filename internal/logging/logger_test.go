package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func resetForTest() {
	CloseAll()
	configMu.Lock()
	logsDir = ""
	enabled = false
	categories = nil
	logLevel = LevelInfo
	configMu.Unlock()
}

func TestInitializeAndWrite(t *testing.T) {
	defer resetForTest()
	dir := t.TempDir()

	if err := Initialize(dir, "debug", nil); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	Coordinator("turn %s handled", "sess_1")
	StoreDebug("insert took %dms", 3)
	CloseAll()

	date := time.Now().Format("2006-01-02")
	coordPath := filepath.Join(dir, date+"_coordinator.log")
	data, err := os.ReadFile(coordPath)
	if err != nil {
		t.Fatalf("coordinator log missing: %v", err)
	}
	if !strings.Contains(string(data), "turn sess_1 handled") {
		t.Errorf("coordinator log missing message, got: %s", data)
	}

	storePath := filepath.Join(dir, date+"_store.log")
	data, err = os.ReadFile(storePath)
	if err != nil {
		t.Fatalf("store log missing: %v", err)
	}
	if !strings.Contains(string(data), "[DEBUG]") {
		t.Errorf("store log should carry debug line, got: %s", data)
	}
}

func TestCategoryFilter(t *testing.T) {
	defer resetForTest()
	dir := t.TempDir()

	if err := Initialize(dir, "info", []string{"store"}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	if !IsCategoryEnabled(CategoryStore) {
		t.Error("store category should be enabled")
	}
	if IsCategoryEnabled(CategoryWorkflow) {
		t.Error("workflow category should be filtered out")
	}

	Workflow("should not appear anywhere")
	CloseAll()

	date := time.Now().Format("2006-01-02")
	if _, err := os.Stat(filepath.Join(dir, date+"_workflow.log")); !os.IsNotExist(err) {
		t.Error("filtered category must not create a log file")
	}
}

func TestDisabledIsNoOp(t *testing.T) {
	defer resetForTest()
	resetForTest()

	// Without Initialize every call must be safe and silent.
	Agent("into the void")
	Get(CategoryOps).Error("also into the void")
	WithRequestID(CategoryCoordinator, "req-1").Info("still fine")
}

func TestLevelGate(t *testing.T) {
	defer resetForTest()
	dir := t.TempDir()

	if err := Initialize(dir, "warn", nil); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	l := Get(CategoryOps)
	l.Info("below the gate")
	l.Warn("at the gate")
	CloseAll()

	date := time.Now().Format("2006-01-02")
	data, err := os.ReadFile(filepath.Join(dir, date+"_ops.log"))
	if err != nil {
		t.Fatalf("ops log missing: %v", err)
	}
	if strings.Contains(string(data), "below the gate") {
		t.Error("info line should be gated at warn level")
	}
	if !strings.Contains(string(data), "at the gate") {
		t.Error("warn line should be written")
	}
}

func TestTimer(t *testing.T) {
	defer resetForTest()
	dir := t.TempDir()

	if err := Initialize(dir, "debug", nil); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	timer := StartTimer(CategoryRetrieval, "vector query")
	time.Sleep(5 * time.Millisecond)
	elapsed := timer.Stop()
	if elapsed < 5*time.Millisecond {
		t.Errorf("timer measured %v, want >= 5ms", elapsed)
	}

	slow := StartTimer(CategoryRetrieval, "slow op")
	time.Sleep(2 * time.Millisecond)
	slow.StopWithThreshold(time.Microsecond)
	CloseAll()

	date := time.Now().Format("2006-01-02")
	data, err := os.ReadFile(filepath.Join(dir, date+"_retrieval.log"))
	if err != nil {
		t.Fatalf("retrieval log missing: %v", err)
	}
	if !strings.Contains(string(data), "vector query completed") {
		t.Error("timer stop line missing")
	}
	if !strings.Contains(string(data), "[WARN]") {
		t.Error("threshold breach should warn")
	}
}
