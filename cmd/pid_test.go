package cmd

import (
	"os"
	"strconv"
	"testing"
	"time"
)

func TestPIDFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	t.Run("WritePIDFile", func(t *testing.T) {
		err := WritePIDFile()
		if err != nil {
			t.Fatal(err)
		}

		pidPath := GetPIDFilePath()
		if _, err := os.Stat(pidPath); os.IsNotExist(err) {
			t.Fatal("PID file should exist")
		}

		data, err := os.ReadFile(pidPath)
		if err != nil {
			t.Fatal(err)
		}

		expectedPID := strconv.Itoa(os.Getpid())
		if string(data) != expectedPID {
			t.Fatalf("expected PID %s, got %s", expectedPID, string(data))
		}
	})

	t.Run("ReadPIDFile", func(t *testing.T) {
		if err := WritePIDFile(); err != nil {
			t.Fatal(err)
		}

		pid, err := ReadPIDFile()
		if err != nil {
			t.Fatal(err)
		}

		if pid != os.Getpid() {
			t.Fatalf("expected PID %d, got %d", os.Getpid(), pid)
		}
	})

	t.Run("ReadPIDFileNotExist", func(t *testing.T) {
		os.Remove(GetPIDFilePath())

		if _, err := ReadPIDFile(); err == nil {
			t.Fatal("expected error when PID file doesn't exist")
		}
	})

	t.Run("RemovePIDFile", func(t *testing.T) {
		if err := WritePIDFile(); err != nil {
			t.Fatal(err)
		}
		if err := RemovePIDFile(); err != nil {
			t.Fatal(err)
		}
		if _, err := os.Stat(GetPIDFilePath()); !os.IsNotExist(err) {
			t.Fatal("PID file should be removed")
		}
	})

	t.Run("IsProcessRunning", func(t *testing.T) {
		if !IsProcessRunning(os.Getpid()) {
			t.Fatal("current process should be running")
		}
		if IsProcessRunning(99999999) {
			t.Fatal("absurd PID should not be running")
		}
	})
}

func TestTaskInfo(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	info := &TaskInfo{
		PID:            os.Getpid(),
		StartTime:      time.Now(),
		RunID:          "run-123",
		RunFolder:      "KoboMedia_20250120_120000",
		CurrentTask:    "transferring",
		CurrentForm:    "Fuel Receipts",
		TotalForms:     3,
		CompletedForms: 1,
	}

	if err := WriteTaskInfo(info); err != nil {
		t.Fatal(err)
	}

	loaded, err := ReadTaskInfo()
	if err != nil {
		t.Fatal(err)
	}

	if loaded.RunID != "run-123" {
		t.Fatalf("expected run ID run-123, got %s", loaded.RunID)
	}
	if loaded.TotalForms != 3 || loaded.CompletedForms != 1 {
		t.Fatalf("unexpected form counters: %+v", loaded)
	}
	if loaded.LastUpdate.IsZero() {
		t.Fatal("LastUpdate should be stamped on write")
	}

	if err := RemoveTaskFile(); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadTaskInfo(); err == nil {
		t.Fatal("expected error after task file removal")
	}
}
