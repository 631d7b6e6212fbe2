package metaphysfs

import (
	"sync"
	"testing"
)

func TestErrorMessage(t *testing.T) {
	err := newError(NotFound, "open", "/missing.txt")
	want := "open: not found: /missing.txt"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestLastErrorCodeTracksCallingGoroutine(t *testing.T) {
	SetErrorCode(OK)
	if GetLastErrorCode() != OK {
		t.Fatalf("GetLastErrorCode() = %v, want OK", GetLastErrorCode())
	}

	newError(Corrupt, "test", "")
	if GetLastErrorCode() != Corrupt {
		t.Fatalf("GetLastErrorCode() = %v, want Corrupt", GetLastErrorCode())
	}
}

func TestLastErrorCodeIsPerGoroutine(t *testing.T) {
	SetErrorCode(OK)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		SetErrorCode(Busy)
		if GetLastErrorCode() != Busy {
			t.Errorf("other goroutine's last error leaked in, got %v", GetLastErrorCode())
		}
	}()
	wg.Wait()

	if GetLastErrorCode() != OK {
		t.Fatalf("this goroutine's last error changed unexpectedly: %v", GetLastErrorCode())
	}
}

func TestGetErrorString(t *testing.T) {
	if GetErrorString(NotFound) != "not found" {
		t.Fatalf("GetErrorString(NotFound) = %q", GetErrorString(NotFound))
	}
	if GetErrorString(ErrorCode(9999)) != "unknown error code" {
		t.Fatalf("GetErrorString() for an unknown code should have a fallback message")
	}
}
